package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/atsika/mwbridge"
)

func loadFileConfig(path string, out *fileConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// buildOptions translates the loaded file config into mwbridge.Options,
// omitting anything left at its zero value so package defaults apply.
func buildOptions(cfg fileConfig) []mwbridge.Option {
	var opts []mwbridge.Option
	if cfg.SNIEndpoint != "" {
		opts = append(opts, mwbridge.WithSNIEndpoint(cfg.SNIEndpoint))
	}
	if cfg.USB2SNESEndpoint != "" || cfg.USB2SNESLegacyURI != "" {
		opts = append(opts, mwbridge.WithUSB2SNESEndpoints(cfg.USB2SNESEndpoint, cfg.USB2SNESLegacyURI))
	}
	if cfg.ItemsBase != 0 || cfg.SeedData != 0 {
		opts = append(opts, mwbridge.WithSRAMBases(cfg.ItemsBase, cfg.SeedData))
	}
	if cfg.PollSeconds > 0 {
		opts = append(opts, mwbridge.WithDataPoll(time.Duration(cfg.PollSeconds)*time.Second))
	}
	return opts
}
