package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileConfigParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "sni_endpoint: http://127.0.0.1:9999\npoll_seconds: 2\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var cfg fileConfig
	if err := loadFileConfig(path, &cfg); err != nil {
		t.Fatalf("loadFileConfig: %v", err)
	}
	if cfg.SNIEndpoint != "http://127.0.0.1:9999" {
		t.Errorf("SNIEndpoint = %q, want http://127.0.0.1:9999", cfg.SNIEndpoint)
	}
	if cfg.PollSeconds != 2 {
		t.Errorf("PollSeconds = %d, want 2", cfg.PollSeconds)
	}
}

func TestLoadFileConfigMissingFile(t *testing.T) {
	var cfg fileConfig
	if err := loadFileConfig("/no/such/file.yaml", &cfg); err == nil {
		t.Fatal("expected error for a missing config file")
	}
}

func TestBuildOptionsOmitsZeroFields(t *testing.T) {
	opts := buildOptions(fileConfig{})
	if len(opts) != 0 {
		t.Errorf("buildOptions(zero value) returned %d options, want 0", len(opts))
	}
}

func TestBuildOptionsTranslatesSetFields(t *testing.T) {
	cfg := fileConfig{SNIEndpoint: "http://host:1234", PollSeconds: 3}
	opts := buildOptions(cfg)
	if len(opts) != 2 {
		t.Fatalf("buildOptions returned %d options, want 2 (sni endpoint + poll)", len(opts))
	}
}
