// mwbridge is a small operator-facing binary exercising the Client facade
// end to end: fetch a session, register or log in a player, list consoles,
// and drive the Update loop against a connected device.
//
//	mwbridge session <session-uri> <session-guid>
//	mwbridge register <session-uri> <session-guid> <world-id>
//	mwbridge login <session-uri> <session-guid> <client-guid>
//	mwbridge devices <session-uri> <session-guid>
//	mwbridge run <session-uri> <session-guid> <device-name>
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// fileConfig is the optional YAML config loaded via --config; any field the
// host leaves zero falls back to the package default (no command-line flag
// sets these fields).
type fileConfig struct {
	SNIEndpoint       string `yaml:"sni_endpoint"`
	USB2SNESEndpoint  string `yaml:"usb2snes_endpoint"`
	USB2SNESLegacyURI string `yaml:"usb2snes_legacy_endpoint"`
	ItemsBase         uint32 `yaml:"items_base"`
	SeedData          uint32 `yaml:"seed_data"`
	PollSeconds       int    `yaml:"poll_seconds"`
}

// app holds CLI state shared across all subcommands.
type app struct {
	configPath string
	cfg        fileConfig
}

var a = &app{}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "mwbridge",
	Short:         "Console bridge CLI for multiworld randomizer sessions",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if a.configPath == "" {
			return nil
		}
		return loadFileConfig(a.configPath, &a.cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "optional YAML config file")
	rootCmd.AddCommand(sessionCmd, registerCmd, loginCmd, devicesCmd, runCmd)
}
