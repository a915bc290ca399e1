package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atsika/mwbridge"
)

var devicesCmd = &cobra.Command{
	Use:   "devices <session-uri> <session-guid>",
	Short: "List devices visible to the first working transport",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		client, err := mwbridge.New(args[0], args[1], nil, buildOptions(a.cfg)...)
		if err != nil {
			return fmt.Errorf("constructing client: %w", err)
		}
		devices, err := client.ListDevices(ctx)
		if err != nil {
			return fmt.Errorf("listing devices: %w", err)
		}
		for _, d := range devices {
			fmt.Printf("%s\t%s\n", d.Name, d.URI)
		}
		return nil
	},
}
