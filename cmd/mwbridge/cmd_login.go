package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/atsika/mwbridge"
)

var loginCmd = &cobra.Command{
	Use:   "login <session-uri> <session-guid> <client-guid>",
	Short: "Log in as an existing client",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		client, err := mwbridge.New(args[0], args[1], nil, buildOptions(a.cfg)...)
		if err != nil {
			return fmt.Errorf("constructing client: %w", err)
		}
		if err := client.LoginPlayer(ctx, args[2]); err != nil {
			return fmt.Errorf("logging in: %w", err)
		}
		info, err := client.GetClientData()
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(info)
	},
}
