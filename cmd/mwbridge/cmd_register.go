package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/atsika/mwbridge"
)

var registerCmd = &cobra.Command{
	Use:   "register <session-uri> <session-guid> <world-id>",
	Short: "Register a new player for a world",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		worldID, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid world-id %q: %w", args[2], err)
		}

		ctx := context.Background()
		client, err := mwbridge.New(args[0], args[1], nil, buildOptions(a.cfg)...)
		if err != nil {
			return fmt.Errorf("constructing client: %w", err)
		}
		if err := client.RegisterPlayer(ctx, worldID); err != nil {
			return fmt.Errorf("registering player: %w", err)
		}
		info, err := client.GetClientData()
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(info)
	},
}
