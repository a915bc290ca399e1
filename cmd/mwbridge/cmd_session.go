package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/atsika/mwbridge"
)

var sessionCmd = &cobra.Command{
	Use:   "session <session-uri> <session-guid>",
	Short: "Fetch and print session data",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		client, err := mwbridge.New(args[0], args[1], nil, buildOptions(a.cfg)...)
		if err != nil {
			return fmt.Errorf("constructing client: %w", err)
		}
		if err := client.Initialize(ctx); err != nil {
			return fmt.Errorf("initializing session: %w", err)
		}
		session, err := client.GetSessionData()
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(session)
	},
}
