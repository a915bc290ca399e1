package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/atsika/mwbridge"
)

var (
	runClientGUID string
	runWorldID    int
	runInterval   time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <session-uri> <session-guid> <device-name>",
	Short: "Drive the reconciliation loop against a connected device",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionURI, sessionGUID, device := args[0], args[1], args[2]

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := mwbridge.New(sessionURI, sessionGUID, printNotification, buildOptions(a.cfg)...)
		if err != nil {
			return fmt.Errorf("constructing client: %w", err)
		}
		defer client.Close(ctx)

		if err := client.Initialize(ctx); err != nil {
			return fmt.Errorf("initializing session: %w", err)
		}

		if runClientGUID != "" {
			if err := client.LoginPlayer(ctx, runClientGUID); err != nil {
				return fmt.Errorf("logging in: %w", err)
			}
		} else {
			if err := client.RegisterPlayer(ctx, runWorldID); err != nil {
				return fmt.Errorf("registering player: %w", err)
			}
		}

		if err := client.Start("smz3", "multiworld", device); err != nil {
			return fmt.Errorf("starting engine: %w", err)
		}

		ticker := time.NewTicker(runInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := client.Update(ctx); err != nil {
					fmt.Fprintf(os.Stderr, "tick error: %v\n", err)
				}
			}
		}
	},
}

func printNotification(code mwbridge.MessageCode, args []string) {
	fmt.Printf("[%s] %v\n", code, args)
}

func init() {
	runCmd.Flags().StringVar(&runClientGUID, "client-guid", "", "log in as an existing client instead of registering")
	runCmd.Flags().IntVar(&runWorldID, "world-id", 0, "world id to register for when --client-guid is not set")
	runCmd.Flags().DurationVar(&runInterval, "interval", 500*time.Millisecond, "tick interval")
}
