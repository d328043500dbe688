package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/tether/internal/model"
)

const settlePollInterval = 200 * time.Millisecond

func newSendCommand(client *apiClient) *cobra.Command {
	var (
		mode   string
		reason string
		wait   bool
	)

	cmd := &cobra.Command{
		Use:   "send <payload-json>",
		Short: "Submit a request to the worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := json.RawMessage(args[0])
			if !json.Valid(payload) {
				return fmt.Errorf("payload is not valid JSON")
			}

			rec, err := client.submit(payload, mode, reason)
			if err != nil {
				return err
			}

			if !wait {
				return printRecord(cmd, rec)
			}

			for !model.Terminal(rec.Status) {
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(settlePollInterval):
				}
				rec, err = client.get(rec.ID)
				if err != nil {
					return err
				}
			}
			return printRecord(cmd, rec)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", model.ModeEnqueue, "send mode: enqueue, override, or override_after_current")
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason applied to displaced requests")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the request settles")

	return cmd
}

func printRecord(cmd *cobra.Command, rec *model.Request) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
