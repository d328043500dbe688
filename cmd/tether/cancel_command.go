package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCommand(client *apiClient) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel every pending request and restart the worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.cancelAll(reason); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all pending requests canceled")
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason recorded on each request")

	return cmd
}
