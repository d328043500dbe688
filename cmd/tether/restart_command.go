package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRestartCommand(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "restart-worker",
		Short: "Replace the worker process, canceling pending requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.restartWorker(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "worker restarted")
			return nil
		},
	}
}
