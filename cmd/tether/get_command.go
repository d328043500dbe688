package main

import (
	"github.com/spf13/cobra"
)

func newGetCommand(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := client.get(args[0])
			if err != nil {
				return err
			}
			return printRecord(cmd, rec)
		},
	}
}
