package main

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultAddr = "http://localhost:8080"

func newRootCommand() *cobra.Command {
	client := &apiClient{}

	rootCmd := &cobra.Command{
		Use:           "tether",
		Short:         "Control a tetherd coordination daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	addr := defaultAddr
	if v := os.Getenv("TETHER_ADDR"); v != "" {
		addr = v
	}
	rootCmd.PersistentFlags().StringVar(&client.base, "addr", addr, "base URL of the tetherd API")

	rootCmd.AddCommand(
		newSendCommand(client),
		newGetCommand(client),
		newListCommand(client),
		newCancelCommand(client),
		newRestartCommand(client),
	)

	return rootCmd
}
