package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/tether/internal/model"
)

func newListCommand(client *apiClient) *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client.list(limit, offset)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if !isTerminal(w) {
				data, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					return fmt.Errorf("encode list: %w", err)
				}
				fmt.Fprintln(w, string(data))
				return nil
			}

			rows := make([][]string, 0, len(out.Requests))
			for _, r := range out.Requests {
				rows = append(rows, []string{
					r.ID,
					r.Status,
					r.Mode,
					formatProgress(r),
					r.CreatedAt.Local().Format(time.RFC3339),
				})
			}
			fmt.Fprintln(w, renderTable([]string{"ID", "STATUS", "MODE", "PROGRESS", "CREATED"}, rows))
			fmt.Fprintf(w, "%d of %d requests\n", len(out.Requests), out.Total)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum requests to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "offset into the request history")

	return cmd
}

func formatProgress(r *model.Request) string {
	if model.Terminal(r.Status) {
		return "-"
	}
	if r.Progress == nil {
		return ""
	}
	return strconv.FormatFloat(*r.Progress, 'f', 1, 64) + "%"
}
