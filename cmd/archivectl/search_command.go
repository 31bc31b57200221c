package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"archive/api/internal/client"
)

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var req client.SearchRequest
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search publicly visible items",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Query = strings.Join(args, " ")
			cli, _, err := ctx.anonymousClient()
			if err != nil {
				return err
			}
			result, err := cli.SearchArchive(cmd.Context(), req)
			if err != nil {
				return describe(err)
			}
			if ctx.json() {
				return writeJSON(cmd, result)
			}
			if len(result.Results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matches")
				return nil
			}
			rows := make([][]string, 0, len(result.Results))
			for _, hit := range result.Results {
				rows = append(rows, []string{hit.ItemType, fallback(hit.Title, "(untitled)"), hit.ProfileName, hit.Snippet, hit.ID})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Type", "Title", "Profile", "Snippet", "ID"}, rows, nil))
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d %s\n", len(result.Results), result.Total, plural(result.Total, "match", "matches"))
			return nil
		},
	}
	cmd.Flags().StringVar(&req.ProfileID, "profile", "", "Limit to one profile")
	cmd.Flags().StringVar(&req.ItemType, "type", "", "Limit to one item type")
	cmd.Flags().IntVar(&req.Limit, "limit", 20, "Maximum results")
	return cmd
}
