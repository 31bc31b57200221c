package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"archive/api/internal/archive"
	"archive/api/internal/client"
	"archive/api/internal/rbac"
)

func newItemsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "items",
		Short: "List every item of your profile in display order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, _, err := ctx.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			return printItems(cmd, ctx, ws.Items())
		},
	}
}

func newPreviewCommand(ctx *commandContext) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show what a viewer with the given role would see",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			normalized := rbac.Role(strings.ToLower(strings.TrimSpace(role)))
			if rbac.Normalize(string(normalized)) != normalized {
				return fmt.Errorf("unknown role %q (use public, connection, family or steward)", role)
			}
			ws, _, _, err := ctx.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			return printItems(cmd, ctx, ws.Preview(normalized))
		},
	}
	cmd.Flags().StringVar(&role, "as", string(rbac.RolePublic), "Viewer role (public, connection, family, steward)")
	return cmd
}

func printItems(cmd *cobra.Command, ctx *commandContext, items []archive.Contribution) error {
	if ctx.json() {
		return writeJSON(cmd, items)
	}
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No items")
		return nil
	}
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			string(item.ItemType),
			strconv.Itoa(item.DisplayOrder),
			fallback(item.Title, "(untitled)"),
			item.Visibility.String(),
			string(item.Status),
			item.ID,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Type", "#", "Title", "Visibility", "Status", "ID"},
		rows,
		[]columnAlignment{alignLeft, alignRight},
	))
	return nil
}

func newMoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "move ITEM_ID POSITION",
		Short: "Move an item to a 1-based position within its type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			position, err := strconv.Atoi(args[1])
			if err != nil || position < 1 {
				return fmt.Errorf("invalid position %q", args[1])
			}
			ws, _, _, err := ctx.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			if ws.Locked() {
				return fmt.Errorf("profile is awaiting review; items cannot be reordered")
			}
			item, ok := ws.Item(args[0])
			if !ok {
				return fmt.Errorf("item %s not found", args[0])
			}
			if err := ws.Drop(cmd.Context(), item.ItemType, item.ID, position-1); err != nil {
				if banner := ws.Board().Banner(); banner != "" {
					return fmt.Errorf("%s: %w", banner, describe(err))
				}
				return describe(err)
			}
			return printItems(cmd, ctx, ws.Board().Partition(item.ItemType))
		},
	}
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ITEM_ID",
		Short: "Delete an item and close the gap in its type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, _, err := ctx.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			deleted, err := ws.Delete(cmd.Context(), args[0])
			if err != nil {
				return describe(err)
			}
			if !deleted {
				return fmt.Errorf("item %s is awaiting review and cannot be deleted", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newURLCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "url ITEM_ID",
		Short: "Print a signed link to an item's file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, _, err := ctx.sessionClient()
			if err != nil {
				return err
			}
			url, err := cli.ItemURL(cmd.Context(), args[0])
			if err != nil {
				return describe(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var (
		itemType   string
		title      string
		body       string
		occurredOn string
		visibility string
		links      []string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a text, moment or person item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseVisibility(visibility)
			if err != nil {
				return err
			}
			parsedType, err := archive.ParseItemType(itemType)
			if err != nil {
				return err
			}
			cli, s, err := ctx.sessionClient()
			if err != nil {
				return err
			}
			req := client.AddRequest{
				ProfileID:  s.ProfileID,
				ItemType:   parsedType,
				Title:      title,
				Body:       body,
				OccurredOn: occurredOn,
				Visibility: level,
			}
			for _, label := range links {
				req.Links = append(req.Links, archive.Link{Label: label})
			}
			item, err := cli.AddArchiveItem(cmd.Context(), req)
			if err != nil {
				return describe(err)
			}
			if ctx.json() {
				return writeJSON(cmd, item)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s %s at position %d\n", item.ItemType, item.ID, item.DisplayOrder)
			return nil
		},
	}
	cmd.Flags().StringVar(&itemType, "type", string(archive.ItemText), "Item type (text, moment, person)")
	cmd.Flags().StringVar(&title, "title", "", "Title")
	cmd.Flags().StringVar(&body, "body", "", "Body text")
	cmd.Flags().StringVar(&occurredOn, "occurred-on", "", "Date of a moment (YYYY-MM-DD)")
	cmd.Flags().StringVar(&visibility, "visibility", "", "Visibility (draft, family, connections, public)")
	cmd.Flags().StringArrayVar(&links, "link", nil, "Suggested link to a person or place; repeatable")
	return cmd
}
