package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"archive/api/internal/archive"
)

func newProfileCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or edit your profile",
	}
	cmd.AddCommand(newProfileShowCommand(ctx))
	cmd.AddCommand(newProfileSetCommand(ctx))
	return cmd
}

func newProfileShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the profile and whether it can be submitted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, _, err := ctx.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			p := ws.Profile()
			readiness := ws.Readiness()
			if ctx.json() {
				return writeJSON(cmd, map[string]any{
					"profile":    p,
					"ready":      readiness.Ready(),
					"can_submit": ws.CanSubmit(),
					"unmet":      readiness.Unmet,
				})
			}
			rows := [][]string{
				{"ID", p.ID},
				{"Name", fallback(p.Name, "(not set)")},
				{"Introduction", fmt.Sprintf("%d characters", len([]rune(p.Introduction)))},
				{"Status", string(p.Status)},
				{"Items", fmt.Sprintf("%d", len(ws.Items()))},
			}
			if p.ReviewerNote != "" {
				rows = append(rows, []string{"Reviewer note", p.ReviewerNote})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
			if msg := readiness.Message(); msg != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Not ready to submit: %s\n", msg)
			} else if ws.CanSubmit() {
				fmt.Fprintln(cmd.OutOrStdout(), "Ready to submit")
			}
			return nil
		},
	}
}

func newProfileSetCommand(ctx *commandContext) *cobra.Command {
	var (
		name  string
		intro string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change the profile name or introduction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nameSet := cmd.Flags().Changed("name")
			introSet := cmd.Flags().Changed("intro")
			if !nameSet && !introSet {
				return fmt.Errorf("nothing to change; pass --name or --intro")
			}
			ws, _, _, err := ctx.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			if ws.Locked() {
				return fmt.Errorf("profile is awaiting review; withdraw it to make changes")
			}
			if nameSet {
				if _, err := ws.SetName(cmd.Context(), strings.TrimSpace(name)); err != nil {
					return describe(err)
				}
			}
			if introSet {
				if _, err := ws.SetIntroduction(cmd.Context(), strings.TrimSpace(intro)); err != nil {
					return describe(err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Profile updated")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Profile name")
	cmd.Flags().StringVar(&intro, "intro", "", "Profile introduction")
	return cmd
}

func fallback(value, placeholder string) string {
	if strings.TrimSpace(value) == "" {
		return placeholder
	}
	return value
}

func parseVisibility(value string) (archive.Visibility, error) {
	if strings.TrimSpace(value) == "" {
		return archive.VisibilityDraft, nil
	}
	level, err := archive.ParseVisibility(value)
	if err != nil {
		names := make([]string, 0, 4)
		for _, v := range archive.Visibilities() {
			names = append(names, v.String())
		}
		return archive.VisibilityDraft, fmt.Errorf("%w (choose from %s)", err, strings.Join(names, ", "))
	}
	return level, nil
}
