package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"archive/api/internal/review"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "submit",
		Short: "Submit your profile for steward review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, _, err := ctx.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			result, err := ws.Submit(cmd.Context())
			if err != nil {
				if errors.Is(err, review.ErrNotReady) || errors.Is(err, review.ErrInvalidTransition) {
					return err
				}
				return describe(err)
			}
			ws.Flush()
			if ctx.json() {
				return writeJSON(cmd, result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted %s; %d %s notified\n",
				humanize.Time(result.SubmittedAt),
				len(result.StewardsToNotify),
				plural(len(result.StewardsToNotify), "steward", "stewards"),
			)
			return nil
		},
	}
}

func newWithdrawCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw",
		Short: "Withdraw a pending submission back to draft",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, _, err := ctx.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			if err := ws.Withdraw(cmd.Context()); err != nil {
				if errors.Is(err, review.ErrInvalidTransition) {
					return fmt.Errorf("profile is %s; only a pending submission can be withdrawn", ws.Profile().Status)
				}
				return describe(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Submission withdrawn; the profile is editable again")
			return nil
		},
	}
}

type decisionFlags struct {
	decision string
	note     string
}

func (f *decisionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.decision, "decision", "", "approve, reject or request_changes")
	cmd.Flags().StringVar(&f.note, "note", "", "Note shown to the owner on reject or request_changes")
}

func (f *decisionFlags) validate() error {
	if _, err := review.ParseDecision(f.decision); err != nil {
		return err
	}
	return nil
}

func newReviewCommand(ctx *commandContext) *cobra.Command {
	var flags decisionFlags
	cmd := &cobra.Command{
		Use:   "review PROFILE_ID",
		Short: "Record a steward decision on a submitted profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			cli, _, err := ctx.sessionClient()
			if err != nil {
				return err
			}
			profile, err := cli.ReviewProfile(cmd.Context(), args[0], flags.decision, flags.note)
			if err != nil {
				return describe(err)
			}
			if ctx.json() {
				return writeJSON(cmd, profile)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", fallback(profile.Name, profile.ID), statusLabel(string(profile.Status)))
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newReviewItemCommand(ctx *commandContext) *cobra.Command {
	var flags decisionFlags
	cmd := &cobra.Command{
		Use:   "review-item ITEM_ID",
		Short: "Record a steward decision on a single item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			cli, _, err := ctx.sessionClient()
			if err != nil {
				return err
			}
			item, err := cli.ReviewArchiveItem(cmd.Context(), args[0], flags.decision, flags.note)
			if err != nil {
				return describe(err)
			}
			if ctx.json() {
				return writeJSON(cmd, item)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", item.ID, statusLabel(string(item.Status)))
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func statusLabel(status string) string {
	return strings.ReplaceAll(status, "_", " ")
}
