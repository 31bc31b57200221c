package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newLoginCommand(ctx *commandContext) *cobra.Command {
	var (
		name    string
		email   string
		steward bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Open a session and store its token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name is required")
			}
			cli, s, err := ctx.anonymousClient()
			if err != nil {
				return err
			}
			kind := "owner"
			if steward {
				kind = "steward"
			}
			session, err := cli.Login(cmd.Context(), name, email, kind)
			if err != nil {
				return describe(err)
			}
			s.Token = session.Token
			s.UserName = session.UserName
			s.Kind = session.Kind
			s.ProfileID = session.ProfileID
			if err := ctx.saveSettings(s); err != nil {
				return err
			}
			if ctx.json() {
				return writeJSON(cmd, session)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Signed in as %s (%s)\n", session.UserName, session.Kind)
			if session.ProfileID != "" {
				fmt.Fprintf(out, "Profile: %s\n", session.ProfileID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&email, "email", "", "Email address for review notifications")
	cmd.Flags().BoolVar(&steward, "steward", false, "Sign in as a steward")
	return cmd
}

func newLogoutCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			s.Token, s.UserName, s.Kind, s.ProfileID = "", "", "", ""
			if err := ctx.saveSettings(s); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}
