package main

import (
	"fmt"

	auth "github.com/hbsportsdirector/rstse-sub000"
	"github.com/hbsportsdirector/rstse-sub000/repository"
	"github.com/spf13/cobra"
)

func newMigrateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply profile and identity migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			db, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			report, err := repository.Migrate(ctx, db)
			if err != nil {
				return err
			}
			if report.IsZero() {
				fmt.Fprintln(cmd.OutOrStdout(), "no new migrations")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated to %s\n", report)
			return nil
		},
	}
}

func newRegisterCmd(load configLoader) *cobra.Command {
	var (
		input auth.RegisterInput
		role  string
		team  string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and profile, then print the signed in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.reconciler.Start(ctx); err != nil {
				return err
			}

			input.Role = auth.UserRole(role)
			if team != "" {
				input.TeamID = &team
			}
			if _, err := a.reconciler.Register(ctx, input); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), a.output(ctx))
		},
	}

	cmd.Flags().StringVar(&input.Email, "email", "", "account email")
	cmd.Flags().StringVar(&input.Password, "password", "", "account password")
	cmd.Flags().StringVar(&input.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&input.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&role, "role", string(auth.DefaultRole), "club role (player, coach, parent, admin)")
	cmd.Flags().StringVar(&team, "team", "", "team id")
	return cmd
}

func newLoginCmd(load configLoader) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and wait for the profile to reconcile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag("email", email); err != nil {
				return err
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.reconciler.Start(ctx); err != nil {
				return err
			}
			if _, err := a.reconciler.Login(ctx, email, password); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), a.output(ctx))
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}

func newWhoamiCmd(load configLoader) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Restore a session from an access token and print its profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag("token", token); err != nil {
				return err
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			if _, err := a.provider.RestoreSession(ctx, token); err != nil {
				return err
			}
			if err := a.reconciler.Start(ctx); err != nil {
				return err
			}
			if err := a.reconciler.WaitReady(ctx); err != nil {
				return err
			}

			out := a.output(ctx)
			if out.User == nil {
				return fmt.Errorf("%w: no profile for session", auth.ErrProfileNotFound)
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "access token printed by login or register")
	return cmd
}
