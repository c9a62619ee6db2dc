package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/teetime-scheduler/internal/auth"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(newUserAddCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var username, password string

	c := &cobra.Command{
		Use:   "add",
		Short: "Add a local user (username/password)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, a *app) error {
				store := auth.NewStore(a.users, a.cfg.CookieHashKey, a.cfg.CookieBlockKey)
				if err := store.CreateUser(ctx, username, password); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "created user %q\n", username)
				return nil
			})
		},
	}

	c.Flags().StringVar(&username, "username", "", "username")
	c.Flags().StringVar(&password, "password", "", "password")
	_ = c.MarkFlagRequired("username")
	_ = c.MarkFlagRequired("password")
	return c
}
