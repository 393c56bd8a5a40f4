package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rollcall/internal/api"
	"rollcall/internal/attendance"
	"rollcall/internal/auth"
)

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a bearer token for a directory user",
		Long: "Mint a bearer token for a directory user. The token is signed locally " +
			"with auth.jwt_secret, so the daemon does not need to be running.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user id", args[0])
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := attendance.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			user, err := store.GetUser(cmd.Context(), userID)
			if err != nil {
				return err
			}
			lifetime := ttl
			if lifetime <= 0 {
				lifetime = time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute
			}
			token, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, lifetime).Issue(user.Principal())
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, struct {
					Token string   `json:"token"`
					User  api.User `json:"user"`
				}{Token: token, User: api.FromUser(*user)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to auth.token_ttl_minutes)")
	return cmd
}
