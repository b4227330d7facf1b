package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/user/papertrade/backend/internal/auth"
)

func newTokenCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "token <account-id>",
		Short: "Issue a bearer token for an account (development use)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := accountArg(args)
			if err != nil {
				return err
			}
			tokens, err := auth.NewTokens(e.cfg.JWTSecret, e.cfg.JWTIssuer, e.cfg.JWTTTL)
			if err != nil {
				return err
			}
			tok, err := tokens.Issue(accountID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
}
