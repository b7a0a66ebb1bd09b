package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"nexurabuild/internal/auth"
)

func (a *app) tokenCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.RequireTokenSecret(); err != nil {
				return err
			}
			ctx := cmd.Context()
			svc, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			caller, err := svc.ResolveCaller(ctx, email)
			if err != nil {
				return err
			}
			issuer, err := auth.NewIssuer(a.cfg.TokenSecret, auth.WithTTL(a.cfg.TokenTTL))
			if err != nil {
				return err
			}
			token, err := issuer.Issue(auth.Identity{Email: caller.Email, Role: string(caller.Role)})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "subject email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
