package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/senosalud/clinicsdk/pkg/authclient"
)

func logoutCmd() *cobra.Command {
	var noRevoke bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear stored tokens",
		Long: `Clear the local token state, persisted session and refresh token.
The backend session is also revoked unless --no-revoke is given; revoke
failures never block the local sign-out.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			application.Auth().Logout(cmd.Context(), authclient.LogoutOptions{
				WithServerRevoke: !noRevoke,
			})
			fmt.Println("Signed out")
			return nil
		},
	}

	cmd.Flags().BoolVar(&noRevoke, "no-revoke", false, "Skip the server-side session revoke")

	return cmd
}
