package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/senosalud/clinicsdk/pkg/authclient"
)

func loginCmd() *cobra.Command {
	var (
		username string
		password string
		remember bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the clinic backend",
		Long: `Authenticate with the configured login endpoint and store the issued
tokens. With --remember the refresh token is persisted to the encrypted
keystore so the session survives restarts (requires CLINIC_KEYSTORE_SECRET).

The password can also come from the CLINIC_PASSWORD environment variable
or from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}

			if password == "" {
				password = os.Getenv("CLINIC_PASSWORD")
			}
			if password == "" {
				fmt.Fprint(os.Stderr, "Password: ")
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			_, err = application.Auth().Login(cmd.Context(), authclient.LoginOptions{
				Username:             username,
				Password:             password,
				PersistCredentials:   true,
				RememberRefreshToken: remember,
			})
			if err != nil {
				return err
			}

			session := application.Sessions().Current()
			if session == nil {
				return fmt.Errorf("signed in, but the session role could not be determined")
			}
			fmt.Printf("Signed in as user %d (%s)\n", session.UserID, session.Role)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Account username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password (prefer CLINIC_PASSWORD or stdin)")
	cmd.Flags().BoolVar(&remember, "remember", true, "Persist the refresh token to the keystore")
	cmd.MarkFlagRequired("username") //nolint:errcheck

	return cmd
}
