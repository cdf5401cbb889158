package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func whoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}

			session := application.Sessions().Current()
			if session == nil {
				fmt.Println("Not signed in")
				return nil
			}

			fmt.Printf("User:  %d\n", session.UserID)
			fmt.Printf("Role:  %s\n", session.Role)
			if session.ExpiresAt != nil {
				deadline := time.UnixMilli(*session.ExpiresAt)
				fmt.Printf("Token: expires %s\n", deadline.Format(time.RFC3339))
			} else {
				fmt.Println("Token: no known expiry")
			}
			return nil
		},
	}

	return cmd
}
