package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/senosalud/clinicsdk/internal/clinic/app"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinicctl",
		Short: "Authenticated client for the clinic backend",
		Long: `clinicctl signs in to the clinic backend, keeps the access token
fresh, and issues authenticated API requests.

Configuration comes from the environment (and .env): CLINIC_API_BASE_URL,
CLINIC_API_PREFIX, CLINIC_AUTH_PREFIX, CLINIC_STATE_DIR and friends.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		loginCmd(),
		logoutCmd(),
		whoamiCmd(),
		requestCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newApp() (*app.Application, error) {
	return app.New(app.LoadConfig())
}
