package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/senosalud/clinicsdk/pkg/apiclient"
)

func requestCmd() *cobra.Command {
	var (
		method string
		data   string
		noAuth bool
	)

	cmd := &cobra.Command{
		Use:   "request <path>",
		Short: "Issue an authenticated API request",
		Long: `Send a request through the authenticated pipeline and print the JSON
response. The path is resolved against the configured base URL and API
prefix; absolute URLs pass through unchanged. Expired tokens are refreshed
automatically, including the transparent retry after a 401.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}

			opts := apiclient.Options{Method: method, NoAuth: noAuth}
			if data != "" {
				var payload any
				if err := json.Unmarshal([]byte(data), &payload); err != nil {
					return fmt.Errorf("parse --data as JSON: %w", err)
				}
				opts.Data = payload
			}

			result, err := application.API().Do(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			if result.Data == nil {
				fmt.Fprintf(os.Stderr, "%d (empty response)\n", result.Status)
				return nil
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(result.Data)
		},
	}

	cmd.Flags().StringVarP(&method, "method", "X", "GET", "HTTP method")
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body (query parameters for GET)")
	cmd.Flags().BoolVar(&noAuth, "no-auth", false, "Skip the Authorization header and 401 retry")

	return cmd
}
