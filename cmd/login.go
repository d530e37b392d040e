package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/graphiti-browser/internal/app"
)

func loginCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the API token in the system keyring",
		Long: `Store the bearer token sent to the backend services. The token is read from
--token, from a hidden prompt on a terminal, or from stdin when piped:

  echo "$TOKEN" | graphiti-browser login`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				t, err := readSecret("API token", "Bearer token sent to the graph, agent and model services")
				if err != nil {
					return err
				}
				token = t
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return fail("empty token")
			}
			if err := app.SaveToken(token); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "Token saved to keyring.")
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "API token")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the API token from the system keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.DeleteToken(); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "Token removed.")
			return nil
		},
	}
}
