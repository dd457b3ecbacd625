package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the google-token-relay application
var rootCmd = &cobra.Command{
	Use:   "google-token-relay",
	Short: "Relays Google OAuth token requests for public clients",
	Long: `google-token-relay lets a desktop client complete Google OAuth 2.0
authorization code (PKCE) and refresh token exchanges without shipping the
client secret. The relay adds the secret server-side, forwards the request
to Google's token endpoint and returns Google's answer unchanged.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "google-token-relay version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
