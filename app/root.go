// Package app implements the main application commands.
package app

import (
	"github.com/spf13/cobra"

	"github.com/TencentBlueKing/bk-user-sub004/internal/config"
)

var cfg config.Config //nolint:gochecknoglobals

var rootCmd = &cobra.Command{ //nolint:gochecknoglobals
	Use:   "bk-user-sync",
	Short: "bk-user-sync keeps tenant identity data in step with external directories",
	Long: `bk-user-sync pulls users and departments from external directories
(LDAP, HTTP APIs, spreadsheets), reconciles them into a canonical per-source
store and projects them into tenant-scoped identities.`,
	Args: cobra.OnlyValidArgs,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
