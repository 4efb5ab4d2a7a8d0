package cli

import (
	"github.com/spf13/cobra"

	"github.com/AlxanderArt/HumanOS/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		version.Print(cmd.OutOrStdout(), "api-gateway")
	},
}
