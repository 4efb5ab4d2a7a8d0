package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AlxanderArt/HumanOS/internal/cliconfig"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "scheduler",
	Short:        "HumanOS scheduler: leader-elected periodic maintenance jobs",
	SilenceUsage: true,
}

// Execute is the entry point called from cmd/scheduler/main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ./scheduler.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug | info | warn | error")
	cliconfig.BindFlags(viper.GetViper(), rootCmd.PersistentFlags(), "log-level")

	rootCmd.AddCommand(serveCmd, cliconfig.NewInitCmd("scheduler", defaultSchedulerYAML, &cfgFile), versionCmd)
}

func initConfig() {
	used, err := cliconfig.Read(viper.GetViper(), "scheduler", cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if used != "" {
		fmt.Fprintln(os.Stderr, "config:", used)
	}
}
