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
	Use:          "worker",
	Short:        "HumanOS worker: scores quality, advances workflows and relays events from the event log",
	SilenceUsage: true,
}

// Execute is the entry point called from cmd/worker/main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ./worker.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug | info | warn | error")
	cliconfig.BindFlags(viper.GetViper(), rootCmd.PersistentFlags(), "log-level")

	rootCmd.AddCommand(serveCmd, cliconfig.NewInitCmd("worker", defaultWorkerYAML, &cfgFile), versionCmd)
}

func initConfig() {
	used, err := cliconfig.Read(viper.GetViper(), "worker", cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if used != "" {
		fmt.Fprintln(os.Stderr, "config:", used)
	}
}
