// Package cli holds the wagateway commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/talkincode/wagateway/config"
	"github.com/talkincode/wagateway/internal/app"
)

var (
	version   = "develop"
	buildTime = "unknown"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "wagateway",
	Short:         "Multi-instance WhatsApp gateway",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default wagateway.yml)")
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	app.InitLogger(cfg)
	return cfg, nil
}
