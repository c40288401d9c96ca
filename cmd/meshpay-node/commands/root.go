package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"meshpaymvp/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "meshpay-node",
	Short: "Store-and-forward payment relay node",
	Long: `meshpay-node runs one node of a local mesh that floods signed payment
requests until an internet-capable peer submits them to the ledger, then
floods the confirmation back toward the sender.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "config file")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	cobra.OnInitialize(func() {
		if debug, _ := rootCmd.PersistentFlags().GetBool("debug"); debug {
			_ = os.Setenv("MESHPAY_DEBUG", "1")
		}
	})
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "meshpay.yaml"
	}
	return filepath.Join(home, ".meshpay", "config.yaml")
}

func loadConfig() (config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return cfg, fmt.Errorf("load %s: %w", configPath, err)
	}
	return cfg, nil
}
