package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/uhyunpark/minimarket/params"
	"github.com/uhyunpark/minimarket/pkg/util"
)

var envFile string

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "path to a .env file (default: .env in the working directory)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "marketd",
	Short: "A miniature securities market: IPO issuance, a market maker and a limit order book",
	Long: `marketd runs a small share market. The issuer sells a fixed number of shares
one unit at a time at a price that rises as inventory depletes, a market maker
quotes a bid/ask spread around that price, and a limit order book matches
buy and sell orders between users.

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
}

// setup loads configuration and builds the logger shared by every command.
func setup() (params.Config, *zap.Logger, error) {
	cfg, err := params.LoadFromEnv(envFile)
	if err != nil {
		return cfg, nil, fmt.Errorf("config: %w", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Log.File, cfg.Log.Level)
	if err != nil {
		return cfg, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, logger, nil
}
