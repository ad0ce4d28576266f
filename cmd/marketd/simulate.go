package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/minimarket/pkg/app/exchange"
	"github.com/uhyunpark/minimarket/pkg/storage"
)

var (
	simTrades int
	simSeed   int64
)

func init() {
	simulateCmd.Flags().IntVar(&simTrades, "trades", 3, "number of random market maker trades after the scripted ones")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 1, "random seed for the trade picks")
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the scripted IPO and market maker walkthrough against an in-memory market",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		app, err := exchange.New(cmd.Context(), cfg, storage.NewMemStore(), exchange.WithLogger(logger.Sugar()))
		if err != nil {
			return err
		}

		demo := exchange.DefaultDemo()
		demo.RandomTrades = simTrades
		demo.Seed = simSeed
		if err := exchange.RunDemo(cmd.Context(), app, os.Stdout, demo); err != nil {
			return fmt.Errorf("simulation: %w", err)
		}
		return nil
	},
}
