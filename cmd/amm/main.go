package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "amm",
		Short:        "Constant-product AMM pools",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().String("state-file", "./data/amm_state.json", "pool and balance snapshot file")
	root.PersistentFlags().String("journal", "./data/amm_events.jsonl", "pool event journal (JSONL)")
	root.PersistentFlags().String("pg-dsn", "", "optional Postgres DSN mirroring pools and events")
	root.PersistentFlags().Bool("pg-migrate", true, "create Postgres tables on startup")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	initCmd := &cobra.Command{
		Use:   "init-pool",
		Short: "Create an empty pool for an asset pair",
		RunE:  runInitPool,
	}
	initCmd.Flags().String("asset-a", "", "first asset id")
	initCmd.Flags().String("asset-b", "", "second asset id")
	initCmd.Flags().Uint16("fee-bps", 30, "swap fee in basis points (0-10000)")
	root.AddCommand(initCmd)

	fundCmd := &cobra.Command{
		Use:   "fund",
		Short: "Credit an account with units of an asset",
		RunE:  runFund,
	}
	fundCmd.Flags().String("asset", "", "asset id")
	fundCmd.Flags().String("account", "", "account to credit")
	fundCmd.Flags().Uint64("amount", 0, "amount to credit")
	root.AddCommand(fundCmd)

	addCmd := &cobra.Command{
		Use:   "add-liquidity",
		Short: "Deposit both assets and mint pool shares",
		RunE:  runAddLiquidity,
	}
	addPoolFlags(addCmd)
	addCmd.Flags().String("provider", "", "depositing account")
	addCmd.Flags().Uint64("amount-a", 0, "offered amount of asset a")
	addCmd.Flags().Uint64("amount-b", 0, "offered amount of asset b")
	root.AddCommand(addCmd)

	swapCmd := &cobra.Command{
		Use:   "swap",
		Short: "Sell one pool asset for the other",
		RunE:  runSwap,
	}
	addSwapFlags(swapCmd)
	swapCmd.Flags().String("trader", "", "trading account")
	root.AddCommand(swapCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Price an operation without executing it",
	}
	quoteSwapCmd := &cobra.Command{
		Use:   "swap",
		Short: "Quote a swap",
		RunE:  runQuoteSwap,
	}
	addSwapFlags(quoteSwapCmd)
	quoteLiquidityCmd := &cobra.Command{
		Use:   "liquidity",
		Short: "Quote a liquidity deposit",
		RunE:  runQuoteLiquidity,
	}
	addPoolFlags(quoteLiquidityCmd)
	quoteLiquidityCmd.Flags().Uint64("amount-a", 0, "offered amount of asset a")
	quoteLiquidityCmd.Flags().Uint64("amount-b", 0, "offered amount of asset b")
	quoteCmd.AddCommand(quoteSwapCmd, quoteLiquidityCmd)
	root.AddCommand(quoteCmd)

	poolsCmd := &cobra.Command{
		Use:   "pools",
		Short: "List pools",
		RunE:  runPools,
	}
	root.AddCommand(poolsCmd)

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare stored reserves with observed vault balances",
		RunE:  runReconcile,
	}
	addPoolFlags(reconcileCmd)
	reconcileCmd.Flags().String("rpc", "", "EVM RPC URL; reads balanceOf instead of the local ledger")
	reconcileCmd.Flags().Uint64("block", 0, "block number for chain reads, 0 means latest")
	reconcileCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	reconcileCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	root.AddCommand(reconcileCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve pools and quotes over HTTP",
		RunE:  runServe,
	}
	serveCmd.Flags().String("listen", ":8080", "listen address")
	root.AddCommand(serveCmd)

	return root
}

func addPoolFlags(cmd *cobra.Command) {
	cmd.Flags().String("pool", "", "pool key (hex)")
	cmd.Flags().String("asset-a", "", "first asset id, used with --asset-b instead of --pool")
	cmd.Flags().String("asset-b", "", "second asset id, used with --asset-a instead of --pool")
}

func addSwapFlags(cmd *cobra.Command) {
	cmd.Flags().String("pool", "", "pool key (hex); defaults to the pool of --from/--to")
	cmd.Flags().String("from", "", "asset sold")
	cmd.Flags().String("to", "", "asset bought; defaults to the counterpart of --from")
	cmd.Flags().Uint64("amount-in", 0, "amount sold")
	cmd.Flags().Uint64("min-out", 0, "minimum amount bought")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
