package main

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swapCore/internal/api"
	"swapCore/internal/chain"
	"swapCore/internal/custody"
	"swapCore/internal/model"
)

func runQuoteSwap(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	req, err := parseSwap(cmd, a.ex)
	if err != nil {
		return err
	}
	quote, err := a.ex.QuoteSwap(req.key, req.from, req.to, req.amountIn, req.minOut)
	if err != nil {
		return err
	}
	return printJSON(cmd, quote)
}

func runQuoteLiquidity(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	key, err := resolvePool(cmd, a.ex)
	if err != nil {
		return err
	}
	amountA, _ := cmd.Flags().GetUint64("amount-a")
	amountB, _ := cmd.Flags().GetUint64("amount-b")

	quote, err := a.ex.QuoteAddLiquidity(key, amountA, amountB)
	if err != nil {
		return err
	}
	return printJSON(cmd, quote)
}

func runPools(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	return printJSON(cmd, a.ex.Snapshot().Pools)
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	var reader custody.BalanceReader = a.ex
	if a.cfg.RPCURL != "" {
		client, err := chain.NewClient(ctx, a.cfg.RPCURL)
		if err != nil {
			return err
		}
		defer client.Close()

		chainID, err := client.ChainID(ctx)
		if err != nil {
			return err
		}
		latest, err := client.LatestBlockNumber(ctx)
		if err != nil {
			return err
		}
		a.logger.Info("reading vault balances from chain",
			zap.String("rpc", a.cfg.RPCURL),
			zap.String("chain_id", chainID.String()),
			zap.Uint64("latest_block", latest),
			zap.Uint64("block", a.cfg.Block),
		)
		reader = custody.NewERC20Reader(client, chain.WithRetry, a.cfg.MaxRetries, a.cfg.RetryBackoff).AtBlock(a.cfg.Block)
	}

	var keys []common.Hash
	if raw, _ := cmd.Flags().GetString("pool"); raw != "" || cmd.Flags().Changed("asset-a") {
		key, err := resolvePool(cmd, a.ex)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	} else {
		for _, pool := range a.ex.Pools() {
			keys = append(keys, pool.PoolKey)
		}
	}

	reports := make([]model.ReconcileReport, 0, len(keys))
	for _, key := range keys {
		report, err := a.ex.Reconcile(ctx, key, reader)
		if err != nil {
			return err
		}
		reports = append(reports, report)
	}
	return printJSON(cmd, reports)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	a.logger.Info("serve start",
		zap.String("listen", a.cfg.Listen),
		zap.String("state_file", a.cfg.StateFile),
		zap.Int("pools", len(a.ex.Pools())),
	)
	return api.NewServer(a.ex, a.logger).Run(ctx, a.cfg.Listen)
}
