package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swapCore/internal/exchange"
	"swapCore/internal/ident"
	"swapCore/internal/model"
)

func runInitPool(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	rawA, _ := cmd.Flags().GetString("asset-a")
	rawB, _ := cmd.Flags().GetString("asset-b")
	assetA, err := ident.ParseAddress(rawA)
	if err != nil {
		return err
	}
	assetB, err := ident.ParseAddress(rawB)
	if err != nil {
		return err
	}

	pool, err := a.ex.CreatePool(ctx, assetA, assetB, a.cfg.FeeBps)
	if err != nil {
		return err
	}
	if err := a.save(ctx); err != nil {
		return err
	}
	return printJSON(cmd, model.PoolRecord(pool))
}

func runFund(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	rawAsset, _ := cmd.Flags().GetString("asset")
	rawAccount, _ := cmd.Flags().GetString("account")
	amount, _ := cmd.Flags().GetUint64("amount")
	ids, err := ident.ParseAddresses([]string{rawAsset, rawAccount})
	if err != nil {
		return err
	}
	if len(ids) != 2 {
		return fmt.Errorf("--asset and --account are required")
	}

	if err := a.ex.Fund(ctx, ids[0], ids[1], amount); err != nil {
		return err
	}
	if err := a.save(ctx); err != nil {
		return err
	}
	return printJSON(cmd, model.Balance{
		Asset:   ids[0].Hex(),
		Account: ids[1].Hex(),
		Amount:  a.ex.Balance(ids[0], ids[1]),
	})
}

func runAddLiquidity(cmd *cobra.Command, _ []string) error {
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
	rawProvider, _ := cmd.Flags().GetString("provider")
	provider, err := ident.ParseAddress(rawProvider)
	if err != nil {
		return err
	}
	amountA, _ := cmd.Flags().GetUint64("amount-a")
	amountB, _ := cmd.Flags().GetUint64("amount-b")

	var result exchange.LiquidityResult
	err = a.locked(ctx, key, func(ex *exchange.Exchange) error {
		res, err := ex.AddLiquidity(ctx, key, provider, amountA, amountB)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return err
	}
	if err := a.save(ctx); err != nil {
		return err
	}
	return printJSON(cmd, result)
}

func runSwap(cmd *cobra.Command, _ []string) error {
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
	rawTrader, _ := cmd.Flags().GetString("trader")
	trader, err := ident.ParseAddress(rawTrader)
	if err != nil {
		return err
	}

	var result exchange.SwapResult
	err = a.locked(ctx, req.key, func(ex *exchange.Exchange) error {
		res, err := ex.Swap(ctx, req.key, trader, req.from, req.to, req.amountIn, req.minOut)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return err
	}
	if err := a.save(ctx); err != nil {
		return err
	}

	a.logger.Debug("swap saved", zap.String("pool", req.key.Hex()), zap.Uint64("version", result.Pool.Version))
	return printJSON(cmd, result)
}

type swapRequest struct {
	key      common.Hash
	from     common.Address
	to       common.Address
	amountIn uint64
	minOut   uint64
}

func parseSwap(cmd *cobra.Command, ex *exchange.Exchange) (swapRequest, error) {
	var req swapRequest
	rawFrom, _ := cmd.Flags().GetString("from")
	rawTo, _ := cmd.Flags().GetString("to")
	rawPool, _ := cmd.Flags().GetString("pool")
	req.amountIn, _ = cmd.Flags().GetUint64("amount-in")
	req.minOut, _ = cmd.Flags().GetUint64("min-out")

	var err error
	if req.from, err = ident.ParseAddress(rawFrom); err != nil {
		return req, err
	}
	if rawTo != "" {
		if req.to, err = ident.ParseAddress(rawTo); err != nil {
			return req, err
		}
	}

	switch {
	case rawPool != "":
		req.key, err = ident.ParsePoolKey(rawPool)
	case rawTo != "":
		pool, lookupErr := ex.Lookup(req.from, req.to)
		req.key, err = pool.PoolKey, lookupErr
	default:
		err = fmt.Errorf("either --pool or --to is required")
	}
	return req, err
}
