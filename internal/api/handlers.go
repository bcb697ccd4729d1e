package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"swapCore/internal/amm"
	"swapCore/internal/exchange"
	"swapCore/internal/ident"
	"swapCore/internal/model"
	"swapCore/internal/registry"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, Respond{Result: gin.H{"status": "ok", "pools": len(s.pools.Pools())}})
}

func (s *Server) listPools(c *gin.Context) {
	pools := s.pools.Pools()
	records := make([]model.Pool, 0, len(pools))
	for _, pool := range pools {
		records = append(records, model.PoolRecord(pool))
	}
	c.JSON(http.StatusOK, Respond{Result: records})
}

func (s *Server) getPool(c *gin.Context) {
	key, ok := poolKey(c)
	if !ok {
		return
	}
	pool, err := s.pools.Pool(key)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Respond{Result: model.PoolRecord(pool)})
}

func (s *Server) quoteSwap(c *gin.Context) {
	key, ok := poolKey(c)
	if !ok {
		return
	}
	from, err := ident.ParseAddress(c.Query("from"))
	if err != nil {
		badRequest(c, err)
		return
	}
	var to amm.AssetID
	if raw := c.Query("to"); raw != "" {
		if to, err = ident.ParseAddress(raw); err != nil {
			badRequest(c, err)
			return
		}
	}
	amountIn, err := queryUint(c, "amount_in", true)
	if err != nil {
		badRequest(c, err)
		return
	}
	minOut, err := queryUint(c, "min_out", false)
	if err != nil {
		badRequest(c, err)
		return
	}

	quote, err := s.pools.QuoteSwap(key, from, to, amountIn, minOut)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Respond{Result: quote})
}

func (s *Server) quoteLiquidity(c *gin.Context) {
	key, ok := poolKey(c)
	if !ok {
		return
	}
	amountA, err := queryUint(c, "amount_a", true)
	if err != nil {
		badRequest(c, err)
		return
	}
	amountB, err := queryUint(c, "amount_b", true)
	if err != nil {
		badRequest(c, err)
		return
	}

	quote, err := s.pools.QuoteAddLiquidity(key, amountA, amountB)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Respond{Result: quote})
}

func poolKey(c *gin.Context) (common.Hash, bool) {
	key, err := ident.ParsePoolKey(c.Param("key"))
	if err != nil {
		badRequest(c, err)
		return common.Hash{}, false
	}
	return key, true
}

func queryUint(c *gin.Context, name string, required bool) (uint64, error) {
	raw := c.Query(name)
	if raw == "" {
		if required {
			return 0, fmt.Errorf("%s is required", name)
		}
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", name, raw)
	}
	return v, nil
}

func badRequest(c *gin.Context, err error) {
	msg := err.Error()
	c.JSON(http.StatusBadRequest, Respond{Error: &msg, Kind: "request"})
}

func respondError(c *gin.Context, err error) {
	msg := err.Error()
	kind := exchange.ErrorKind(err)
	c.JSON(statusFor(err), Respond{Error: &msg, Kind: string(kind)})
}

func statusFor(err error) int {
	if errors.Is(err, registry.ErrPoolNotFound) {
		return http.StatusNotFound
	}
	switch amm.Kind(err) {
	case amm.KindPrecondition, amm.KindPolicy:
		return http.StatusBadRequest
	case amm.KindArithmetic:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
