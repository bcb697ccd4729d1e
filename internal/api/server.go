// Package api serves read-only pool data and quotes over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"swapCore/internal/amm"
)

// PoolReader is the part of the exchange the API reads from.
type PoolReader interface {
	Pools() []amm.Pool
	Pool(key common.Hash) (amm.Pool, error)
	QuoteSwap(key common.Hash, from, to amm.AssetID, amountIn, minOut uint64) (amm.SwapQuote, error)
	QuoteAddLiquidity(key common.Hash, amountA, amountB uint64) (amm.LiquidityQuote, error)
}

// Respond is the envelope of every response.
type Respond struct {
	Result interface{} `json:"result"`
	Error  *string     `json:"error"`
	Kind   string      `json:"kind,omitempty"`
}

type Server struct {
	pools  PoolReader
	logger *zap.Logger
}

func NewServer(pools PoolReader, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{pools: pools, logger: logger}
}

// Router builds the gin engine with all routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/health", s.health)
	r.GET("/pools", s.listPools)
	r.GET("/pools/:key", s.getPool)
	r.GET("/pools/:key/quote/swap", s.quoteSwap)
	r.GET("/pools/:key/quote/liquidity", s.quoteLiquidity)
	return r
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("api stopped")
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}
