// Package server exposes the fetch pipeline over HTTP: historical bars,
// cached quotes, quality records, and cache administration.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"histcache/internal/cache"
	"histcache/internal/fetch"
	"histcache/internal/market"
	"histcache/pkg/ibgw"
)

// Fetcher is the slice of the orchestrator the handlers need.
type Fetcher interface {
	Fetch(ctx context.Context, req market.HistoryRequest) (*fetch.Result, error)
	Quality(ctx context.Context, inst market.Instrument, tf market.Timeframe, day time.Time) (market.QualityRecord, bool, error)
}

// Server wires handlers onto a gin engine. Construct with New, then run the
// returned http.Server.
type Server struct {
	fetcher    Fetcher
	cache      cache.BarCache
	resolver   ibgw.InstrumentResolver
	symbolsTTL time.Duration
	healthy    func() bool
	logger     *zap.Logger
}

func New(fetcher Fetcher, c cache.BarCache, resolver ibgw.InstrumentResolver, symbolsTTL time.Duration, healthy func() bool, logger *zap.Logger, environment string) *Server {
	if environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	if symbolsTTL <= 0 {
		symbolsTTL = 30 * time.Minute
	}
	return &Server{
		fetcher:    fetcher,
		cache:      c,
		resolver:   resolver,
		symbolsTTL: symbolsTTL,
		healthy:    healthy,
		logger:     logger,
	}
}

// Router builds the gin engine with all routes and middleware attached.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(s.logger))

	router.GET("/health", s.handleHealth)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/history/:symbol", s.handleHistory)
		v1.GET("/quote/:symbol", s.handleQuote)
		v1.GET("/contract/:symbol", s.handleContract)
		v1.GET("/quality/:symbol", s.handleQuality)
		v1.GET("/cache/stats", s.handleCacheStats)
		v1.POST("/cache/clear", s.handleCacheClear)
	}
	return router
}

// HTTPServer wraps the router in an http.Server bound to addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
}
