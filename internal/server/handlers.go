package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"histcache/internal/fetch"
	"histcache/internal/market"
	"histcache/pkg/ibgw"
)

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) fail(c *gin.Context, status int, msg string) {
	c.JSON(status, errorResponse{Error: msg, RequestID: c.GetString("request_id")})
}

// instrumentFromQuery builds the instrument from the path symbol plus
// optional query overrides, defaulting to a US stock on SMART routing.
func instrumentFromQuery(c *gin.Context) (market.Instrument, error) {
	return market.NewInstrument(
		c.Param("symbol"),
		market.SecType(c.DefaultQuery("sec_type", string(market.SecTypeStock))),
		c.DefaultQuery("exchange", "SMART"),
		c.DefaultQuery("currency", "USD"),
	)
}

func (s *Server) handleHistory(c *gin.Context) {
	inst, err := instrumentFromQuery(c)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err.Error())
		return
	}
	tf, err := market.ParseTimeframe(c.DefaultQuery("timeframe", "1h"))
	if err != nil {
		s.fail(c, http.StatusBadRequest, err.Error())
		return
	}

	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	if v := c.Query("start"); v != "" {
		if start, err = time.Parse(time.RFC3339, v); err != nil {
			s.fail(c, http.StatusBadRequest, "start: "+err.Error())
			return
		}
	}
	if v := c.Query("end"); v != "" {
		if end, err = time.Parse(time.RFC3339, v); err != nil {
			s.fail(c, http.StatusBadRequest, "end: "+err.Error())
			return
		}
	}

	req, err := market.NewHistoryRequest(inst, tf, start, end)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.fetcher.Fetch(c.Request.Context(), req)
	if err != nil {
		s.failFetch(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"instrument":   inst.Key(),
		"timeframe":    tf,
		"source":       res.Source,
		"bars":         res.Bars,
		"invalid_bars": res.InvalidBars,
		"row_errors":   res.RowErrors,
	})
}

// failFetch maps the fetch error taxonomy onto HTTP statuses. An
// all-invalid upstream response is not a server failure: the caller gets an
// empty set with a warning so polling clients do not treat it as an outage.
func (s *Server) failFetch(c *gin.Context, err error) {
	switch fetch.ClassOf(err) {
	case fetch.ClassNoValidData:
		c.JSON(http.StatusOK, gin.H{
			"bars":    []market.Bar{},
			"warning": "upstream returned no valid bars for this range",
		})
	case fetch.ClassPermanent:
		status := http.StatusBadRequest
		switch ibgw.KindOf(err) {
		case ibgw.KindInvalidInstrument:
			status = http.StatusNotFound
		case ibgw.KindNoSubscription:
			status = http.StatusForbidden
		}
		s.fail(c, status, err.Error())
	case fetch.ClassRetryable:
		c.Header("Retry-After", "30")
		s.fail(c, http.StatusServiceUnavailable, err.Error())
	default:
		if c.Request.Context().Err() != nil {
			s.fail(c, http.StatusRequestTimeout, err.Error())
			return
		}
		s.logger.Error("unclassified fetch error", zap.Error(err))
		s.fail(c, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleQuote(c *gin.Context) {
	symbol := c.Param("symbol")
	q, ok := s.cache.GetQuote(c.Request.Context(), symbol)
	if !ok {
		s.fail(c, http.StatusNotFound, "no cached quote for "+symbol)
		return
	}
	c.JSON(http.StatusOK, q)
}

// handleContract resolves a symbol to its full contract, serving from the
// symbols cache class and falling through to the gateway on a miss.
func (s *Server) handleContract(c *gin.Context) {
	symbol := c.Param("symbol")

	if inst, ok := s.cache.GetInstrument(c.Request.Context(), symbol); ok {
		c.JSON(http.StatusOK, gin.H{"instrument": inst, "key": inst.Key(), "source": "cache"})
		return
	}

	seed, err := instrumentFromQuery(c)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err.Error())
		return
	}
	resolved, description, err := s.resolver.ResolveInstrument(c.Request.Context(), seed)
	if err != nil {
		if ibgw.KindOf(err) == ibgw.KindInvalidInstrument {
			s.fail(c, http.StatusNotFound, err.Error())
			return
		}
		c.Header("Retry-After", "30")
		s.fail(c, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.cache.PutInstrument(c.Request.Context(), symbol, resolved, s.symbolsTTL)
	c.JSON(http.StatusOK, gin.H{
		"instrument":  resolved,
		"key":         resolved.Key(),
		"description": description,
		"source":      "gateway",
	})
}

func (s *Server) handleQuality(c *gin.Context) {
	inst, err := instrumentFromQuery(c)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err.Error())
		return
	}
	tf, err := market.ParseTimeframe(c.DefaultQuery("timeframe", "1h"))
	if err != nil {
		s.fail(c, http.StatusBadRequest, err.Error())
		return
	}
	day, err := time.Parse("2006-01-02", c.Query("day"))
	if err != nil {
		s.fail(c, http.StatusBadRequest, "day must be YYYY-MM-DD: "+err.Error())
		return
	}

	rec, ok, err := s.fetcher.Quality(c.Request.Context(), inst, tf, day)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.fail(c, http.StatusNotFound, "no quality record for that day")
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.cache.Stats())
}

type clearRequest struct {
	Pattern string `json:"pattern"`
}

func (s *Server) handleCacheClear(c *gin.Context) {
	var req clearRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		s.fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.Pattern == "" {
		req.Pattern = "*"
	}

	removed := s.cache.Invalidate(c.Request.Context(), req.Pattern)
	s.logger.Info("cache cleared",
		zap.String("pattern", req.Pattern),
		zap.Int("removed", removed))
	c.JSON(http.StatusOK, gin.H{"pattern": req.Pattern, "removed": removed})
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.healthy != nil && !s.healthy() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
