package api

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"tradehook/internal/dispatch"
	"tradehook/internal/engine"
	"tradehook/internal/executor"
	"tradehook/internal/signal"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 64 << 10

// webhook ingests one charting alert, normalizes it and dispatches it.
func (s *Server) webhook(c *gin.Context) {
	s.Metrics.IncrementSignals()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	mapping, err := signal.DecodeBody(body, c.ContentType())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sig, err := signal.FromMapping(mapping)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.Config.SignalTimeout)
	defer cancel()

	action, err := s.Dispatcher.Dispatch(ctx, sig)
	if err != nil {
		s.writeDispatchError(c, sig, err)
		return
	}

	s.Metrics.IncrementOrders()
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"signal": string(sig.Kind),
		"symbol": sig.Symbol,
		"action": action,
	})
}

// writeDispatchError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeDispatchError(c *gin.Context, sig signal.Signal, err error) {
	var limitErr *dispatch.LimitError
	var exchErr *executor.ExchangeError

	switch {
	case errors.As(err, &limitErr):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": limitErr.Error(), "symbol": sig.Symbol})
	case errors.Is(err, dispatch.ErrNotRunning),
		errors.Is(err, dispatch.ErrTrendMisaligned),
		errors.Is(err, engine.ErrNoCredentials):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "symbol": sig.Symbol})
	case errors.As(err, &exchErr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": exchErr.Error(), "symbol": sig.Symbol})
	default:
		log.Printf("webhook: dispatch %s %s: %v", sig.Kind, sig.Symbol, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type keysRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	Action    string `json:"action" binding:"required"`
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

// manageKeys connects, disconnects or inspects a user's exchange session.
func (s *Server) manageKeys(c *gin.Context) {
	var req keysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and action are required"})
		return
	}

	switch req.Action {
	case "connect":
		if err := s.Engine.Connect(c.Request.Context(), req.UserID, req.APIKey, req.SecretKey); err != nil {
			status := http.StatusBadRequest
			if !errors.Is(err, engine.ErrInvalidCredentials) && !errors.Is(err, engine.ErrUnknownUser) {
				status = http.StatusBadGateway
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "connected", "user_id": req.UserID})

	case "disconnect":
		if err := s.Engine.Disconnect(req.UserID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "disconnected", "user_id": req.UserID})

	case "status":
		sess, ok := s.Engine.SessionOf(req.UserID)
		if !ok {
			c.JSON(http.StatusOK, gin.H{"connected": false, "user_id": req.UserID})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"connected":    true,
			"user_id":      sess.UserID,
			"api_key":      sess.MaskedKey,
			"connected_at": sess.ConnectedAt,
		})

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be connect, disconnect or status"})
	}
}

func (s *Server) startBot(c *gin.Context) {
	if err := s.Engine.Start(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

func (s *Server) stopBot(c *gin.Context) {
	s.Engine.Stop()
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) botStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"engine":  s.Engine.Status(),
		"limits":  s.Guard.Snapshot(),
		"reentry": s.Tracker.Snapshot(),
	})
}

// getPositions reads the live position snapshot from the exchange.
func (s *Server) getPositions(c *gin.Context) {
	client, err := s.Engine.ActiveClient()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	positions, err := client.GetPositions(c.Request.Context(), "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

// getStats combines the in-memory guard counters with durable trade
// statistics.
func (s *Server) getStats(c *gin.Context) {
	summary, err := s.DB.Summarize(c.Request.Context(), 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	daily, err := s.DB.DailyPerformanceSince(c.Request.Context(), 30)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"today":   s.Guard.Snapshot(),
		"summary": summary,
		"daily":   daily,
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	resp := gin.H{"system": s.Metrics.GetSnapshot()}
	if client, err := s.Engine.ActiveClient(); err == nil {
		if rr, ok := client.(interface{ RateUsage() (used, limit int) }); ok {
			used, limit := rr.RateUsage()
			resp["exchange_weight"] = gin.H{"used": used, "limit": limit}
		}
	}
	c.JSON(http.StatusOK, resp)
}
