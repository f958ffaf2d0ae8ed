package api

import (
	"net/http"
	"time"

	"tradehook/internal/dispatch"
	"tradehook/internal/engine"
	"tradehook/internal/events"
	"tradehook/internal/limits"
	"tradehook/internal/monitor"
	"tradehook/internal/reentry"
	"tradehook/pkg/config"
	"tradehook/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires the webhook and control endpoints around the signal engine.
type Server struct {
	Router     *gin.Engine
	Bus        *events.Bus
	DB         *db.Database
	Engine     *engine.Engine
	Guard      *limits.Guard
	Tracker    *reentry.Tracker
	Dispatcher *dispatch.Dispatcher
	Metrics    *monitor.SystemMetrics
	Config     *config.Config
}

func NewServer(cfg *config.Config, bus *events.Bus, database *db.Database, eng *engine.Engine, guard *limits.Guard, tracker *reentry.Tracker, dispatcher *dispatch.Dispatcher) *Server {
	r := gin.New()
	metrics := monitor.NewSystemMetrics()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:     r,
		Bus:        bus,
		DB:         database,
		Engine:     eng,
		Guard:      guard,
		Tracker:    tracker,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Config:     cfg,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	s.Router.POST("/webhook", s.webhook)

	api := s.Router.Group("/api")
	{
		api.POST("/keys", s.manageKeys)
		api.POST("/bot/start", s.startBot)
		api.POST("/bot/stop", s.stopBot)
		api.GET("/bot/status", s.botStatus)
		api.GET("/positions", s.getPositions)
		api.GET("/stats", s.getStats)
		api.GET("/metrics", s.getMetrics)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"engine":    s.Engine.Status(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
