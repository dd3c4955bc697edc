package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/koshedutech/deriv-trading-engine/config"
	"github.com/koshedutech/deriv-trading-engine/internal/engine"
	"github.com/koshedutech/deriv-trading-engine/internal/events"
	"github.com/koshedutech/deriv-trading-engine/internal/logging"
	"github.com/koshedutech/deriv-trading-engine/internal/metrics"
	"github.com/koshedutech/deriv-trading-engine/internal/screener"
)

// Server is the operator HTTP surface: REST config/status endpoints, the
// Prometheus scrape target, and the push socket.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	hub        *Hub

	engine   *engine.Engine
	cfgStore *config.Store
	cards    *screener.Store
	ring     *logging.ConsoleRing
	metrics  *metrics.Metrics

	authToken string
	shutdown  chan struct{}
	log       zerolog.Logger
}

// NewServer wires the server over the engine and shared state. authToken
// empty disables authentication.
func NewServer(srvCfg config.Server, eng *engine.Engine, cfgStore *config.Store, cards *screener.Store, bus *events.Bus, ring *logging.ConsoleRing, m *metrics.Metrics, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		router:    gin.New(),
		hub:       NewHub(log),
		engine:    eng,
		cfgStore:  cfgStore,
		cards:     cards,
		ring:      ring,
		metrics:   m,
		authToken: srvCfg.AuthToken,
		shutdown:  make(chan struct{}, 1),
		log:       log.With().Str("component", "api").Logger(),
	}
	s.httpServer = &http.Server{
		Addr:         ":" + srvCfg.Port,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	// Live pushes: everything the engine publishes goes to every client,
	// and console lines stream as they are logged.
	bus.SubscribeAll(func(ev events.Event) { s.hub.BroadcastEvent(ev) })
	ring.SetNotify(func(entry logging.ConsoleEntry) {
		s.hub.BroadcastEvent(events.Event{
			Type:      events.EventConsoleLog,
			Timestamp: entry.Timestamp,
			Data:      entry,
		})
	})

	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	s.router.Use(cors.New(corsConfig))

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	s.router.GET("/ws", s.handleSocket)

	authed := s.router.Group("/api", s.authMiddleware())
	{
		authed.GET("/config", s.handleGetConfig)
		authed.POST("/config", s.handleUpdateConfig)
		authed.GET("/status", s.handleStatus)
		authed.GET("/trades", s.handleTrades)
		authed.GET("/screener", s.handleScreener)
		authed.GET("/console", s.handleConsole)
		authed.POST("/test_token", s.handleTestToken)
		authed.POST("/command", s.handleCommand)
		authed.POST("/shutdown", s.handleShutdown)
	}
}

// authMiddleware accepts either the raw shared token or a JWT signed with
// it. With no token configured, auth is disabled.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.authToken == "" {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		bearer := strings.TrimPrefix(header, "Bearer ")
		if bearer == "" || bearer == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if bearer == s.authToken || s.validJWT(bearer) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
	}
}

func (s *Server) validJWT(raw string) bool {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.authToken), nil
	})
	return err == nil && token.Valid
}

// Start runs the HTTP server until Shutdown. Blocking.
func (s *Server) Start() error {
	go s.hub.Run()
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("api listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server and disconnects push clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	return s.httpServer.Shutdown(ctx)
}

// ShutdownRequested signals after a POST /api/shutdown.
func (s *Server) ShutdownRequested() <-chan struct{} { return s.shutdown }
