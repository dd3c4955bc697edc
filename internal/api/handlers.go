package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/koshedutech/deriv-trading-engine/internal/deriv"
	"github.com/koshedutech/deriv-trading-engine/internal/engine"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// handleGetConfig returns the running configuration with the API token
// masked.
func (s *Server) handleGetConfig(c *gin.Context) {
	cfg := s.cfgStore.Get()
	if len(cfg.APIToken) > 4 {
		cfg.APIToken = cfg.APIToken[:4] + "****"
	}
	c.JSON(http.StatusOK, cfg)
}

// handleUpdateConfig applies a partial update. Unknown keys are ignored;
// the engine reacts to the changed keys on its own goroutine.
func (s *Server) handleUpdateConfig(c *gin.Context) {
	var update map[string]interface{}
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	s.engine.SubmitConfigUpdate(update)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) handleTrades(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Trades())
}

func (s *Server) handleScreener(c *gin.Context) {
	c.JSON(http.StatusOK, s.cards.All())
}

func (s *Server) handleConsole(c *gin.Context) {
	c.JSON(http.StatusOK, s.ring.Snapshot())
}

// handleTestToken checks a candidate API token against the broker without
// touching the live session.
func (s *Server) handleTestToken(c *gin.Context) {
	var body struct {
		Token string `json:"token"`
		AppID string `json:"app_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return
	}
	appID := body.AppID
	if appID == "" {
		appID = s.cfgStore.Get().AppID
	}
	ok := deriv.ProbeToken(appID, body.Token, 10*time.Second)
	c.JSON(http.StatusOK, gin.H{"valid": ok})
}

// handleCommand mirrors the push-socket command intake for REST clients.
func (s *Server) handleCommand(c *gin.Context) {
	var body commandMessage
	if err := c.ShouldBindJSON(&body); err != nil || body.Command == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command required"})
		return
	}
	s.dispatchCommand(body)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (s *Server) handleShutdown(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "shutting down"})
	select {
	case s.shutdown <- struct{}{}:
	default:
	}
}

// commandMessage is the operator command envelope, shared between the push
// socket and POST /api/command.
type commandMessage struct {
	Command    string `json:"command"`
	ContractID int64  `json:"contract_id,omitempty"`
}

func (s *Server) dispatchCommand(msg commandMessage) {
	if msg.Command == engine.CmdClearConsole {
		s.ring.Clear()
	}
	s.engine.Submit(engine.Command{Name: msg.Command, ContractID: msg.ContractID})
}
