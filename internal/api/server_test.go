package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/koshedutech/deriv-trading-engine/config"
	"github.com/koshedutech/deriv-trading-engine/internal/deriv"
	"github.com/koshedutech/deriv-trading-engine/internal/engine"
	"github.com/koshedutech/deriv-trading-engine/internal/events"
	"github.com/koshedutech/deriv-trading-engine/internal/execution"
	"github.com/koshedutech/deriv-trading-engine/internal/logging"
	"github.com/koshedutech/deriv-trading-engine/internal/market"
	"github.com/koshedutech/deriv-trading-engine/internal/metrics"
	"github.com/koshedutech/deriv-trading-engine/internal/position"
	"github.com/koshedutech/deriv-trading-engine/internal/screener"
	"github.com/koshedutech/deriv-trading-engine/internal/strategy"
)

func newTestServer(authToken string) (*Server, *logging.ConsoleRing) {
	log := zerolog.Nop()
	cfg := config.Defaults()
	cfg.APIToken = "secret-api-token"
	store := config.NewStore(cfg)
	session := deriv.NewSession(cfg.AppID, cfg.APIToken, log)
	cache := market.NewCache(market.Gran1m, market.Gran1d)
	book := position.NewBook(log)
	executor := execution.New(session, book, log)
	cards := screener.NewStore()
	eval := strategy.NewEvaluator(cache, cards, book, log)
	m := metrics.New()
	analyzer := screener.NewAnalyzer(cache, log)
	sched := screener.NewScheduler(cache, cards, analyzer, store.Get, nil, m, log)
	bus := events.NewBus()
	eng := engine.New(store, session, cache, book, executor, eval, cards, sched, bus, m, log)
	ring := logging.NewConsoleRing(10)
	srv := NewServer(config.Server{Port: "0", AuthToken: authToken}, eng, store, cards, bus, ring, m, log)
	return srv, ring
}

func do(srv *Server, method, path, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func TestHealthOpenWithoutAuth(t *testing.T) {
	srv, _ := newTestServer("hub-token")
	if w := do(srv, http.MethodGet, "/health", "", ""); w.Code != http.StatusOK {
		t.Errorf("health = %d", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, _ := newTestServer("hub-token")

	if w := do(srv, http.MethodGet, "/api/status", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}
	if w := do(srv, http.MethodGet, "/api/status", "wrong", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("bad token = %d, want 401", w.Code)
	}
	if w := do(srv, http.MethodGet, "/api/status", "hub-token", ""); w.Code != http.StatusOK {
		t.Errorf("raw token = %d, want 200", w.Code)
	}

	claims := jwt.MapClaims{"sub": "operator", "exp": time.Now().Add(time.Hour).Unix()}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("hub-token"))
	if err != nil {
		t.Fatal(err)
	}
	if w := do(srv, http.MethodGet, "/api/status", signed, ""); w.Code != http.StatusOK {
		t.Errorf("jwt = %d, want 200", w.Code)
	}

	forged, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-key"))
	if w := do(srv, http.MethodGet, "/api/status", forged, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("forged jwt = %d, want 401", w.Code)
	}
}

func TestAuthDisabledWhenNoToken(t *testing.T) {
	srv, _ := newTestServer("")
	if w := do(srv, http.MethodGet, "/api/status", "", ""); w.Code != http.StatusOK {
		t.Errorf("open status = %d, want 200", w.Code)
	}
}

func TestGetConfigMasksToken(t *testing.T) {
	srv, _ := newTestServer("")
	w := do(srv, http.MethodGet, "/api/config", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("config = %d", w.Code)
	}
	body := w.Body.String()
	if strings.Contains(body, "secret-api-token") {
		t.Error("API token leaked in config response")
	}
	if !strings.Contains(body, "secr****") {
		t.Errorf("masked token missing: %s", body)
	}
}

func TestUpdateConfigQueued(t *testing.T) {
	srv, _ := newTestServer("")
	w := do(srv, http.MethodPost, "/api/config", "", `{"tp_enabled": false}`)
	if w.Code != http.StatusAccepted {
		t.Errorf("config update = %d, want 202", w.Code)
	}
	if w := do(srv, http.MethodPost, "/api/config", "", `{bad json`); w.Code != http.StatusBadRequest {
		t.Errorf("bad body = %d, want 400", w.Code)
	}
}

func TestCommandEndpoint(t *testing.T) {
	srv, ring := newTestServer("")
	ring.Append(logging.ConsoleEntry{Timestamp: time.Now(), Level: "info", Message: "hello"})

	w := do(srv, http.MethodPost, "/api/command", "", `{"command":"clear_console"}`)
	if w.Code != http.StatusAccepted {
		t.Errorf("command = %d, want 202", w.Code)
	}
	if entries := ring.Snapshot(); len(entries) != 0 {
		t.Errorf("console not cleared: %d entries", len(entries))
	}

	if w := do(srv, http.MethodPost, "/api/command", "", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty command = %d, want 400", w.Code)
	}
}

func TestConsoleEndpoint(t *testing.T) {
	srv, ring := newTestServer("")
	ring.Append(logging.ConsoleEntry{Timestamp: time.Now(), Level: "info", Message: "line one"})

	w := do(srv, http.MethodGet, "/api/console", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "line one") {
		t.Errorf("console = %d %s", w.Code, w.Body.String())
	}
}

func TestShutdownSignals(t *testing.T) {
	srv, _ := newTestServer("")
	if w := do(srv, http.MethodPost, "/api/shutdown", "", ""); w.Code != http.StatusOK {
		t.Fatalf("shutdown = %d", w.Code)
	}
	select {
	case <-srv.ShutdownRequested():
	default:
		t.Error("shutdown not signalled")
	}
}
