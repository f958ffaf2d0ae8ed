package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tradehook/internal/events"
	"tradehook/pkg/config"
	"tradehook/pkg/exchanges/common"
)

// Engine lifecycle states.
const (
	StatusOffline = "offline" // no credentials connected yet
	StatusRunning = "running"
	StatusStopped = "stopped"
)

var (
	// ErrNoCredentials short-circuits before any exchange call.
	ErrNoCredentials = errors.New("no exchange credentials connected")
	// ErrInvalidCredentials rejects malformed keys before the live test.
	ErrInvalidCredentials = errors.New("api key and secret must be at least 40 characters")
	// ErrUnknownUser is returned for session operations on users that
	// never connected.
	ErrUnknownUser = errors.New("unknown user")
)

// ClientFactory builds an exchange client for a credential pair.
type ClientFactory func(apiKey, secret string, testnet bool) common.Client

// Session is one user's connected exchange credentials. Sessions live in
// memory only; durable credential storage is someone else's job.
type Session struct {
	UserID      string
	MaskedKey   string
	ConnectedAt time.Time
	client      common.Client
}

// Engine owns the running flag and the active trading session. Exactly one
// connected user is the active trading identity at a time; the first user
// to connect is promoted automatically.
type Engine struct {
	mu       sync.RWMutex
	cfg      *config.Config
	factory  ClientFactory
	bus      *events.Bus
	now      func() time.Time
	status   string
	sessions map[string]*Session
	active   string
}

func New(cfg *config.Config, factory ClientFactory, bus *events.Bus, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		cfg:      cfg,
		factory:  factory,
		bus:      bus,
		now:      now,
		status:   StatusOffline,
		sessions: make(map[string]*Session),
	}
	return e
}

// Connect validates the credential pair, live-tests it against the
// exchange and registers the session. The first connected user becomes
// the active trading identity.
func (e *Engine) Connect(ctx context.Context, userID, apiKey, secret string) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", ErrUnknownUser)
	}
	if len(apiKey) < 40 || len(secret) < 40 {
		return ErrInvalidCredentials
	}

	client := e.factory(apiKey, secret, e.cfg.BinanceTestnet)
	info, err := client.GetAccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("credential test failed: %w", err)
	}
	if !info.CanTrade {
		return errors.New("credentials are valid but the account cannot trade")
	}

	e.mu.Lock()
	e.sessions[userID] = &Session{
		UserID:      userID,
		MaskedKey:   maskKey(apiKey),
		ConnectedAt: e.now(),
		client:      client,
	}
	if e.active == "" {
		e.active = userID
	}
	if e.status == StatusOffline {
		e.status = StatusStopped
	}
	e.mu.Unlock()

	log.Printf("engine: user %s connected (key %s)", userID, maskKey(apiKey))
	return nil
}

// Disconnect drops a user's session. Losing the active session stops the
// engine; another connected user, if any, is promoted.
func (e *Engine) Disconnect(userID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.sessions[userID]; !ok {
		return ErrUnknownUser
	}
	delete(e.sessions, userID)
	if e.active != userID {
		return nil
	}

	e.active = ""
	for id := range e.sessions {
		e.active = id
		break
	}
	if e.active == "" && e.status == StatusRunning {
		e.status = StatusStopped
		log.Printf("engine: active user %s disconnected, trading stopped", userID)
		if e.bus != nil {
			e.bus.Publish(events.EventEngineStopped, userID)
		}
	}
	return nil
}

// SessionOf returns a copy of the user's session.
func (e *Engine) SessionOf(userID string) (Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[userID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Start flips the engine to running. It requires a connected session, or
// environment credentials when the fallback is enabled.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == "" {
		if !e.envFallbackLocked() {
			return ErrNoCredentials
		}
	}
	if e.status == StatusRunning {
		return nil
	}
	e.status = StatusRunning
	log.Printf("engine: trading started (active user %s)", e.active)
	if e.bus != nil {
		e.bus.Publish(events.EventEngineStarted, e.active)
	}
	return nil
}

// envFallbackLocked registers a session from environment credentials when
// configuration allows it. Callers hold mu.
func (e *Engine) envFallbackLocked() bool {
	if !e.cfg.AllowEnvCredentials || e.cfg.BinanceAPIKey == "" || e.cfg.BinanceAPISecret == "" {
		return false
	}
	client := e.factory(e.cfg.BinanceAPIKey, e.cfg.BinanceAPISecret, e.cfg.BinanceTestnet)
	e.sessions["env"] = &Session{
		UserID:      "env",
		MaskedKey:   maskKey(e.cfg.BinanceAPIKey),
		ConnectedAt: e.now(),
		client:      client,
	}
	e.active = "env"
	log.Printf("engine: using environment credentials")
	return true
}

// Stop flips the engine to stopped. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	changed := e.status == StatusRunning
	if e.status != StatusOffline {
		e.status = StatusStopped
	}
	e.mu.Unlock()

	if changed {
		log.Printf("engine: trading stopped")
		if e.bus != nil {
			e.bus.Publish(events.EventEngineStopped, nil)
		}
	}
}

// Running reports whether signals should be dispatched.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status == StatusRunning
}

// StatusSnapshot describes the engine for status endpoints.
type StatusSnapshot struct {
	Status     string `json:"status"`
	ActiveUser string `json:"active_user,omitempty"`
	Sessions   int    `json:"connected_users"`
	Testnet    bool   `json:"testnet"`
}

func (e *Engine) Status() StatusSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return StatusSnapshot{
		Status:     e.status,
		ActiveUser: e.active,
		Sessions:   len(e.sessions),
		Testnet:    e.cfg.BinanceTestnet,
	}
}

// ActiveClient returns the exchange client of the active trading session.
func (e *Engine) ActiveClient() (common.Client, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.active == "" {
		return nil, ErrNoCredentials
	}
	return e.sessions[e.active].client, nil
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
