// Package session keeps one sync engine per signed-in user. The first
// authenticated request for a user signs them in and starts their engine;
// signing out tears it down.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkordes/tripsync/backend/internal/identity"
	"github.com/pkordes/tripsync/backend/internal/tripsync"
)

// ErrClosed is returned by Engine after Close.
var ErrClosed = errors.New("session: manager closed")

type entry struct {
	engine   *tripsync.Engine
	identity *identity.Session
}

// Manager owns the per-user engines. It is safe for concurrent use.
type Manager struct {
	newEngine func() *tripsync.Engine
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool
}

// NewManager returns a Manager that builds engines with newEngine.
func NewManager(newEngine func() *tripsync.Engine, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{newEngine: newEngine, logger: logger, sessions: map[string]*entry{}}
}

// Engine returns u's engine, signing u in on first use. It returns once the
// engine holds u's initial state. Every call also reopens any subscription
// of the engine that has stopped.
//
// The session is signed in before the engine attaches to it, so the engine
// never sees a signed-out provider for a live session. Initialization is
// serialized inside the engine: whichever of the sign-in and this call
// comes second finds the engine ready.
func (m *Manager) Engine(ctx context.Context, u identity.User) (*tripsync.Engine, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	ent, ok := m.sessions[u.ID]
	if !ok {
		ent = &entry{engine: m.newEngine(), identity: identity.NewSession()}
		ent.identity.SignIn(u)
		ent.engine.Attach(ent.identity)
		m.sessions[u.ID] = ent
	}
	m.mu.Unlock()

	if err := ent.engine.EnsureInitialized(ctx, u); err != nil {
		return nil, fmt.Errorf("session.Manager.Engine: %w", err)
	}
	if !ok {
		m.logger.InfoContext(ctx, "session started", "user_id", u.ID)
	}
	return ent.engine, nil
}

// SignOut ends uid's session. Its engine stops before SignOut returns.
// Signing out a user with no session is a no-op.
func (m *Manager) SignOut(uid string) {
	m.mu.Lock()
	ent, ok := m.sessions[uid]
	delete(m.sessions, uid)
	m.mu.Unlock()
	if !ok {
		return
	}
	ent.identity.SignOut()
	_ = ent.engine.Close()
	m.logger.Info("session ended", "user_id", uid)
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close ends every session. Engine fails afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	all := m.sessions
	m.sessions = map[string]*entry{}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, ent := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ent.identity.SignOut()
			_ = ent.engine.Close()
		}()
	}
	wg.Wait()
	return nil
}
