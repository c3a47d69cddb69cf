// Package session owns one live collaboration-platform session per end-user
// identity: lazy single-flight logon, inactivity expiry, and drain on shutdown.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/concordhq/concord/internal/collab"
)

// ErrShuttingDown is returned by Ensure once Shutdown has begun.
var ErrShuttingDown = errors.New("session: manager shutting down")

// Dialer builds an unauthenticated client for one identity's access token.
type Dialer func(identity, accessToken string) collab.Client

// Session is a live, authenticated handle for one identity. Borrowed by intent
// handlers; owned exclusively by the Manager.
type Session struct {
	Identity  string
	Client    collab.Client
	User      collab.User
	CreatedAt time.Time

	timer *time.Timer
}

// Manager is the identity-keyed session table. All access is keyed by
// identity; creation is single-flight so concurrent first turns for the same
// identity never double-logon.
type Manager struct {
	dial Dialer
	ttl  time.Duration
	log  *slog.Logger

	group singleflight.Group

	mu           sync.Mutex
	sessions     map[string]*Session
	shuttingDown bool
}

// NewManager creates a manager with the given inactivity timeout.
func NewManager(log *slog.Logger, dial Dialer, ttl time.Duration) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Manager{
		dial:     dial,
		ttl:      ttl,
		log:      log.With(slog.String("service", "session")),
		sessions: map[string]*Session{},
	}
}

// Ensure returns the live session for identity, creating it (remote logon)
// when absent. A returned session has had its inactivity timer reset.
func (m *Manager) Ensure(ctx context.Context, identity, accessToken string) (*Session, error) {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if s, ok := m.sessions[identity]; ok {
		s.timer.Reset(m.ttl)
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do(identity, func() (any, error) {
		// A concurrent caller may have finished creation first.
		m.mu.Lock()
		if s, ok := m.sessions[identity]; ok {
			m.mu.Unlock()
			return s, nil
		}
		m.mu.Unlock()

		client := m.dial(identity, accessToken)
		user, err := client.Logon(ctx)
		if err != nil {
			return nil, fmt.Errorf("logon %s: %w", identity, err)
		}

		s := &Session{
			Identity:  identity,
			Client:    client,
			User:      user,
			CreatedAt: time.Now(),
		}
		s.timer = time.AfterFunc(m.ttl, func() { m.expireOnTimeout(identity) })

		m.mu.Lock()
		if m.shuttingDown {
			m.mu.Unlock()
			s.timer.Stop()
			_ = client.Logout(context.Background())
			return nil, ErrShuttingDown
		}
		m.sessions[identity] = s
		m.mu.Unlock()

		m.log.Info("session created", slog.String("identity", identity), slog.String("user", user.DisplayName))
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	s := v.(*Session)
	s.timer.Reset(m.ttl)
	return s, nil
}

// Touch resets the inactivity timer for a live session; no-op otherwise.
func (m *Manager) Touch(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[identity]; ok {
		s.timer.Reset(m.ttl)
	}
}

// Expire logs the identity out and removes its session. Idempotent: expiring
// an absent session is a no-op.
func (m *Manager) Expire(ctx context.Context, identity string) error {
	m.mu.Lock()
	s, ok := m.sessions[identity]
	if ok {
		delete(m.sessions, identity)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	s.timer.Stop()
	m.log.Info("clearing session", slog.String("identity", identity))
	if err := s.Client.Logout(ctx); err != nil {
		return fmt.Errorf("logout %s: %w", identity, err)
	}
	return nil
}

// Shutdown expires all live sessions concurrently and waits for every logoff
// to settle. Individual logoff failures are logged; the first is returned.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shuttingDown = true
	identities := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		identities = append(identities, id)
	}
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, identity := range identities {
		g.Go(func() error {
			if err := m.Expire(ctx, identity); err != nil {
				m.log.Warn("logoff failed during shutdown",
					slog.String("identity", identity), slog.Any("error", err))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) expireOnTimeout(identity string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.Expire(ctx, identity); err != nil {
		m.log.Warn("logoff failed on timeout", slog.String("identity", identity), slog.Any("error", err))
	}
}
