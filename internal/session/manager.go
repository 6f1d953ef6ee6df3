// Package session tracks the active dialogue-engine session token for each
// calling party. Tokens survive restarts via a small SQLite registry so that
// an in-flight conversation keeps its remote state.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parley-labs/parley-bridge/internal/config"
	_ "modernc.org/sqlite"
)

// Manager maps calling-party identifiers to session tokens. Each caller gets
// its own token; rotation replaces only that caller's entry.
type Manager struct {
	db      *sql.DB
	cfg     config.SessionsConfig
	version string
	log     *slog.Logger
	clock   func() time.Time
	randInt func() int

	mu    sync.Mutex
	cache map[string]string
}

// Open initializes the registry according to config.
func Open(ctx context.Context, cfg config.SessionsConfig, versionID string, log *slog.Logger) (*Manager, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	m := &Manager{
		db:      db,
		cfg:     cfg,
		version: versionID,
		log:     log.With(slog.String("component", "session")),
		clock:   time.Now,
		randInt: func() int { return rand.Intn(1000) + 1 },
		cache:   make(map[string]string),
	}

	if err := m.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := m.Prune(ctx); err != nil {
		m.log.Warn("session prune on start failed", slog.String("error", err.Error()))
	}
	return m, nil
}

func (m *Manager) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS callers (
    caller_id TEXT PRIMARY KEY,
    token TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_callers_created ON callers(created_at);
`
	_, err := m.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (m *Manager) Close() error {
	return m.db.Close()
}

// Current returns the caller's active token, generating one on first contact.
func (m *Manager) Current(ctx context.Context, caller string) (string, error) {
	m.mu.Lock()
	if token, ok := m.cache[caller]; ok {
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	var token string
	err := m.db.QueryRowContext(ctx, `SELECT token FROM callers WHERE caller_id = ?`, caller).Scan(&token)
	switch {
	case err == sql.ErrNoRows:
		return m.Rotate(ctx, caller)
	case err != nil:
		return "", fmt.Errorf("load session token: %w", err)
	}

	m.mu.Lock()
	m.cache[caller] = token
	m.mu.Unlock()
	return token, nil
}

// Rotate replaces the caller's token and returns the new one.
func (m *Manager) Rotate(ctx context.Context, caller string) (string, error) {
	token := m.newToken()
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO callers(caller_id, token, created_at) VALUES(?, ?, ?)
		 ON CONFLICT(caller_id) DO UPDATE SET token=excluded.token, created_at=excluded.created_at`,
		caller, token, m.clock().UTC())
	if err != nil {
		return "", fmt.Errorf("store session token: %w", err)
	}

	m.mu.Lock()
	m.cache[caller] = token
	m.mu.Unlock()
	return token, nil
}

// Prune drops the oldest caller entries beyond the configured cap.
func (m *Manager) Prune(ctx context.Context) error {
	if m.cfg.MaxCallers <= 0 {
		return nil
	}
	_, err := m.db.ExecContext(ctx, `DELETE FROM callers WHERE caller_id IN (
		SELECT caller_id FROM callers ORDER BY created_at DESC LIMIT -1 OFFSET ?
	)`, m.cfg.MaxCallers)
	return err
}

// newToken builds "{version}.{randomInt}{weekdayName}{epochMillis}".
// Uniqueness is best-effort; the token only correlates turns upstream.
func (m *Manager) newToken() string {
	now := m.clock()
	return fmt.Sprintf("%s.%d%s%d", m.version, m.randInt(), now.Weekday().String(), now.UnixMilli())
}
