package consensus

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// ErrQuarantined is returned by Store.CreateSession when the commit is
// already quarantined; a commit hash is never in two states at once (§3).
var ErrQuarantined = errors.New("consensus: commit is quarantined")

// ErrActiveSession is returned by MemoryStore.CreateSession when a session
// already exists for the commit. PostgresStore.CreateSession keeps the
// existing row and returns nil instead.
var ErrActiveSession = errors.New("consensus: session already active for commit")

// Store persists consensus sessions and the mesh quarantine set.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, commitHash string) (*Session, bool, error)
	AppendVote(ctx context.Context, commitHash string, v Vote) (*Session, error)
	SaveResult(ctx context.Context, commitHash string, res Result) error
	DeleteSession(ctx context.Context, commitHash string) error

	Quarantine(ctx context.Context, commitHash, reason string) error
	Unquarantine(ctx context.Context, commitHash string) error
	IsQuarantined(ctx context.Context, commitHash string) (bool, error)
	QuarantineReason(ctx context.Context, commitHash string) (string, bool, error)
}

// MemoryStore is the default in-memory Store.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	quarantined map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*Session),
		quarantined: make(map[string]string),
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.quarantined[s.CommitHash]; ok {
		return ErrQuarantined
	}
	if _, ok := m.sessions[s.CommitHash]; ok {
		return ErrActiveSession
	}
	m.sessions[s.CommitHash] = cloneSession(s)
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, commitHash string) (*Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[commitHash]
	if !ok {
		return nil, false, nil
	}
	return cloneSession(s), true, nil
}

func (m *MemoryStore) AppendVote(ctx context.Context, commitHash string, v Vote) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[commitHash]
	if !ok {
		return nil, errors.New("consensus: no session for commit")
	}
	s.Votes = append(s.Votes, v)
	return cloneSession(s), nil
}

func (m *MemoryStore) SaveResult(ctx context.Context, commitHash string, res Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[commitHash]
	if !ok {
		return errors.New("consensus: no session for commit")
	}
	s.Evaluated = true
	r := res
	s.Result = &r
	return nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, commitHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, commitHash)
	return nil
}

func (m *MemoryStore) Quarantine(ctx context.Context, commitHash, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, commitHash)
	m.quarantined[commitHash] = reason
	return nil
}

func (m *MemoryStore) Unquarantine(ctx context.Context, commitHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.quarantined, commitHash)
	return nil
}

func (m *MemoryStore) IsQuarantined(ctx context.Context, commitHash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.quarantined[commitHash]
	return ok, nil
}

func (m *MemoryStore) QuarantineReason(ctx context.Context, commitHash string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reason, ok := m.quarantined[commitHash]
	return reason, ok, nil
}

func cloneSession(s *Session) *Session {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Votes = append([]Vote(nil), s.Votes...)
	if s.Result != nil {
		r := *s.Result
		clone.Result = &r
	}
	return &clone
}

// PostgresConfig configures the optional Postgres-backed store, mirroring
// the teacher's Cockroach job store connection pool settings.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// PostgresStore persists consensus sessions to Postgres (or CockroachDB,
// which speaks the same wire protocol) via lib/pq. It is an alternative to
// MemoryStore for multi-process deployments sharing one consensus view.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStoreFromDSN opens a pooled connection and ensures the schema
// exists.
func NewPostgresStoreFromDSN(dsn string, cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

// newPostgresStoreForTest wraps an already-open *sql.DB without running the
// migration, so tests can drive a sqlmock.DB through exactly the same query
// paths NewPostgresStoreFromDSN uses against a live Postgres/CockroachDB.
func newPostgresStoreForTest(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) migrate() error {
	_, err := p.db.Exec(`
		CREATE TABLE IF NOT EXISTS consensus_sessions (
			commit_hash TEXT PRIMARY KEY,
			requester_node TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			policy JSONB NOT NULL,
			votes JSONB NOT NULL DEFAULT '[]',
			evaluated BOOLEAN NOT NULL DEFAULT FALSE,
			result JSONB
		);
		CREATE TABLE IF NOT EXISTS consensus_quarantine (
			commit_hash TEXT PRIMARY KEY,
			reason TEXT NOT NULL,
			quarantined_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	return err
}

func (p *PostgresStore) CreateSession(ctx context.Context, s *Session) error {
	quarantined, err := p.IsQuarantined(ctx, s.CommitHash)
	if err != nil {
		return err
	}
	if quarantined {
		return ErrQuarantined
	}
	policyJSON, _ := json.Marshal(s.Policy)
	votesJSON, _ := json.Marshal(s.Votes)
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO consensus_sessions (commit_hash, requester_node, started_at, policy, votes, evaluated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (commit_hash) DO NOTHING
	`, s.CommitHash, s.RequesterNode, s.StartedAt, policyJSON, votesJSON, s.Evaluated)
	return err
}

func (p *PostgresStore) GetSession(ctx context.Context, commitHash string) (*Session, bool, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT commit_hash, requester_node, started_at, policy, votes, evaluated, result
		FROM consensus_sessions WHERE commit_hash = $1
	`, commitHash)

	var s Session
	var policyJSON, votesJSON []byte
	var resultJSON sql.NullString
	if err := row.Scan(&s.CommitHash, &s.RequesterNode, &s.StartedAt, &policyJSON, &votesJSON, &s.Evaluated, &resultJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	_ = json.Unmarshal(policyJSON, &s.Policy)
	_ = json.Unmarshal(votesJSON, &s.Votes)
	if resultJSON.Valid {
		var r Result
		if err := json.Unmarshal([]byte(resultJSON.String), &r); err == nil {
			s.Result = &r
		}
	}
	return &s, true, nil
}

func (p *PostgresStore) AppendVote(ctx context.Context, commitHash string, v Vote) (*Session, error) {
	s, ok, err := p.GetSession(ctx, commitHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("consensus: no session for commit")
	}
	s.Votes = append(s.Votes, v)
	votesJSON, _ := json.Marshal(s.Votes)
	_, err = p.db.ExecContext(ctx, `UPDATE consensus_sessions SET votes = $1 WHERE commit_hash = $2`, votesJSON, commitHash)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresStore) SaveResult(ctx context.Context, commitHash string, res Result) error {
	resultJSON, _ := json.Marshal(res)
	_, err := p.db.ExecContext(ctx, `UPDATE consensus_sessions SET evaluated = TRUE, result = $1 WHERE commit_hash = $2`, resultJSON, commitHash)
	return err
}

func (p *PostgresStore) DeleteSession(ctx context.Context, commitHash string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM consensus_sessions WHERE commit_hash = $1`, commitHash)
	return err
}

func (p *PostgresStore) Quarantine(ctx context.Context, commitHash, reason string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM consensus_sessions WHERE commit_hash = $1`, commitHash); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO consensus_quarantine (commit_hash, reason) VALUES ($1, $2)
		ON CONFLICT (commit_hash) DO UPDATE SET reason = EXCLUDED.reason
	`, commitHash, reason)
	return err
}

func (p *PostgresStore) Unquarantine(ctx context.Context, commitHash string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM consensus_quarantine WHERE commit_hash = $1`, commitHash)
	return err
}

func (p *PostgresStore) IsQuarantined(ctx context.Context, commitHash string) (bool, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM consensus_quarantine WHERE commit_hash = $1`, commitHash).Scan(&n)
	return n > 0, err
}

func (p *PostgresStore) QuarantineReason(ctx context.Context, commitHash string) (string, bool, error) {
	var reason string
	err := p.db.QueryRowContext(ctx, `SELECT reason FROM consensus_quarantine WHERE commit_hash = $1`, commitHash).Scan(&reason)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return reason, true, nil
}
