package handshake

import (
	"database/sql"
	"fmt"
	"time"
)

// SQLitePeerStore is an on-disk PeerStore, for a node that wants its peer
// registry to survive a restart instead of re-running every handshake.
// The driver is chosen at build time by sqlitestore_cgo.go/sqlitestore_purego.go
// exactly as the teacher's channel adapters pick imessage (darwin-only cgo)
// vs whatsmeow (pure Go) by build tag.
type SQLitePeerStore struct {
	db *sql.DB
}

// NewSQLitePeerStore opens (creating if absent) the peer registry at path.
func NewSQLitePeerStore(path string) (*SQLitePeerStore, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("handshake: open peer registry %s: %w", path, err)
	}
	s := &SQLitePeerStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLitePeerStore) init() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS peers (
	node_id          TEXT PRIMARY KEY,
	software_version TEXT NOT NULL DEFAULT '',
	manifest_hash    TEXT NOT NULL DEFAULT '',
	remote_addr      TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'pending',
	last_seen        INTEGER NOT NULL DEFAULT 0
)`)
	return err
}

// Close releases the underlying database handle.
func (s *SQLitePeerStore) Close() error {
	return s.db.Close()
}

func (s *SQLitePeerStore) Get(nodeID string) (Peer, bool) {
	row := s.db.QueryRow(`SELECT node_id, software_version, manifest_hash, remote_addr, status, last_seen FROM peers WHERE node_id = ?`, nodeID)
	p, err := scanPeer(row)
	if err != nil {
		return Peer{}, false
	}
	return p, true
}

func (s *SQLitePeerStore) Upsert(p Peer) {
	_, _ = s.db.Exec(`
INSERT INTO peers (node_id, software_version, manifest_hash, remote_addr, status, last_seen)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(node_id) DO UPDATE SET
	software_version = excluded.software_version,
	manifest_hash    = excluded.manifest_hash,
	remote_addr      = excluded.remote_addr,
	status           = excluded.status,
	last_seen        = excluded.last_seen`,
		p.NodeID, p.SoftwareVersion, p.ManifestHash, p.RemoteAddr, string(p.Status), p.LastSeen.Unix())
}

func (s *SQLitePeerStore) SetStatus(nodeID string, status PeerStatus) bool {
	res, err := s.db.Exec(`UPDATE peers SET status = ? WHERE node_id = ?`, string(status), nodeID)
	if err != nil {
		return false
	}
	n, _ := res.RowsAffected()
	return n > 0
}

func (s *SQLitePeerStore) List() []Peer {
	rows, err := s.db.Query(`SELECT node_id, software_version, manifest_hash, remote_addr, status, last_seen FROM peers`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []Peer
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (s *SQLitePeerStore) IsQuarantined(nodeID, remoteAddr string) bool {
	if p, ok := s.Get(nodeID); ok && p.Status == PeerQuarantined {
		return true
	}
	if remoteAddr == "" {
		return false
	}
	row := s.db.QueryRow(`SELECT 1 FROM peers WHERE remote_addr = ? AND status = ? LIMIT 1`, remoteAddr, string(PeerQuarantined))
	var hit int
	return row.Scan(&hit) == nil
}

// VerifiedCount returns the number of peers currently verified, used by
// consensus to derive the expected-vote count.
func (s *SQLitePeerStore) VerifiedCount() int {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM peers WHERE status = ?`, string(PeerVerified))
	var n int
	if err := row.Scan(&n); err != nil {
		return 0
	}
	return n
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPeer(row rowScanner) (Peer, error) {
	var p Peer
	var status string
	var lastSeen int64
	if err := row.Scan(&p.NodeID, &p.SoftwareVersion, &p.ManifestHash, &p.RemoteAddr, &status, &lastSeen); err != nil {
		return Peer{}, err
	}
	p.Status = PeerStatus(status)
	p.LastSeen = time.Unix(lastSeen, 0).UTC()
	return p, nil
}
