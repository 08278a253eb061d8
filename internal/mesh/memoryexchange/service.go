package memoryexchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/phoenixmesh/phoenix/internal/eventbus"
	"github.com/phoenixmesh/phoenix/internal/security"
)

var (
	ErrPeerNotVerified   = errors.New("memoryexchange: requesting peer is not verified")
	ErrMaintenanceActive = errors.New("memoryexchange: maintenance mode is active")
	ErrNoRecentSnapshot  = errors.New("memoryexchange: no snapshot taken in the last hour")
)

// alignmentChecker reports whether a node id currently holds verified
// status. Kept as a narrow function type rather than depending on
// handshake.PeerStore directly, so memory exchange and handshake stay
// decoupled (§9 "cyclic relationships resolved by id-based lookup").
type alignmentChecker func(nodeID string) (verified bool)

// Config configures the memory exchange service.
type Config struct {
	Collections []string
	DecaySchedule string // cron expression, default hourly
}

// Service implements ExchangeMemory, topic-frequency decay, pruning, and
// snapshot/restore.
type Service struct {
	cfg      Config
	store    Store
	redact   *security.Filter
	bus      *eventbus.Bus
	verified alignmentChecker

	mu           sync.Mutex
	topicFreq    map[string]*topicFrequency
	nodeVolumes  map[string]int64
	lastSnapshot time.Time
	maintenance  bool

	cron *cron.Cron
}

// New constructs a memory exchange Service. verified reports whether a
// given node id is currently a verified peer.
func New(cfg Config, store Store, redact *security.Filter, bus *eventbus.Bus, verified func(nodeID string) bool) *Service {
	if cfg.DecaySchedule == "" {
		cfg.DecaySchedule = "@hourly"
	}
	return &Service{
		cfg:         cfg,
		store:       store,
		redact:      redact,
		bus:         bus,
		verified:    verified,
		topicFreq:   make(map[string]*topicFrequency),
		nodeVolumes: make(map[string]int64),
	}
}

// Start begins the hourly topic-decay sweep. Call Stop on shutdown.
func (s *Service) Start() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.cfg.DecaySchedule, s.decayTopics)
	if err != nil {
		return fmt.Errorf("memoryexchange: schedule decay: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the decay scheduler.
func (s *Service) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// ExchangeMemory streams top-k redacted candidates from collection/
// namespace to the requesting peer. The returned channel is closed after
// the final (IsComplete) fragment.
func (s *Service) ExchangeMemory(ctx context.Context, requestingNodeID, collection, namespace, topic string, topK int) (<-chan Fragment, error) {
	if !s.verified(requestingNodeID) {
		return nil, ErrPeerNotVerified
	}

	candidates, err := s.store.TopKCandidates(ctx, collection, namespace, topK)
	if err != nil {
		return nil, fmt.Errorf("memoryexchange: fetch candidates: %w", err)
	}

	out := make(chan Fragment, len(candidates)+1)
	var totalRedactions int
	var bytesStreamed int64

	for i, c := range candidates {
		redacted, n := s.redact.Redact(c.Content)
		totalRedactions += n
		bytesStreamed += int64(len(redacted))
		out <- Fragment{
			ID:              c.ID,
			Vector:          c.Vector,
			RedactedContent: redacted,
			Type:            c.Type,
			Timestamp:       c.Timestamp,
			Similarity:      c.Similarity,
			IsComplete:      i == len(candidates)-1,
		}
	}
	close(out)

	s.mu.Lock()
	tf, ok := s.topicFreq[topic]
	if !ok {
		tf = &topicFrequency{}
		s.topicFreq[topic] = tf
	}
	tf.count++
	tf.lastAccess = time.Now()
	s.nodeVolumes[requestingNodeID] += int64(len(candidates))
	s.mu.Unlock()

	s.bus.Publish(eventbus.EventMemoryTransfer, MemoryTransferEvent{
		Source:           "self",
		Dest:             requestingNodeID,
		Topic:            topic,
		Fragments:        len(candidates),
		Bytes:            bytesStreamed,
		RedactedEntities: totalRedactions,
		Timestamp:        time.Now(),
	})

	return out, nil
}

// decayTopics removes stale topics and linearly damps the 12h-24h band.
// This is the source of the heatmap's recency weighting.
func (s *Service) decayTopics() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for topic, tf := range s.topicFreq {
		age := now.Sub(tf.lastAccess)
		switch {
		case age > 24*time.Hour:
			delete(s.topicFreq, topic)
		case age > 12*time.Hour:
			remaining := (24*time.Hour - age).Hours() / 12.0
			tf.count *= remaining
			if tf.count < 1 {
				delete(s.topicFreq, topic)
			}
		}
	}
}

// Heatmap returns a read-only snapshot of topic frequencies, for an
// operator dashboard.
func (s *Service) Heatmap() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.topicFreq))
	for topic, tf := range s.topicFreq {
		out[topic] = tf.count
	}
	return out
}

// PruneTopic deletes all points tagged with topic from the configured
// collections. Requires a snapshot within the last hour as a safety gate.
func (s *Service) PruneTopic(ctx context.Context, topic string) (int, error) {
	if !s.HasRecentSnapshot() {
		return 0, ErrNoRecentSnapshot
	}
	deleted, err := s.store.DeleteWhereTopic(ctx, s.cfg.Collections, topic)
	if err != nil {
		return 0, err
	}
	s.bus.Publish(eventbus.EventMemoryPrune, MemoryPruneEvent{Topic: topic, Deleted: deleted})
	return deleted, nil
}

// SnapshotNow issues a snapshot command to every configured collection.
func (s *Service) SnapshotNow(ctx context.Context) error {
	if err := s.store.Snapshot(ctx, s.cfg.Collections); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastSnapshot = time.Now()
	s.mu.Unlock()
	return nil
}

// HasRecentSnapshot reports whether a snapshot was taken within the last
// hour.
func (s *Service) HasRecentSnapshot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.lastSnapshot.IsZero() && time.Since(s.lastSnapshot) < time.Hour
}

// InMaintenance reports whether the node is currently in the restore
// maintenance window.
func (s *Service) InMaintenance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maintenance
}

// Restore enables maintenance mode, invokes the store's snapshot-recover
// operation, and clears maintenance mode whether or not it succeeded.
func (s *Service) Restore(ctx context.Context) error {
	s.mu.Lock()
	s.maintenance = true
	s.mu.Unlock()
	s.bus.Publish(eventbus.EventMaintenanceStarted, MaintenanceStartedEvent{Reason: "restore"})

	err := s.store.Restore(ctx, s.cfg.Collections)

	s.mu.Lock()
	s.maintenance = false
	s.mu.Unlock()
	return err
}

// MemoryTransferEvent, MemoryPruneEvent, and MaintenanceStartedEvent are
// published on the bus for the corresponding eventbus.EventType values.
type MemoryTransferEvent struct {
	Source           string
	Dest             string
	Topic            string
	Fragments        int
	Bytes            int64
	RedactedEntities int
	Timestamp        time.Time
}

type MemoryPruneEvent struct {
	Topic   string
	Deleted int
}

type MaintenanceStartedEvent struct {
	Reason string
}
