// Package autoingest watches a directory for new or changed files,
// classifies each into one of four domains, chunks and embeds the
// content, and upserts it into the vector store (§4.4). Watching is
// grounded on the teacher's fsnotify-based skills watcher.
package autoingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/phoenixmesh/phoenix/internal/retrieval/hybrid"
	"github.com/phoenixmesh/phoenix/internal/retrieval/vectorstore"
)

// Domain is one of the four knowledge categories a file is classified into.
type Domain string

const (
	DomainMind Domain = "mind"
	DomainBody Domain = "body"
	DomainHeart Domain = "heart"
	DomainSoul Domain = "soul"
)

// chunkTokens is the per-domain target chunk size in whitespace tokens.
var chunkTokens = map[Domain]int{
	DomainMind:  512,
	DomainBody:  256,
	DomainHeart: 512,
	DomainSoul:  1024,
}

const previewTokenCount = 500

// Classifier decides a file's domain from its preview text. LLMClassifier
// is the primary path; KeywordClassifier is the fallback used when no LLM
// is configured or the call fails.
type Classifier interface {
	Classify(ctx context.Context, preview string) (Domain, error)
}

// DomainStat tracks a rolling per-domain ingest performance window.
type DomainStat struct {
	Count        int64
	TotalMillis  int64
	MinMillis    int64
	MaxMillis    int64
	last100      []int64
}

func (s *DomainStat) record(d time.Duration) {
	ms := d.Milliseconds()
	s.Count++
	s.TotalMillis += ms
	if s.MinMillis == 0 || ms < s.MinMillis {
		s.MinMillis = ms
	}
	if ms > s.MaxMillis {
		s.MaxMillis = ms
	}
	s.last100 = append(s.last100, ms)
	if len(s.last100) > 100 {
		s.last100 = s.last100[len(s.last100)-100:]
	}
}

// Avg returns the mean latency in milliseconds across all recorded runs.
func (s *DomainStat) Avg() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.TotalMillis) / float64(s.Count)
}

// Config configures a Watcher.
type Config struct {
	Dir        string
	Collection string
	Debounce   time.Duration
}

// Watcher watches Config.Dir and ingests files as they appear or change.
type Watcher struct {
	cfg        Config
	store      vectorstore.Store
	embedder   hybrid.Embedder
	classifier Classifier

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stats    map[Domain]*DomainStat
	logger   *slog.Logger
}

// New builds a Watcher. If classifier is nil, a keyword-score fallback
// classifier is used.
func New(cfg Config, store vectorstore.Store, embedder hybrid.Embedder, classifier Classifier, logger *slog.Logger) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 250 * time.Millisecond
	}
	if classifier == nil {
		classifier = KeywordClassifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		cfg:        cfg,
		store:      store,
		embedder:   embedder,
		classifier: classifier,
		stats:      make(map[Domain]*DomainStat),
		logger:     logger,
	}
}

// Start begins watching Config.Dir for create/write events.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.cfg.Dir); err != nil {
		fw.Close()
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.watcher = fw
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(watchCtx, fw)
	return nil
}

// Stop halts watching.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	fw := w.watcher
	w.watcher = nil
	w.mu.Unlock()
	if fw != nil {
		fw.Close()
	}
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil || info.IsDir() {
				continue
			}
			if err := w.ingest(ctx, event.Name); err != nil {
				w.logger.Warn("autoingest failed", "file", event.Name, "error", err)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("autoingest watch error", "error", err)
		}
	}
}

// IngestFile ingests a single file outside of the watch loop (used for
// an initial backfill sweep, or directly by callers/tests).
func (w *Watcher) IngestFile(ctx context.Context, path string) error {
	return w.ingest(ctx, path)
}

func (w *Watcher) ingest(ctx context.Context, path string) error {
	start := time.Now()

	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	text := string(content)

	preview := previewOf(text, previewTokenCount)
	domain, err := w.classifier.Classify(ctx, preview)
	if err != nil {
		domain, _ = KeywordClassifier{}.Classify(ctx, preview)
	}

	chunks := chunkByTokens(text, chunkTokens[domain])
	now := time.Now().UTC()

	points := make([]vectorstore.Point, 0, len(chunks))
	for i, chunk := range chunks {
		vec, err := w.embedder.Embed(ctx, chunk)
		if err != nil {
			return err
		}
		points = append(points, vectorstore.Point{
			ID:      uuid.NewString(),
			Vector:  vec,
			Content: chunk,
			Payload: map[string]string{
				"file_path":    path,
				"file_name":    filepath.Base(path),
				"chunk_index":  strconv.Itoa(i),
				"domain":       string(domain),
				"ingested_at":  now.Format(time.RFC3339),
			},
		})
	}

	if err := w.store.Upsert(ctx, w.cfg.Collection, points); err != nil {
		return err
	}

	w.mu.Lock()
	stat, ok := w.stats[domain]
	if !ok {
		stat = &DomainStat{}
		w.stats[domain] = stat
	}
	stat.record(time.Since(start))
	w.mu.Unlock()

	return nil
}

// Stats returns a snapshot of per-domain performance counters.
func (w *Watcher) Stats() map[Domain]DomainStat {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[Domain]DomainStat, len(w.stats))
	for d, s := range w.stats {
		out[d] = *s
	}
	return out
}

func previewOf(text string, tokenCount int) string {
	fields := strings.Fields(text)
	if len(fields) > tokenCount {
		fields = fields[:tokenCount]
	}
	return strings.Join(fields, " ")
}

func chunkByTokens(text string, size int) []string {
	if size <= 0 {
		size = 512
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	var chunks []string
	for start := 0; start < len(fields); start += size {
		end := start + size
		if end > len(fields) {
			end = len(fields)
		}
		chunks = append(chunks, strings.Join(fields[start:end], " "))
	}
	return chunks
}

