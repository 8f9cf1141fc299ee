// Package archive keeps the wisdom archive: the most recent ceremony and
// deliberation outcomes, searchable by similarity.
package archive

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// DefaultCapacity is how many entries the archive retains.
const DefaultCapacity = 1000

const collectionName = "wisdom"

// EmptyText is the reply when the archive has nothing to offer yet.
const EmptyText = "The wisdom archive is still gathering light. Ask the oracle a question!"

// Entry kinds.
const (
	KindCeremony     = "ceremony"
	KindDeliberation = "deliberation"
)

var (
	// ErrEmptyQuery is returned by Search for a blank query.
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrEmptyEntry is returned by Add for an entry without text.
	ErrEmptyEntry = errors.New("entry text cannot be empty")
)

// Entry is one archived piece of wisdom.
type Entry struct {
	ID     string    `json:"id"`
	Kind   string    `json:"kind"`
	Title  string    `json:"title"`
	Text   string    `json:"text"`
	Source string    `json:"source,omitempty"`
	Score  float64   `json:"score,omitempty"`
	At     time.Time `json:"at"`
}

// Result is a search hit.
type Result struct {
	Entry
	Similarity float32 `json:"similarity"`
}

// Config configures the archive.
type Config struct {
	// Capacity bounds the entry count; the oldest entries are evicted.
	Capacity int
	// Path enables gob persistence. Empty keeps the archive in memory.
	Path     string
	Compress bool
}

// Archive stores entries in a chromem collection and remembers their order
// for eviction and random draws.
type Archive struct {
	db       *chromem.DB
	coll     *chromem.Collection
	embed    chromem.EmbeddingFunc
	redact   func(string) string
	capacity int
	logger   *zap.Logger

	mu    sync.Mutex
	order []Entry
	rng   *rand.Rand
}

// Option configures an Archive.
type Option func(*Archive)

// WithEmbedding replaces the hashing embedder.
func WithEmbedding(fn chromem.EmbeddingFunc) Option {
	return func(a *Archive) {
		a.embed = fn
	}
}

// WithRedactor filters entry titles and text before they are stored.
func WithRedactor(fn func(string) string) Option {
	return func(a *Archive) {
		a.redact = fn
	}
}

// WithRand sets the source for Random.
func WithRand(r *rand.Rand) Option {
	return func(a *Archive) {
		a.rng = r
	}
}

// New opens the archive. A persistent archive reloads its entries.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Archive, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}

	a := &Archive{
		embed:    HashEmbedder{}.Embed,
		capacity: cfg.Capacity,
		logger:   logger.Named("archive"),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(a)
	}

	if cfg.Path == "" {
		a.db = chromem.NewDB()
	} else {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		a.db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	coll, err := a.db.GetOrCreateCollection(collectionName, nil, a.embed)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", collectionName, err)
	}
	a.coll = coll

	if err := a.reload(context.Background()); err != nil {
		return nil, fmt.Errorf("reloading archive: %w", err)
	}

	a.logger.Info("wisdom archive ready",
		zap.String("path", cfg.Path),
		zap.Int("capacity", a.capacity),
		zap.Int("entries", len(a.order)),
	)
	return a, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// reload rebuilds the in-memory order from persisted documents.
func (a *Archive) reload(ctx context.Context) error {
	n := a.coll.Count()
	if n == 0 {
		return nil
	}
	probe, err := a.embed(ctx, "")
	if err != nil {
		return err
	}
	results, err := a.coll.QueryEmbedding(ctx, probe, n, nil, nil)
	if err != nil {
		return err
	}

	entries := make([]Entry, 0, len(results))
	for _, r := range results {
		entries = append(entries, fromDocument(r.ID, r.Content, r.Metadata))
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].At.Before(entries[j].At) })

	a.mu.Lock()
	a.order = entries
	evicted := a.trimLocked()
	a.mu.Unlock()
	return a.delete(ctx, evicted)
}

// Add archives e, assigning an ID when empty, and evicts beyond capacity.
func (a *Archive) Add(ctx context.Context, e Entry) (Entry, error) {
	if strings.TrimSpace(e.Text) == "" {
		return Entry{}, ErrEmptyEntry
	}
	if a.redact != nil {
		e.Title = a.redact(e.Title)
		e.Text = a.redact(e.Text)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	doc := chromem.Document{
		ID:       e.ID,
		Content:  e.Text,
		Metadata: toMetadata(e),
	}
	if err := a.coll.AddDocument(ctx, doc); err != nil {
		return Entry{}, fmt.Errorf("adding entry: %w", err)
	}

	a.mu.Lock()
	a.order = append(a.order, e)
	evicted := a.trimLocked()
	a.mu.Unlock()

	if err := a.delete(ctx, evicted); err != nil {
		a.logger.Warn("archive eviction failed", zap.Error(err))
	}
	return e, nil
}

func (a *Archive) trimLocked() []string {
	over := len(a.order) - a.capacity
	if over <= 0 {
		return nil
	}
	ids := make([]string, 0, over)
	for _, e := range a.order[:over] {
		ids = append(ids, e.ID)
	}
	a.order = append([]Entry(nil), a.order[over:]...)
	return ids
}

func (a *Archive) delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return a.coll.Delete(ctx, nil, nil, ids...)
}

// Len reports the number of entries.
func (a *Archive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.order)
}

// Random returns a uniformly chosen entry.
func (a *Archive) Random() (Entry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.order) == 0 {
		return Entry{}, false
	}
	return a.order[a.rng.Intn(len(a.order))], true
}

// Recent returns up to n entries, newest first.
func (a *Archive) Recent(n int) []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n <= 0 || n > len(a.order) {
		n = len(a.order)
	}
	out := make([]Entry, 0, n)
	for i := len(a.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, a.order[i])
	}
	return out
}

// Search returns up to k entries most similar to query.
func (a *Archive) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	// chromem requires nResults <= doc count
	count := a.coll.Count()
	if count == 0 {
		return []Result{}, nil
	}
	if k > count {
		k = count
	}

	results, err := a.coll.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying archive: %w", err)
	}
	out := make([]Result, len(results))
	for i, r := range results {
		out[i] = Result{Entry: fromDocument(r.ID, r.Content, r.Metadata), Similarity: r.Similarity}
	}
	return out, nil
}

func toMetadata(e Entry) map[string]string {
	return map[string]string{
		"kind":   e.Kind,
		"title":  e.Title,
		"source": e.Source,
		"score":  strconv.FormatFloat(e.Score, 'f', -1, 64),
		"at":     e.At.UTC().Format(time.RFC3339Nano),
	}
}

func fromDocument(id, content string, md map[string]string) Entry {
	e := Entry{
		ID:     id,
		Text:   content,
		Kind:   md["kind"],
		Title:  md["title"],
		Source: md["source"],
	}
	e.Score, _ = strconv.ParseFloat(md["score"], 64)
	e.At, _ = time.Parse(time.RFC3339Nano, md["at"])
	return e
}
