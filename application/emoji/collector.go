// Package emoji tracks per-tenant emoji usage: in-memory counters fed from
// message traffic, periodically flushed to the durable store, restored from
// the persisted snapshot at startup.
package emoji

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	domerrors "github.com/wardenhq/warden/domain/errors"
	"github.com/wardenhq/warden/domain/ports"
)

// Emoji references: custom platform emoji `<:name:123>` (animated `<a:...>`)
// and plain `:name:` shortcodes.
var (
	customEmojiRe = regexp.MustCompile(`<a?:([A-Za-z0-9_]+):\d+>`)
	shortcodeRe   = regexp.MustCompile(`:([A-Za-z0-9_+-]+):`)
)

// Count is one emoji tally for a tenant.
type Count struct {
	Name  string
	Count int64
}

// collectorConfig holds configuration for the Collector.
type collectorConfig struct {
	flushInterval time.Duration
}

func defaultCollectorConfig() collectorConfig {
	return collectorConfig{flushInterval: 5 * time.Minute}
}

// Option configures the Collector.
type Option func(*collectorConfig)

// WithFlushInterval sets how often counters are persisted.
func WithFlushInterval(d time.Duration) Option {
	return func(c *collectorConfig) {
		if d > 0 {
			c.flushInterval = d
		}
	}
}

// Collector owns the in-memory emoji counters. One background task flushes
// them on a ticker; Start and Stop tie it to the host lifecycle.
type Collector struct {
	store  ports.EmojiStore
	config collectorConfig

	// flushMu serializes store writes against tenant removal, so a flush
	// snapshot taken before a purge cannot land after it and resurrect the
	// removed tenant's rows.
	flushMu sync.Mutex

	mu     sync.Mutex
	counts map[string]map[string]int64 // tenant -> emoji -> count
	dirty  bool

	stop chan struct{}
	done chan struct{}
}

// NewCollector creates a Collector over the given store.
func NewCollector(store ports.EmojiStore, opts ...Option) *Collector {
	cfg := defaultCollectorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Collector{
		store:  store,
		config: cfg,
		counts: make(map[string]map[string]int64),
	}
}

// Load restores the persisted snapshot. Called once at startup before Start.
func (c *Collector) Load(ctx context.Context) error {
	counts, err := c.store.LoadEmojiCounts(ctx)
	if err != nil {
		return &domerrors.StorageError{Operation: "load_emoji", Err: err}
	}
	c.mu.Lock()
	c.counts = make(map[string]map[string]int64, len(counts))
	for tenant, m := range counts {
		c.counts[tenant] = make(map[string]int64, len(m))
		for name, n := range m {
			c.counts[tenant][name] = n
		}
	}
	c.mu.Unlock()
	return nil
}

// Start launches the autosave task. Stop must be called to flush and join it.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.autosave(c.stop, c.done)
}

// Stop halts the autosave task and performs a final flush.
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return c.Flush(ctx)
}

func (c *Collector) autosave(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.config.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Flush(context.Background()); err != nil {
				slog.Error("emoji autosave failed", "error", err)
			}
		case <-stop:
			return
		}
	}
}

// Observe tallies every emoji reference in the message text.
func (c *Collector) Observe(tenantID, text string) {
	names := extract(text)
	if len(names) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.counts[tenantID]
	if m == nil {
		m = make(map[string]int64)
		c.counts[tenantID] = m
	}
	for _, name := range names {
		m[name]++
	}
	c.dirty = true
}

// Top returns the tenant's n most used emoji, descending, names breaking ties.
func (c *Collector) Top(tenantID string, n int) []Count {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.counts[tenantID]
	out := make([]Count, 0, len(m))
	for name, count := range m {
		out = append(out, Count{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Flush persists the counters when they changed since the last flush.
func (c *Collector) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]map[string]int64, len(c.counts))
	for tenant, m := range c.counts {
		snapshot[tenant] = make(map[string]int64, len(m))
		for name, count := range m {
			snapshot[tenant][name] = count
		}
	}
	c.dirty = false
	c.mu.Unlock()

	if err := c.store.SaveEmojiCounts(ctx, snapshot); err != nil {
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()
		return &domerrors.StorageError{Operation: "save_emoji", Err: err}
	}
	return nil
}

// RemoveTenant drops the tenant's counters, store first. Taking the flush
// lock orders the purge against any in-flight snapshot save.
func (c *Collector) RemoveTenant(ctx context.Context, tenantID string) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	if err := c.store.DeleteEmojiCounts(ctx, tenantID); err != nil {
		return &domerrors.StorageError{Operation: "delete_emoji", Err: err}
	}
	c.mu.Lock()
	delete(c.counts, tenantID)
	c.mu.Unlock()
	return nil
}

// extract returns every emoji name referenced in the text. Custom emoji are
// matched first and removed so their inner `:name:` is not double counted.
func extract(text string) []string {
	var names []string
	text = customEmojiRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := customEmojiRe.FindStringSubmatch(m)
		names = append(names, sub[1])
		return " "
	})
	for _, m := range shortcodeRe.FindAllStringSubmatch(text, -1) {
		names = append(names, m[1])
	}
	return names
}
