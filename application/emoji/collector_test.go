package emoji_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/application/emoji"
)

type fakeEmojiStore struct {
	mu       sync.Mutex
	data     map[string]map[string]int64
	saves    int
	failSave bool

	// When set, saves announce themselves and wait on the gate.
	saveEntered chan struct{}
	saveGate    chan struct{}
}

func newFakeEmojiStore() *fakeEmojiStore {
	return &fakeEmojiStore{data: make(map[string]map[string]int64)}
}

func (s *fakeEmojiStore) LoadEmojiCounts(context.Context) (map[string]map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]int64, len(s.data))
	for t, m := range s.data {
		out[t] = make(map[string]int64, len(m))
		for k, v := range m {
			out[t][k] = v
		}
	}
	return out, nil
}

func (s *fakeEmojiStore) SaveEmojiCounts(_ context.Context, counts map[string]map[string]int64) error {
	if s.saveGate != nil {
		s.saveEntered <- struct{}{}
		<-s.saveGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return fmt.Errorf("injected save failure")
	}
	for t, m := range counts {
		if s.data[t] == nil {
			s.data[t] = make(map[string]int64)
		}
		for k, v := range m {
			s.data[t][k] = v
		}
	}
	s.saves++
	return nil
}

func (s *fakeEmojiStore) DeleteEmojiCounts(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, tenantID)
	return nil
}

func TestCollector_ObserveAndTop(t *testing.T) {
	c := emoji.NewCollector(newFakeEmojiStore())

	c.Observe("t1", "nice one :thumbsup: :thumbsup: <:blob:12345> and :wave:")
	c.Observe("t1", ":thumbsup:")
	c.Observe("t2", ":wave:")

	top := c.Top("t1", 2)
	require.Len(t, top, 2)
	assert.Equal(t, emoji.Count{Name: "thumbsup", Count: 3}, top[0])
	// blob and wave are tied at 1; names break the tie.
	assert.Equal(t, emoji.Count{Name: "blob", Count: 1}, top[1])

	assert.Equal(t, []emoji.Count{{Name: "wave", Count: 1}}, c.Top("t2", 10))
	assert.Empty(t, c.Top("t3", 10))
}

func TestCollector_CustomEmojiNotDoubleCounted(t *testing.T) {
	c := emoji.NewCollector(newFakeEmojiStore())
	c.Observe("t1", "<a:party:999>")

	top := c.Top("t1", 10)
	require.Len(t, top, 1)
	assert.Equal(t, emoji.Count{Name: "party", Count: 1}, top[0])
}

func TestCollector_FlushAndRestore(t *testing.T) {
	store := newFakeEmojiStore()
	c := emoji.NewCollector(store)
	ctx := context.Background()

	c.Observe("t1", ":wave:")
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, int64(1), store.data["t1"]["wave"])

	// Unchanged counters do not re-save.
	saves := store.saves
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, saves, store.saves)

	// A fresh collector restores the snapshot.
	restored := emoji.NewCollector(store)
	require.NoError(t, restored.Load(ctx))
	assert.Equal(t, []emoji.Count{{Name: "wave", Count: 1}}, restored.Top("t1", 10))
}

func TestCollector_FlushFailureKeepsDirty(t *testing.T) {
	store := newFakeEmojiStore()
	c := emoji.NewCollector(store)
	ctx := context.Background()

	c.Observe("t1", ":wave:")
	store.failSave = true
	require.Error(t, c.Flush(ctx))

	// The failed flush leaves the counters pending; the next flush retries.
	store.failSave = false
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, int64(1), store.data["t1"]["wave"])
}

func TestCollector_AutosaveAndStop(t *testing.T) {
	store := newFakeEmojiStore()
	c := emoji.NewCollector(store, emoji.WithFlushInterval(20*time.Millisecond))
	ctx := context.Background()

	c.Start()
	c.Observe("t1", ":wave:")

	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.data["t1"]["wave"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	c.Observe("t1", ":wave:")
	require.NoError(t, c.Stop(ctx), "stop flushes pending counters")
	assert.Equal(t, int64(2), store.data["t1"]["wave"])
}

func TestCollector_RemoveTenant(t *testing.T) {
	store := newFakeEmojiStore()
	c := emoji.NewCollector(store)
	ctx := context.Background()

	c.Observe("t1", ":wave:")
	require.NoError(t, c.Flush(ctx))
	require.NoError(t, c.RemoveTenant(ctx, "t1"))

	assert.Empty(t, c.Top("t1", 10))
	assert.Empty(t, store.data["t1"])
}

func TestCollector_RemoveTenantOrderedAgainstFlush(t *testing.T) {
	store := newFakeEmojiStore()
	store.saveEntered = make(chan struct{})
	store.saveGate = make(chan struct{})
	c := emoji.NewCollector(store)
	ctx := context.Background()

	c.Observe("t1", ":wave:")

	flushDone := make(chan error, 1)
	go func() { flushDone <- c.Flush(ctx) }()
	<-store.saveEntered

	removeDone := make(chan error, 1)
	go func() { removeDone <- c.RemoveTenant(ctx, "t1") }()

	// The purge must wait for the in-flight snapshot save to land.
	select {
	case <-removeDone:
		t.Fatal("tenant purge overtook an in-flight flush")
	case <-time.After(100 * time.Millisecond):
	}

	close(store.saveGate)
	require.NoError(t, <-flushDone)
	require.NoError(t, <-removeDone)

	store.mu.Lock()
	_, resurrected := store.data["t1"]
	store.mu.Unlock()
	assert.False(t, resurrected, "flush snapshot must not restore a removed tenant")
	assert.Empty(t, c.Top("t1", 10))
}
