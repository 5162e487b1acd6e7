package app

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// newTestMgr builds a stream manager without the janitor goroutine, so tests
// drive sweeps explicitly with a controlled clock.
func newTestMgr(t *testing.T, cfg *ServerConfig, source CaptureSource, channels *ChannelList) (*streamMgr, *testClock) {
	t.Helper()
	clock := newTestClock()
	ctx, cancel := context.WithCancel(context.Background())
	m := &streamMgr{
		cfg:      cfg,
		channels: channels,
		source:   source,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      clock.now,
		ctx:      ctx,
		cancel:   cancel,
		streams:  make(map[string]*stream),
	}
	t.Cleanup(m.Shutdown)
	return m, clock
}

func testChannelList(ids ...string) *ChannelList {
	cl := &ChannelList{}
	for i, id := range ids {
		cl.Channels = append(cl.Channels, ChannelConfig{
			ID:         id,
			Number:     string(rune('1' + i)),
			Name:       "Channel " + id,
			CaptureURL: "http://capture.local/" + id,
		})
	}
	return cl
}

func waitForSegments(t *testing.T, m *streamMgr, channelID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		store, ok := m.Lookup(channelID)
		return ok && store.Playlist() != nil
	}, 3*time.Second, 10*time.Millisecond)
}

func TestTuneIsIdempotent(t *testing.T) {
	source := &fakeSource{}
	source.add(encodeTestStream(t, 90000, 3))
	cfg := DefaultConfig
	m, _ := newTestMgr(t, &cfg, source, testChannelList("ch1"))

	store1, err := m.Tune("ch1")
	require.NoError(t, err)
	store2, err := m.Tune("ch1")
	require.NoError(t, err)
	assert.Same(t, store1, store2)

	_, err = m.Tune("nosuch")
	assert.ErrorIs(t, err, errUnknownChannel)

	require.Eventually(t, func() bool { return source.openCount() == 1 },
		3*time.Second, 10*time.Millisecond)
}

func TestIdleTeardown(t *testing.T) {
	source := &fakeSource{}
	source.add(encodeTestStream(t, 90000, 3))
	cfg := DefaultConfig
	cfg.Stream.IdleTimeoutS = 60
	cfg.Stream.NoMediaTimeoutS = 0
	m, clock := newTestMgr(t, &cfg, source, testChannelList("ch1"))

	_, err := m.Tune("ch1")
	require.NoError(t, err)
	waitForSegments(t, m, "ch1")

	// Still within the idle window.
	clock.advance(59 * time.Second)
	m.sweep()
	_, ok := m.Lookup("ch1")
	require.True(t, ok)

	// Lookup counted as activity, so another full window must pass.
	clock.advance(61 * time.Second)
	m.sweep()
	_, ok = m.Lookup("ch1")
	assert.False(t, ok)
}

func TestNoMediaWatchdogRestarts(t *testing.T) {
	source := &fakeSource{}
	source.add(encodeTestStream(t, 90000, 3))
	source.add(encodeTestStream(t, 48000, 3))
	cfg := DefaultConfig
	cfg.Stream.IdleTimeoutS = 0
	cfg.Stream.NoMediaTimeoutS = 15
	m, clock := newTestMgr(t, &cfg, source, testChannelList("ch1"))

	store, err := m.Tune("ch1")
	require.NoError(t, err)
	waitForSegments(t, m, "ch1")

	// First sweep records the current segment index as progress.
	m.sweep()
	clock.advance(16 * time.Second)
	m.sweep()

	require.Eventually(t, func() bool { return source.openCount() >= 2 },
		3*time.Second, 10*time.Millisecond)
	status, ok := m.Status("ch1")
	require.True(t, ok)
	assert.GreaterOrEqual(t, status.Restarts, uint64(1))

	// The replacement capture has a different init, so the stitched
	// playlist carries a discontinuity and a bumped init version.
	require.Eventually(t, func() bool {
		playlist := string(store.Playlist())
		return strings.Contains(playlist, "#EXT-X-DISCONTINUITY\n") &&
			strings.Contains(playlist, `init.mp4?v=2`)
	}, 3*time.Second, 10*time.Millisecond)
}

func TestManualRestartAndStop(t *testing.T) {
	source := &fakeSource{}
	source.add(encodeTestStream(t, 90000, 3))
	source.add(encodeTestStream(t, 90000, 3))
	cfg := DefaultConfig
	cfg.Stream.IdleTimeoutS = 0
	cfg.Stream.NoMediaTimeoutS = 0
	m, _ := newTestMgr(t, &cfg, source, testChannelList("ch1"))

	assert.ErrorIs(t, m.Restart("ch1"), errStreamNotFound)

	_, err := m.Tune("ch1")
	require.NoError(t, err)
	waitForSegments(t, m, "ch1")

	require.NoError(t, m.Restart("ch1"))
	require.Eventually(t, func() bool { return source.openCount() >= 2 },
		3*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Stop("ch1"))
	_, ok := m.Lookup("ch1")
	assert.False(t, ok)
	assert.ErrorIs(t, m.Stop("ch1"), errStreamNotFound)
}

func TestActiveStreamsSorted(t *testing.T) {
	source := &fakeSource{}
	source.add(encodeTestStream(t, 90000, 2))
	source.add(encodeTestStream(t, 90000, 2))
	cfg := DefaultConfig
	cfg.Stream.IdleTimeoutS = 0
	m, _ := newTestMgr(t, &cfg, source, testChannelList("zebra", "alpha"))

	_, err := m.Tune("zebra")
	require.NoError(t, err)
	_, err = m.Tune("alpha")
	require.NoError(t, err)

	statuses := m.ActiveStreams()
	require.Len(t, statuses, 2)
	assert.Equal(t, "alpha", statuses[0].Channel.ID)
	assert.Equal(t, "zebra", statuses[1].Channel.ID)
}
