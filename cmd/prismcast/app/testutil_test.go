package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/stretchr/testify/require"

	"github.com/prismcast/prismcast/pkg/logging"
)

// fakeSource hands out a queue of pre-built capture streams and fails once
// the queue is empty.
type fakeSource struct {
	mu      sync.Mutex
	streams [][]byte
	opens   int
}

func (f *fakeSource) add(data []byte) {
	f.mu.Lock()
	f.streams = append(f.streams, data)
	f.mu.Unlock()
}

func (f *fakeSource) Open(ctx context.Context, captureURL string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if len(f.streams) == 0 {
		return nil, errors.New("no more capture streams")
	}
	data := f.streams[0]
	f.streams = f.streams[1:]
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeSource) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// encodeTestStream builds init + nrFrags one-sample fragments with the given
// timescale, one second per fragment.
func encodeTestStream(t *testing.T, timescale uint32, nrFrags int) []byte {
	t.Helper()
	var buf bytes.Buffer
	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(timescale, "video", "und")
	require.NoError(t, init.Encode(&buf))
	for i := 0; i < nrFrags; i++ {
		frag, err := mp4.CreateFragment(uint32(i+1), 1)
		require.NoError(t, err)
		data := []byte{0xca, 0xfe, byte(i)}
		frag.AddFullSample(mp4.FullSample{
			Sample: mp4.Sample{
				Flags: mp4.SyncSampleFlags,
				Dur:   timescale,
				Size:  uint32(len(data)),
			},
			DecodeTime: uint64(i) * uint64(timescale),
			Data:       data,
		})
		require.NoError(t, frag.Encode(&buf))
	}
	return buf.Bytes()
}

func writeChannelsFile(t *testing.T, channels ...ChannelConfig) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "channels.json")
	data, err := json.Marshal(ChannelList{Channels: channels})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// newTestServer wires a full server with a fake capture source and no
// background teardown timers.
func newTestServer(t *testing.T, source CaptureSource, channels ...ChannelConfig) (*Server, *httptest.Server) {
	t.Helper()
	require.NoError(t, logging.InitSlog("info", logging.LogDiscard))
	cfg := DefaultConfig
	cfg.ChannelsFile = writeChannelsFile(t, channels...)
	cfg.Stream.IdleTimeoutS = 0
	cfg.Stream.NoMediaTimeoutS = 0
	srv, err := setupServer(context.Background(), &cfg, source)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Router)
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown()
	})
	return srv, ts
}

func testChannel(id, number, name string) ChannelConfig {
	return ChannelConfig{ID: id, Number: number, Name: name, CaptureURL: "http://capture.local/" + id}
}
