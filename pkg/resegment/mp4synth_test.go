package resegment

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Eyevinn/mp4ff/bits"
	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/stretchr/testify/require"

	"github.com/prismcast/prismcast/pkg/boxparser"
)

const (
	// sample_depends_on=2, sync sample
	testSyncFlags = uint32(0x02000000)
	// sample_depends_on=1, sample_is_non_sync_sample=1
	testNonSyncFlags = uint32(0x01010000)
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// encodeInit returns ftyp+moov bytes for a one-track video init.
func encodeInit(t *testing.T, timescale uint32) []byte {
	t.Helper()
	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(timescale, "video", "und")
	var buf bytes.Buffer
	require.NoError(t, init.Encode(&buf))
	return buf.Bytes()
}

// encodeTwoTrackInit returns ftyp+moov bytes with a video track (ID 1) and an
// audio track (ID 2).
func encodeTwoTrackInit(t *testing.T, videoTimescale, audioTimescale uint32) []byte {
	t.Helper()
	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(videoTimescale, "video", "und")
	init.AddEmptyTrack(audioTimescale, "audio", "und")
	var buf bytes.Buffer
	require.NoError(t, init.Encode(&buf))
	return buf.Bytes()
}

// encodeFragment returns moof+mdat bytes for a single-track fragment.
func encodeFragment(t *testing.T, seqNr, trackID uint32, decodeTime uint64,
	sampleDur uint32, nrSamples int, flags uint32) []byte {
	t.Helper()
	frag, err := mp4.CreateFragment(seqNr, trackID)
	require.NoError(t, err)
	dt := decodeTime
	for i := 0; i < nrSamples; i++ {
		data := []byte{0xde, 0xad, byte(seqNr), byte(i)}
		frag.AddFullSample(mp4.FullSample{
			Sample:     mp4.Sample{Flags: flags, Dur: sampleDur, Size: uint32(len(data))},
			DecodeTime: dt,
			Data:       data,
		})
		dt += uint64(sampleDur)
	}
	var buf bytes.Buffer
	require.NoError(t, frag.Encode(&buf))
	return buf.Bytes()
}

// encodeTwoTrackFragment returns moof+mdat bytes with one traf per track.
func encodeTwoTrackFragment(t *testing.T, seqNr uint32, videoDT uint64, videoDur uint32,
	audioDT uint64, audioDur uint32) []byte {
	t.Helper()
	frag, err := mp4.CreateMultiTrackFragment(seqNr, []uint32{1, 2})
	require.NoError(t, err)
	data := []byte{0xde, 0xad, 0xbe, 0xef}
	require.NoError(t, frag.AddFullSampleToTrack(mp4.FullSample{
		Sample:     mp4.Sample{Flags: testSyncFlags, Dur: videoDur, Size: uint32(len(data))},
		DecodeTime: videoDT,
		Data:       data,
	}, 1))
	require.NoError(t, frag.AddFullSampleToTrack(mp4.FullSample{
		Sample:     mp4.Sample{Flags: testSyncFlags, Dur: audioDur, Size: uint32(len(data))},
		DecodeTime: audioDT,
		Data:       data,
	}, 2))
	var buf bytes.Buffer
	require.NoError(t, frag.Encode(&buf))
	return buf.Bytes()
}

// encodeTfhdlessMoof returns a moof whose single traf has no tfhd box, so
// the timestamp rewrite must reject it.
func encodeTfhdlessMoof(t *testing.T, seqNr uint32) []byte {
	t.Helper()
	moof := &mp4.MoofBox{}
	_ = moof.AddChild(&mp4.MfhdBox{SequenceNumber: seqNr})
	traf := &mp4.TrafBox{}
	_ = moof.AddChild(traf)
	_ = traf.AddChild(&mp4.TfdtBox{})
	sw := bits.NewFixedSliceWriter(int(moof.Size()))
	require.NoError(t, moof.EncodeSW(sw))
	return sw.Bytes()
}

// decodeSegment decodes concatenated moof+mdat pairs into fragments.
func decodeSegment(t *testing.T, data []byte) []*mp4.Fragment {
	t.Helper()
	f, err := mp4.DecodeFileSR(bits.NewFixedSliceReader(data))
	require.NoError(t, err)
	require.Len(t, f.Segments, 1)
	return f.Segments[0].Fragments
}

// harness wires a segmenter to a box parser the way a pipeline does, but with
// a test-controlled clock and synchronous feeding.
type harness struct {
	clock  *fakeClock
	store  *Store
	seg    *Segmenter
	parser *boxparser.Parser
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	return newHarnessOn(t, opts, newFakeClock(), NewStore())
}

func newHarnessOn(t *testing.T, opts Options, clock *fakeClock, store *Store) *harness {
	t.Helper()
	if opts.Now == nil {
		opts.Now = clock.now
	}
	seg := NewSegmenter(opts, store, discardLogger())
	return &harness{
		clock:  clock,
		store:  store,
		seg:    seg,
		parser: boxparser.NewParser(nil, seg.onBox),
	}
}

func (h *harness) feed(t *testing.T, data []byte) {
	t.Helper()
	require.NoError(t, h.parser.Push(data))
	require.Zero(t, h.parser.Buffered())
}
