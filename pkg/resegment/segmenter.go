package resegment

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultTargetSegmentDurationS is the target media segment duration.
	DefaultTargetSegmentDurationS = 4
	// DefaultMaxSegments is the playlist sliding-window size.
	DefaultMaxSegments = 8

	// clampFactor bounds per-moof track durations to a band around the
	// anchored baseline. Durations outside [baseline/20, baseline*20]
	// are replaced by the baseline.
	clampFactor = 20

	// minSegmentDurationS is the EXTINF floor in seconds.
	minSegmentDurationS = 0.1
)

// Options configures a Segmenter. The zero value gives a fresh pipeline with
// default durations; the Starting*/Previous* fields seed a pipeline that takes
// over from an earlier one during a supervised capture handoff.
type Options struct {
	TargetSegmentDurationS int
	MaxSegments            int
	KeyframeDiagnostics    bool

	InitialTrackTimestamps  map[uint32]uint64
	StartingSegmentIndex    uint64
	StartingInitVersion     uint32
	PreviousInit            []byte
	PreviousDurations       []float64
	PreviousDiscontinuities []uint64
	PendingDiscontinuity    bool

	// Now is a clock override for tests. Defaults to time.Now.
	Now func() time.Time
}

type segState int

const (
	stateAwaitingInit segState = iota
	stateRunning
	stateStopped
)

func (s segState) String() string {
	switch s {
	case stateAwaitingInit:
		return "awaitingInit"
	case stateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// Snapshot is a read-only view of a segmenter's state, used by supervision
// for handoffs and by the management API for health reporting.
type Snapshot struct {
	State                string            `json:"state"`
	TrackTimestamps      map[uint32]uint64 `json:"trackTimestamps"`
	NextSegmentIndex     uint64            `json:"nextSegmentIndex"`
	InitVersion          uint32            `json:"initVersion"`
	Init                 []byte            `json:"-"`
	SegmentDurations     []float64         `json:"segmentDurations"`
	DiscontinuityIndices []uint64          `json:"discontinuityIndices"`
	SegmentsEmitted      uint64            `json:"segmentsEmitted"`
	IndeterminateMoofs   uint64            `json:"indeterminateMoofs"`
	ClampedFragments     uint64            `json:"clampedFragments"`
	Keyframes            KeyframeStats     `json:"keyframes"`
}

// Segmenter ingests top-level fMP4 boxes, rewrites fragment decode times to a
// continuous per-track timeline, groups fragments into media segments of a
// target duration, and publishes segments, init segment, and playlist to a
// Store. All mutations happen on the ingest path; concurrent snapshot and
// discontinuity calls from supervision are serialized by an internal mutex.
type Segmenter struct {
	mu    sync.Mutex
	opts  Options
	store *Store
	log   *slog.Logger
	now   func() time.Time

	state     segState
	ftyp      []byte
	initData  []byte
	mi        moovInfo
	counters  map[uint32]uint64
	baselines map[uint32]uint64

	initVersion          uint32
	pendingDiscontinuity bool
	discontinuities      map[uint64]bool

	nextIndex  uint64
	window     []float64
	hasEmitted bool

	buf          []byte
	segDurations map[uint32]uint64
	segStart     time.Time
	segFirstMoof bool

	kf keyframeTracker

	segmentsEmitted    uint64
	indeterminateMoofs uint64
	clampedFragments   uint64
}

// NewSegmenter creates a Segmenter publishing to store.
func NewSegmenter(opts Options, store *Store, log *slog.Logger) *Segmenter {
	if opts.TargetSegmentDurationS <= 0 {
		opts.TargetSegmentDurationS = DefaultTargetSegmentDurationS
	}
	if opts.MaxSegments <= 0 {
		opts.MaxSegments = DefaultMaxSegments
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	counters := make(map[uint32]uint64, len(opts.InitialTrackTimestamps))
	for trackID, t := range opts.InitialTrackTimestamps {
		counters[trackID] = t
	}
	window := append([]float64{}, opts.PreviousDurations...)
	if len(window) > opts.MaxSegments {
		window = window[len(window)-opts.MaxSegments:]
	}
	discontinuities := make(map[uint64]bool, len(opts.PreviousDiscontinuities))
	for _, index := range opts.PreviousDiscontinuities {
		discontinuities[index] = true
	}
	s := &Segmenter{
		opts:                 opts,
		store:                store,
		log:                  log,
		now:                  opts.Now,
		state:                stateAwaitingInit,
		mi:                   moovInfo{timescales: make(map[uint32]uint32), defaults: make(map[uint32]trackDefaults)},
		counters:             counters,
		baselines:            make(map[uint32]uint64),
		initVersion:          opts.StartingInitVersion,
		pendingDiscontinuity: opts.PendingDiscontinuity,
		discontinuities:      discontinuities,
		nextIndex:            opts.StartingSegmentIndex,
		window:               window,
		segDurations:         make(map[uint32]uint64),
		kf:                   keyframeTracker{enabled: opts.KeyframeDiagnostics, now: opts.Now},
	}
	return s
}

// onBox is the parser callback. The data slice is owned by the parser and is
// copied before being retained.
func (s *Segmenter) onBox(boxType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateStopped:
		return nil
	case stateAwaitingInit:
		return s.onInitBox(boxType, data)
	default:
		s.onMediaBox(boxType, data)
		return nil
	}
}

func (s *Segmenter) onInitBox(boxType string, data []byte) error {
	switch boxType {
	case "ftyp":
		s.ftyp = append([]byte{}, data...)
	case "moov":
		mi, err := parseMoov(data)
		if err != nil {
			// The init is served as raw bytes, so a moov that mp4ff cannot
			// fully decode still produces a working stream. Durations then
			// fall back to wall clock.
			s.log.Warn("failed to parse moov, using wall-clock durations", "err", err)
		}
		s.mi = mi
		s.publishInit(data)
		s.state = stateRunning
	default:
		s.log.Debug("ignoring box before moov", "type", boxType)
	}
	return nil
}

// publishInit assembles ftyp||moov and publishes it. The version is bumped
// only when the bytes differ from the previous pipeline's init; a byte
// identical init also suppresses a pending discontinuity since the decoder
// parameters are unchanged.
func (s *Segmenter) publishInit(moovData []byte) {
	init := make([]byte, 0, len(s.ftyp)+len(moovData))
	init = append(init, s.ftyp...)
	init = append(init, moovData...)
	if s.opts.PreviousInit != nil && bytes.Equal(init, s.opts.PreviousInit) {
		s.pendingDiscontinuity = false
	} else {
		s.initVersion++
	}
	s.initData = init
	s.store.publishInit(InitSegment{Version: s.initVersion, Data: init})
	s.log.Info("init segment published", "version", s.initVersion, "bytes", len(init),
		"tracks", len(s.mi.timescales))
}

func (s *Segmenter) onMediaBox(boxType string, data []byte) {
	if boxType == "moof" && len(s.buf) > 0 && s.shouldCut() {
		s.emit()
	}
	if len(s.buf) == 0 {
		s.segStart = s.now()
		s.segFirstMoof = true
	}
	if boxType == "moof" {
		data = s.processMoof(data)
		s.segFirstMoof = false
	}
	s.buf = append(s.buf, data...)
}

// shouldCut implements the segment cut policy: the very first segment is cut
// at the first complete fragment to minimize time to first byte; after that,
// segments are cut once the target duration has elapsed.
func (s *Segmenter) shouldCut() bool {
	if !s.hasEmitted {
		return true
	}
	return s.now().Sub(s.segStart) >= time.Duration(s.opts.TargetSegmentDurationS)*time.Second
}

// processMoof rewrites the decode times of a moof and returns the bytes to
// append to the segment buffer. A moof that cannot be rewritten is counted as
// indeterminate and passed through with its original timestamps, leaving the
// counters untouched.
func (s *Segmenter) processMoof(data []byte) []byte {
	firstOfSegment := s.segFirstMoof
	moof, err := decodeMoof(data)
	if err != nil {
		s.indeterminateMoofs++
		s.kf.observe(keyframeIndeterminate, firstOfSegment)
		s.log.Warn("moof decode failed, passing fragment through", "err", err)
		return data
	}
	if s.kf.enabled {
		s.kf.observe(classifyMoof(moof, s.mi.defaults), firstOfSegment)
	}
	durations, err := rewriteMoof(moof, s.counters, s.mi.defaults)
	if err != nil {
		s.indeterminateMoofs++
		s.log.Warn("moof rewrite failed, passing fragment through", "err", err)
		return data
	}
	enc, err := encodeMoof(moof)
	if err != nil {
		// Should not happen after a successful decode. Revert the counter
		// advances so the next fragment continues from the right time.
		for trackID, dur := range durations {
			s.counters[trackID] -= dur
		}
		s.indeterminateMoofs++
		s.log.Warn("moof encode failed, passing fragment through", "err", err)
		return data
	}
	for trackID, dur := range durations {
		s.segDurations[trackID] += s.clampDuration(trackID, dur)
	}
	return enc
}

// clampDuration applies the duration sanity clamp. The baseline is anchored
// to the first nonzero duration seen for a track and never updated, so one
// bursty fragment cannot poison the timeline. When the clamp fires, the
// counter advance made by the rewriter is replaced by the baseline.
func (s *Segmenter) clampDuration(trackID uint32, dur uint64) uint64 {
	if dur == 0 {
		return 0
	}
	baseline, ok := s.baselines[trackID]
	if !ok {
		s.baselines[trackID] = dur
		return dur
	}
	if dur > baseline*clampFactor || dur*clampFactor < baseline {
		s.counters[trackID] = s.counters[trackID] - dur + baseline
		s.clampedFragments++
		s.log.Debug("fragment duration outside sane band, clamped to baseline",
			"track", trackID, "duration", dur, "baseline", baseline)
		return baseline
	}
	return dur
}

// mediaDuration derives the EXTINF value for the buffered segment in seconds:
// the maximum over tracks of accumulated trun duration divided by timescale,
// falling back to wall clock when no media time is available.
func (s *Segmenter) mediaDuration() float64 {
	var maxSec float64
	for trackID, units := range s.segDurations {
		timescale, ok := s.mi.timescales[trackID]
		if !ok || timescale == 0 {
			continue
		}
		if sec := float64(units) / float64(timescale); sec > maxSec {
			maxSec = sec
		}
	}
	if maxSec == 0 {
		maxSec = s.now().Sub(s.segStart).Seconds()
	}
	if maxSec < minSegmentDurationS {
		maxSec = minSegmentDurationS
	}
	return maxSec
}

// emit publishes the buffered fragments as the next media segment together
// with a fresh playlist revision, and prunes the window.
func (s *Segmenter) emit() {
	if len(s.buf) == 0 {
		return
	}
	index := s.nextIndex
	if s.pendingDiscontinuity {
		s.discontinuities[index] = true
		s.pendingDiscontinuity = false
	}
	dur := s.mediaDuration()
	data := make([]byte, len(s.buf))
	copy(data, s.buf)

	s.nextIndex++
	s.window = append(s.window, dur)
	var evict []string
	for len(s.window) > s.opts.MaxSegments {
		evict = append(evict, segmentName(s.nextIndex-uint64(len(s.window))))
		s.window = s.window[1:]
	}
	playlist := generatePlaylist(s.window, s.nextIndex, s.opts.TargetSegmentDurationS,
		s.initVersion, s.discontinuities)
	s.store.publishSegment(segmentName(index), data, playlist, evict)
	s.hasEmitted = true
	s.segmentsEmitted++
	s.log.Debug("segment emitted", "index", index, "durS", fmt.Sprintf("%.3f", dur), "bytes", len(data))

	s.buf = s.buf[:0]
	s.segDurations = make(map[uint32]uint64)
	s.segStart = time.Time{}
	s.segFirstMoof = false
}

// markDiscontinuity emits whatever is buffered as a short segment and flags
// the next emitted segment as a discontinuity. Supervision calls this before
// replacing the capture source after a disruptive recovery.
func (s *Segmenter) markDiscontinuity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateStopped {
		return
	}
	s.emit()
	s.pendingDiscontinuity = true
}

// finish is the natural end-of-stream path: the remaining buffer is emitted
// as a final (possibly short) segment.
func (s *Segmenter) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateRunning {
		s.state = stateStopped
		return
	}
	s.emit()
	s.state = stateStopped
}

// stop discards any buffered fragments and stops accepting input.
func (s *Segmenter) stop() {
	s.mu.Lock()
	s.state = stateStopped
	s.mu.Unlock()
}

// snapshot returns a copy of the observable state.
func (s *Segmenter) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	timestamps := make(map[uint32]uint64, len(s.counters))
	for trackID, t := range s.counters {
		timestamps[trackID] = t
	}
	durations := append([]float64{}, s.window...)
	indices := make([]uint64, 0, len(s.discontinuities))
	for index := range s.discontinuities {
		indices = append(indices, index)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	var init []byte
	if s.initData != nil {
		init = append([]byte{}, s.initData...)
	}
	return Snapshot{
		State:                s.state.String(),
		TrackTimestamps:      timestamps,
		NextSegmentIndex:     s.nextIndex,
		InitVersion:          s.initVersion,
		Init:                 init,
		SegmentDurations:     durations,
		DiscontinuityIndices: indices,
		SegmentsEmitted:      s.segmentsEmitted,
		IndeterminateMoofs:   s.indeterminateMoofs,
		ClampedFragments:     s.clampedFragments,
		Keyframes:            s.kf.snapshot(),
	}
}
