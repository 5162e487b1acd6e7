package app

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prismcast/prismcast/pkg/resegment"
)

var (
	errUnknownChannel = errors.New("unknown channel")
	errStreamNotFound = errors.New("no active stream for channel")
)

const (
	reconnectDelay  = 2 * time.Second
	janitorInterval = time.Second
)

// stream is one active channel: a store that lives for the whole stream and
// the pipeline currently feeding it. The pipeline is replaced on handoff.
type stream struct {
	ch    ChannelConfig
	store *resegment.Store

	mu           sync.Mutex
	pipeline     *resegment.Pipeline
	closing      bool
	lastAccess   time.Time
	lastProgress time.Time
	lastIndex    uint64
	restarts     uint64
}

func (st *stream) touch(now time.Time) {
	st.mu.Lock()
	st.lastAccess = now
	st.mu.Unlock()
}

// StreamStatus is the management view of one active stream.
type StreamStatus struct {
	Channel  ChannelConfig      `json:"channel"`
	Restarts uint64             `json:"restarts"`
	Snapshot resegment.Snapshot `json:"snapshot"`
}

// streamMgr supervises the per-channel pipelines: it starts a pipeline on
// first tune, reconnects with a handoff when a capture ends, restarts stalled
// captures, and tears down streams nobody watches.
type streamMgr struct {
	cfg      *ServerConfig
	channels *ChannelList
	source   CaptureSource
	log      *slog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	streams map[string]*stream
}

func newStreamMgr(cfg *ServerConfig, channels *ChannelList, source CaptureSource,
	log *slog.Logger) *streamMgr {
	ctx, cancel := context.WithCancel(context.Background())
	m := &streamMgr{
		cfg:      cfg,
		channels: channels,
		source:   source,
		log:      log,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		streams:  make(map[string]*stream),
	}
	m.wg.Add(1)
	go m.janitor()
	return m
}

// Tune returns the store for a channel, starting a capture pipeline if the
// channel is not already streaming.
func (m *streamMgr) Tune(channelID string) (*resegment.Store, error) {
	ch, ok := m.channels.Get(channelID)
	if !ok {
		return nil, errUnknownChannel
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.streams[channelID]; ok {
		st.touch(now)
		return st.store, nil
	}
	st := &stream{
		ch:           ch,
		store:        resegment.NewStore(),
		lastAccess:   now,
		lastProgress: now,
	}
	m.streams[ch.ID] = st
	streamsActive.Inc()
	m.log.Info("tuning channel", "channel", ch.ID, "name", ch.Name)
	m.startPipeline(st, resegment.Options{
		TargetSegmentDurationS: m.cfg.HLS.SegmentDurationS,
		MaxSegments:            m.cfg.HLS.MaxSegments,
		KeyframeDiagnostics:    m.cfg.HLS.KeyframeDiagnostics,
	})
	return st.store, nil
}

// Lookup returns the store for a channel that is already streaming.
func (m *streamMgr) Lookup(channelID string) (*resegment.Store, bool) {
	m.mu.Lock()
	st, ok := m.streams[channelID]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	st.touch(m.now())
	return st.store, true
}

// startPipeline creates a new pipeline for st and connects the capture source
// to it asynchronously. Any previous pipeline must be stopped by the caller
// after this returns, so its OnStop sees itself replaced.
func (m *streamMgr) startPipeline(st *stream, opts resegment.Options) {
	var p *resegment.Pipeline
	p = resegment.NewPipeline(opts, st.store, m.log.With("channel", st.ch.ID),
		resegment.Callbacks{
			OnError: func(err error) {
				m.log.Error("capture stream failed", "channel", st.ch.ID, "err", err)
			},
			OnStop: func() {
				m.onPipelineStop(st, p)
			},
		})
	st.mu.Lock()
	st.pipeline = p
	st.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		src, err := m.source.Open(m.ctx, st.ch.CaptureURL)
		if err != nil {
			m.log.Error("capture open failed", "channel", st.ch.ID, "err", err)
			p.Stop()
			return
		}
		p.Pipe(src)
	}()
}

// onPipelineStop schedules a reconnect when the current pipeline of a live
// stream ends on its own. Pipelines stopped because they were replaced or
// torn down are left alone.
func (m *streamMgr) onPipelineStop(st *stream, p *resegment.Pipeline) {
	st.mu.Lock()
	current := st.pipeline == p && !st.closing
	st.mu.Unlock()
	if !current || m.ctx.Err() != nil {
		return
	}
	m.log.Info("capture ended, reconnecting", "channel", st.ch.ID,
		"delay", reconnectDelay)
	time.AfterFunc(reconnectDelay, func() {
		m.handoff(st, p, false)
	})
}

// handoff replaces the pipeline of st with a successor seeded from prev's
// snapshot, keeping segment indices, init version, and track timestamps
// monotonic. With disrupt set, prev is still running: its buffered fragments
// are flushed and it is stopped after the successor is in place.
func (m *streamMgr) handoff(st *stream, prev *resegment.Pipeline, disrupt bool) {
	st.mu.Lock()
	if st.closing || st.pipeline != prev || m.ctx.Err() != nil {
		st.mu.Unlock()
		return
	}
	st.restarts++
	st.mu.Unlock()

	if disrupt {
		prev.MarkDiscontinuity()
	}
	snap := prev.Snapshot()
	captureRestarts.WithLabelValues(st.ch.ID).Inc()
	m.log.Info("starting capture handoff", "channel", st.ch.ID,
		"nextSegmentIndex", snap.NextSegmentIndex, "initVersion", snap.InitVersion)
	opts := resegment.HandoffOptions(snap, m.cfg.HLS.SegmentDurationS,
		m.cfg.HLS.MaxSegments, m.cfg.HLS.KeyframeDiagnostics)
	m.startPipeline(st, opts)
	prev.Stop()
}

// Restart forces a disruptive capture restart for a channel, e.g. from the
// management API after the upstream player got stuck.
func (m *streamMgr) Restart(channelID string) error {
	m.mu.Lock()
	st, ok := m.streams[channelID]
	m.mu.Unlock()
	if !ok {
		return errStreamNotFound
	}
	st.mu.Lock()
	prev := st.pipeline
	closing := st.closing
	st.mu.Unlock()
	if closing || prev == nil {
		return errStreamNotFound
	}
	m.handoff(st, prev, true)
	return nil
}

// Stop tears down the stream for a channel.
func (m *streamMgr) Stop(channelID string) error {
	m.mu.Lock()
	st, ok := m.streams[channelID]
	if ok {
		delete(m.streams, channelID)
	}
	m.mu.Unlock()
	if !ok {
		return errStreamNotFound
	}
	m.teardown(st, "stopped by request")
	return nil
}

func (m *streamMgr) teardown(st *stream, reason string) {
	st.mu.Lock()
	st.closing = true
	p := st.pipeline
	st.mu.Unlock()
	streamsActive.Dec()
	m.log.Info("tearing down stream", "channel", st.ch.ID, "reason", reason)
	if p != nil {
		p.Stop()
	}
}

// Status returns the management view of one stream.
func (m *streamMgr) Status(channelID string) (StreamStatus, bool) {
	m.mu.Lock()
	st, ok := m.streams[channelID]
	m.mu.Unlock()
	if !ok {
		return StreamStatus{}, false
	}
	return m.status(st), true
}

func (m *streamMgr) status(st *stream) StreamStatus {
	st.mu.Lock()
	p := st.pipeline
	restarts := st.restarts
	st.mu.Unlock()
	s := StreamStatus{Channel: st.ch, Restarts: restarts}
	if p != nil {
		s.Snapshot = p.Snapshot()
	}
	return s
}

// ActiveStreams returns the status of all streams, ordered by channel ID.
func (m *streamMgr) ActiveStreams() []StreamStatus {
	m.mu.Lock()
	sts := make([]*stream, 0, len(m.streams))
	for _, st := range m.streams {
		sts = append(sts, st)
	}
	m.mu.Unlock()
	statuses := make([]StreamStatus, 0, len(sts))
	for _, st := range sts {
		statuses = append(statuses, m.status(st))
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Channel.ID < statuses[j].Channel.ID
	})
	return statuses
}

func (m *streamMgr) janitor() {
	defer m.wg.Done()
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep tears down idle streams and restarts captures that stopped making
// progress. Progress is measured by the next segment index, which is
// monotonic across handoffs.
func (m *streamMgr) sweep() {
	now := m.now()
	idle := time.Duration(m.cfg.Stream.IdleTimeoutS) * time.Second
	noMedia := time.Duration(m.cfg.Stream.NoMediaTimeoutS) * time.Second

	var toStop []*stream
	type stalled struct {
		st   *stream
		prev *resegment.Pipeline
	}
	var toRestart []stalled

	m.mu.Lock()
	for id, st := range m.streams {
		st.mu.Lock()
		p := st.pipeline
		if idle > 0 && now.Sub(st.lastAccess) > idle {
			delete(m.streams, id)
			toStop = append(toStop, st)
			st.mu.Unlock()
			continue
		}
		if p != nil {
			index := p.Snapshot().NextSegmentIndex
			switch {
			case index != st.lastIndex:
				st.lastIndex = index
				st.lastProgress = now
			case noMedia > 0 && now.Sub(st.lastProgress) > noMedia:
				st.lastProgress = now
				toRestart = append(toRestart, stalled{st: st, prev: p})
			}
		}
		st.mu.Unlock()
	}
	m.mu.Unlock()

	for _, st := range toStop {
		m.teardown(st, "idle")
	}
	for _, s := range toRestart {
		m.log.Warn("no media progress, restarting capture", "channel", s.st.ch.ID,
			"timeout", noMedia)
		m.handoff(s.st, s.prev, true)
	}
}

// Shutdown stops all streams and waits for supervision goroutines to finish.
func (m *streamMgr) Shutdown() {
	m.cancel()
	m.mu.Lock()
	sts := make([]*stream, 0, len(m.streams))
	for id, st := range m.streams {
		delete(m.streams, id)
		sts = append(sts, st)
	}
	m.mu.Unlock()
	for _, st := range sts {
		m.teardown(st, "shutdown")
	}
	m.wg.Wait()
}
