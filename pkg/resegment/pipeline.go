package resegment

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/prismcast/prismcast/pkg/boxparser"
)

const ingestChunkSize = 32 * 1024

// Callbacks are invoked from the ingest goroutine when a pipeline ends.
// OnError fires at most once, for stream-level faults only; OnStop fires
// exactly once when the pipeline has stopped for any reason.
type Callbacks struct {
	OnError func(error)
	OnStop  func()
}

// Pipeline ties a box parser to a segmenter and drives them from an upstream
// capture byte stream on a single ingest goroutine. HTTP readers consume the
// associated Store and never touch the pipeline itself.
type Pipeline struct {
	seg    *Segmenter
	parser *boxparser.Parser
	store  *Store
	log    *slog.Logger
	cb     Callbacks

	mu      sync.Mutex
	src     io.ReadCloser
	started bool
	stopped bool

	endOnce sync.Once
	done    chan struct{}
}

// NewPipeline creates a pipeline publishing into store.
// The store may already hold output from a predecessor pipeline.
func NewPipeline(opts Options, store *Store, log *slog.Logger, cb Callbacks) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	seg := NewSegmenter(opts, store, log)
	p := &Pipeline{
		seg:   seg,
		store: store,
		log:   log,
		cb:    cb,
		done:  make(chan struct{}),
	}
	p.parser = boxparser.NewParser(make([]byte, 0, ingestChunkSize), seg.onBox)
	return p
}

// Store returns the store this pipeline publishes to.
func (p *Pipeline) Store() *Store {
	return p.store
}

// Pipe attaches the upstream byte stream and starts the ingest goroutine.
// It must be called at most once.
func (p *Pipeline) Pipe(src io.ReadCloser) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		_ = src.Close()
		return
	}
	p.src = src
	p.started = true
	p.mu.Unlock()
	go p.ingest(src)
}

func (p *Pipeline) ingest(src io.ReadCloser) {
	buf := make([]byte, ingestChunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if p.isStopped() {
				// In-flight chunks after a stop are dropped.
				p.end(nil)
				return
			}
			if perr := p.parser.Push(buf[:n]); perr != nil {
				p.log.Error("ingest decode error, stopping pipeline", "err", perr)
				p.seg.stop()
				_ = src.Close()
				p.end(perr)
				return
			}
		}
		if err != nil {
			switch {
			case p.isStopped():
				p.end(nil)
			case errors.Is(err, io.EOF):
				// Natural end of stream flushes the remaining fragments.
				p.seg.finish()
				p.end(nil)
			default:
				p.log.Error("ingest read error, stopping pipeline", "err", err)
				p.seg.stop()
				p.end(err)
			}
			return
		}
	}
}

func (p *Pipeline) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Stop detaches from the upstream, discards buffered fragments, and reports
// via OnStop. It is idempotent and safe to call from any goroutine. Unlike
// the natural end-of-stream path, Stop does not flush the fragment buffer.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	src := p.src
	started := p.started
	p.mu.Unlock()

	p.seg.stop()
	if src != nil {
		_ = src.Close()
	}
	if !started {
		p.end(nil)
	}
	// Otherwise the ingest goroutine observes the closed source and ends.
}

// end runs the one-time teardown: flush the parser and fire callbacks.
// Stream-level faults are propagated via OnError exactly once.
func (p *Pipeline) end(err error) {
	p.endOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
		p.parser.Flush()
		if err != nil && p.cb.OnError != nil {
			p.cb.OnError(err)
		}
		if p.cb.OnStop != nil {
			p.cb.OnStop()
		}
		close(p.done)
	})
}

// Done is closed when the pipeline has fully stopped.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// MarkDiscontinuity emits the buffered fragments as a short segment and flags
// the next segment as a discontinuity.
func (p *Pipeline) MarkDiscontinuity() {
	p.seg.markDiscontinuity()
}

// Snapshot returns the current observable segmenter state.
func (p *Pipeline) Snapshot() Snapshot {
	return p.seg.snapshot()
}

// HandoffOptions derives the Options that seed a successor pipeline from a
// snapshot, keeping segment indices, init version, and per-track decode
// timestamps monotonic across a capture handoff.
func HandoffOptions(snap Snapshot, targetSegmentDurationS, maxSegments int, keyframeDiagnostics bool) Options {
	return Options{
		TargetSegmentDurationS:  targetSegmentDurationS,
		MaxSegments:             maxSegments,
		KeyframeDiagnostics:     keyframeDiagnostics,
		InitialTrackTimestamps:  snap.TrackTimestamps,
		StartingSegmentIndex:    snap.NextSegmentIndex,
		StartingInitVersion:     snap.InitVersion,
		PreviousInit:            snap.Init,
		PreviousDurations:       snap.SegmentDurations,
		PreviousDiscontinuities: snap.DiscontinuityIndices,
		PendingDiscontinuity:    true,
	}
}
