package resegment

import "sync"

// InitSegment is a versioned init segment (ftyp + moov).
// The version is used as a cache buster in the playlist's EXT-X-MAP URI.
type InitSegment struct {
	Version uint32
	Data    []byte
}

// Store holds the published output of one stream: the current init segment,
// a bounded window of media segments, and the current playlist text.
// There is exactly one writer (the owning segmenter) and many readers
// (HTTP handlers). A publish is atomic from a reader's point of view:
// a playlist naming a segment and an init version is never observable
// before both are in place.
//
// A Store outlives individual pipelines, so the segment window stays
// available across a supervised capture handoff.
type Store struct {
	mu       sync.RWMutex
	segments map[string][]byte
	playlist []byte
	init     InitSegment
	hasInit  bool
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		segments: make(map[string][]byte),
	}
}

// Init returns the current init segment.
func (s *Store) Init() (InitSegment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.init, s.hasInit
}

// Segment returns the bytes for a named segment if it is still in the window.
func (s *Store) Segment(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.segments[name]
	return data, ok
}

// Playlist returns the current playlist text, or nil if none published yet.
func (s *Store) Playlist() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playlist
}

// publishInit publishes a new init segment.
func (s *Store) publishInit(init InitSegment) {
	s.mu.Lock()
	s.init = init
	s.hasInit = true
	s.mu.Unlock()
}

// publishSegment publishes a segment together with the playlist revision that
// names it, and evicts segments that fell out of the window, all under one
// lock acquisition.
func (s *Store) publishSegment(name string, data []byte, playlist []byte, evict []string) {
	s.mu.Lock()
	s.segments[name] = data
	s.playlist = playlist
	for _, e := range evict {
		delete(s.segments, e)
	}
	s.mu.Unlock()
}

// NrSegments returns the number of segments currently held.
func (s *Store) NrSegments() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segments)
}
