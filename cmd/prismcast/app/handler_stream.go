package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

const (
	contentTypePlaylist = "application/vnd.apple.mpegurl"
	contentTypeInit     = "video/mp4"
	contentTypeSegment  = "video/iso.segment"
)

// playlistHandlerFunc serves the media playlist for a channel. The first
// request tunes the channel, which starts the capture pipeline; until the
// first segment is published the handler answers 503 with a Retry-After.
func (s *Server) playlistHandlerFunc(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	store, err := s.streamMgr.Tune(channelID)
	if err != nil {
		if errors.Is(err, errUnknownChannel) {
			http.Error(w, "unknown channel", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	playlist := store.Playlist()
	if playlist == nil {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "stream starting", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", contentTypePlaylist)
	w.Header().Set("Cache-Control", "no-cache")
	_, err = w.Write(playlist)
	if err != nil {
		s.log.Error("could not write playlist response", "err", err)
	}
}

// initHandlerFunc serves the current init segment for a channel.
func (s *Server) initHandlerFunc(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	store, ok := s.streamMgr.Lookup(channelID)
	if !ok {
		http.Error(w, "channel not streaming", http.StatusNotFound)
		return
	}
	init, ok := store.Init()
	if !ok {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "init segment not yet available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", contentTypeInit)
	w.Header().Set("Cache-Control", "no-cache")
	_, err := w.Write(init.Data)
	if err != nil {
		s.log.Error("could not write init response", "err", err)
	}
}

// segmentHandlerFunc serves a media segment. Segments that have been evicted
// from the window, or never existed, give 404.
func (s *Server) segmentHandlerFunc(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	segName := chi.URLParam(r, "segment")
	store, ok := s.streamMgr.Lookup(channelID)
	if !ok {
		http.Error(w, "channel not streaming", http.StatusNotFound)
		return
	}
	data, ok := store.Segment(segName)
	if !ok {
		http.Error(w, fmt.Sprintf("segment %q not in window", segName), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", contentTypeSegment)
	_, err := w.Write(data)
	if err != nil {
		s.log.Error("could not write segment response", "err", err)
	}
}
