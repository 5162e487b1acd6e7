package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prismcast/prismcast/internal"
	"github.com/prismcast/prismcast/pkg/logging"
)

type Server struct {
	Router    *chi.Mux
	Cfg       *ServerConfig
	log       *slog.Logger
	channels  *ChannelList
	streamMgr *streamMgr
}

// SetupServer sets up router, middleware, channels, and stream supervision.
func SetupServer(ctx context.Context, cfg *ServerConfig) (*Server, error) {
	return setupServer(ctx, cfg, newHTTPCaptureSource())
}

func setupServer(ctx context.Context, cfg *ServerConfig, source CaptureSource) (*Server, error) {
	log := slog.Default()

	channels, err := readChannels(cfg.ChannelsFile)
	if err != nil {
		return nil, fmt.Errorf("read channels: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.SlogMiddleWare(log))
	r.Use(middleware.Recoverer)
	r.Use(addVersionAndCORSHeaders)
	r.Use(NewPrometheusMiddleware())
	if cfg.TimeoutS > 0 {
		r.Use(middleware.Timeout(time.Duration(cfg.TimeoutS) * time.Second))
	}

	r.Mount("/metrics", promhttp.Handler())

	server := Server{
		Router:    r,
		Cfg:       cfg,
		log:       log,
		channels:  channels,
		streamMgr: newStreamMgr(cfg, channels, source, log),
	}

	if err := server.Routes(); err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}

	log.Info("prismcast starting", "version", internal.GetVersion(),
		"port", cfg.Port, "channels", len(channels.Channels))
	return &server, nil
}

// Shutdown stops all capture pipelines. Call after the HTTP server is done.
func (s *Server) Shutdown() {
	s.streamMgr.Shutdown()
}

func (s *Server) healthzHandlerFunc(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, true, http.StatusOK)
}

// jsonResponse marshals message and give response with code
//
// Don't add any more content after this since Content-Length is set
func (s *Server) jsonResponse(w http.ResponseWriter, message any, code int) {
	raw, err := json.Marshal(message)
	if err != nil {
		http.Error(w, fmt.Sprintf("{message: \"%s\"}", err), http.StatusInternalServerError)
		s.log.Error(err.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Header().Set("Content-Length", strconv.Itoa(len(raw)))
	_, err = w.Write(raw)
	if err != nil {
		s.log.Error("could not write HTTP response", "err", err)
	}
}
