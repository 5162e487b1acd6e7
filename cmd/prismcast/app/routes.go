package app

import (
	"github.com/go-chi/chi/v5/middleware"

	"github.com/prismcast/prismcast/pkg/logging"
)

// Routes defines dispatches for all routes.
func (s *Server) Routes() error {
	for _, route := range logging.LogRoutes {
		s.Router.MethodFunc(route.Method, route.Path, route.Handler)
	}
	s.Router.Mount("/debug", middleware.Profiler())
	s.Router.MethodFunc("GET", "/healthz", s.healthzHandlerFunc)

	// HDHomeRun tuner emulation
	s.Router.MethodFunc("GET", "/discover.json", s.discoverHandlerFunc)
	s.Router.MethodFunc("GET", "/lineup.json", s.lineupHandlerFunc)
	s.Router.MethodFunc("GET", "/lineup_status.json", s.lineupStatusHandlerFunc)
	s.Router.MethodFunc("POST", "/lineup.post", s.lineupPostHandlerFunc)
	s.Router.MethodFunc("GET", "/device.xml", s.deviceXMLHandlerFunc)

	// HLS egress
	s.Router.MethodFunc("GET", "/stream/{channelID}/playlist.m3u8", s.playlistHandlerFunc)
	s.Router.MethodFunc("GET", "/stream/{channelID}/init.mp4", s.initHandlerFunc)
	s.Router.MethodFunc("GET", "/stream/{channelID}/{segment}", s.segmentHandlerFunc)

	// Management API
	s.Router.Route("/api", createRouteAPI(s))

	return nil
}
