package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
)

type ChannelsResponse struct {
	Body struct {
		Channels []ChannelConfig `json:"channels" doc:"All configured channels"`
	}
}

type StreamsResponse struct {
	Body struct {
		Streams []StreamStatus `json:"streams" doc:"All channels with an active capture pipeline"`
	}
}

type StreamResponse struct {
	Body StreamStatus
}

type StreamActionResponse struct {
	Body struct {
		ID     string `json:"id" doc:"Channel ID"`
		Action string `json:"action" doc:"Action that was performed"`
	}
}

type channelIDInput struct {
	ID string `path:"id" maxLength:"64" example:"espn" doc:"Channel ID"`
}

func createListChannelsHdlr(s *Server) func(ctx context.Context, input *struct{}) (*ChannelsResponse, error) {
	return func(ctx context.Context, input *struct{}) (*ChannelsResponse, error) {
		resp := &ChannelsResponse{}
		resp.Body.Channels = s.channels.Channels
		return resp, nil
	}
}

func createListStreamsHdlr(s *Server) func(ctx context.Context, input *struct{}) (*StreamsResponse, error) {
	return func(ctx context.Context, input *struct{}) (*StreamsResponse, error) {
		resp := &StreamsResponse{}
		resp.Body.Streams = s.streamMgr.ActiveStreams()
		return resp, nil
	}
}

func createGetStreamHdlr(s *Server) func(ctx context.Context, input *channelIDInput) (*StreamResponse, error) {
	return func(ctx context.Context, input *channelIDInput) (*StreamResponse, error) {
		status, ok := s.streamMgr.Status(input.ID)
		if !ok {
			return nil, huma.Error404NotFound(fmt.Sprintf("no active stream for channel %q", input.ID))
		}
		return &StreamResponse{Body: status}, nil
	}
}

func createRestartStreamHdlr(s *Server) func(ctx context.Context, input *channelIDInput) (*StreamActionResponse, error) {
	return func(ctx context.Context, input *channelIDInput) (*StreamActionResponse, error) {
		if err := s.streamMgr.Restart(input.ID); err != nil {
			return nil, huma.Error404NotFound(fmt.Sprintf("no active stream for channel %q", input.ID))
		}
		resp := &StreamActionResponse{}
		resp.Body.ID = input.ID
		resp.Body.Action = "restarted"
		return resp, nil
	}
}

func createStopStreamHdlr(s *Server) func(ctx context.Context, input *channelIDInput) (*StreamActionResponse, error) {
	return func(ctx context.Context, input *channelIDInput) (*StreamActionResponse, error) {
		if err := s.streamMgr.Stop(input.ID); err != nil {
			return nil, huma.Error404NotFound(fmt.Sprintf("no active stream for channel %q", input.ID))
		}
		resp := &StreamActionResponse{}
		resp.Body.ID = input.ID
		resp.Body.Action = "stopped"
		return resp, nil
	}
}

func createRouteAPI(s *Server) func(r chi.Router) {
	return func(r chi.Router) {
		config := huma.DefaultConfig("PrismCast management API", "1.0.0")
		config.Servers = []*huma.Server{
			{URL: "/api"},
		}
		config.Info.Description = `Inspect and control the capture pipelines behind the published channels.`

		api := humachi.New(r, config)

		huma.Register(api, huma.Operation{
			OperationID: "list-channels",
			Method:      http.MethodGet,
			Path:        "/channels",
			Summary:     "List configured channels",
			Tags:        []string{"channels"},
		}, createListChannelsHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "list-streams",
			Method:      http.MethodGet,
			Path:        "/streams",
			Summary:     "List active streams",
			Tags:        []string{"streams"},
		}, createListStreamsHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "get-stream",
			Method:      http.MethodGet,
			Path:        "/streams/{id}",
			Summary:     "Get status for one stream",
			Description: "Segment index, init version, timeline counters, and keyframe statistics.",
			Tags:        []string{"streams"},
			Errors:      []int{404},
		}, createGetStreamHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "restart-stream",
			Method:      http.MethodPost,
			Path:        "/streams/{id}/restart",
			Summary:     "Force a capture restart with handoff",
			Description: "Flushes buffered fragments, marks a discontinuity, and reconnects the capture source.",
			Tags:        []string{"streams"},
			Errors:      []int{404},
		}, createRestartStreamHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "stop-stream",
			Method:      http.MethodDelete,
			Path:        "/streams/{id}",
			Summary:     "Stop a stream",
			Tags:        []string{"streams"},
			Errors:      []int{404},
		}, createStopStreamHdlr(s))
	}
}
