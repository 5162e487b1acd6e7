package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CaptureSource opens the upstream fMP4 byte stream for a channel.
// The production implementation talks to the capture service in front of the
// headless browser; tests substitute synthetic streams.
type CaptureSource interface {
	Open(ctx context.Context, captureURL string) (io.ReadCloser, error)
}

// httpCaptureSource fetches capture streams over HTTP. The response body is
// an unbounded live stream, so the client has header timeouts but no overall
// request timeout.
type httpCaptureSource struct {
	client *http.Client
}

func newHTTPCaptureSource() *httpCaptureSource {
	return &httpCaptureSource{
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 10 * time.Second,
			},
		},
	}
}

func (h *httpCaptureSource) Open(ctx context.Context, captureURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, captureURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create capture request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open capture stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("capture stream returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
