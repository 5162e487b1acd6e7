package logging

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func requireLogLevel(t *testing.T, ts *httptest.Server, level string) {
	t.Helper()
	resp, err := http.Get(ts.URL + "/loglevel")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, level+"\n", string(body))
}

func postLogLevel(t *testing.T, ts *httptest.Server, level string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("level", level))
	require.NoError(t, mw.Close())
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/loglevel", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestLogLevelRoutes(t *testing.T) {
	require.NoError(t, InitSlog("debug", LogDiscard))
	router := chi.NewRouter()
	for _, route := range LogRoutes {
		router.MethodFunc(route.Method, route.Path, route.Handler)
	}
	ts := httptest.NewServer(router)
	defer ts.Close()

	requireLogLevel(t, ts, "DEBUG")

	resp, body := postLogLevel(t, ts, "info")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "INFO\n", string(body))
	requireLogLevel(t, ts, "INFO")

	// A bad level gives 400 and leaves the level untouched.
	resp, _ = postLogLevel(t, ts, "banana")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	requireLogLevel(t, ts, "INFO")
}
