package logging

import (
	"fmt"
	"net/http"
)

// Route is one HTTP route served by this package.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// LogRoutes are the routes for reading and changing the log level.
var LogRoutes = []Route{
	{"GET", "/loglevel", LogLevelGet},
	{"POST", "/loglevel", LogLevelSet},
}

// LogLevelGet responds with the current log level.
func LogLevelGet(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, LogLevel())
}

// LogLevelSet changes the log level from a posted form value,
// e.g. curl -F level=debug <server>/loglevel.
// It responds with the level now in effect.
func LogLevelSet(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 10); err != nil {
		http.Error(w, "bad form data", http.StatusBadRequest)
		return
	}
	level := r.FormValue("level")
	if err := SetLogLevel(level); err != nil {
		http.Error(w, fmt.Sprintf("bad log level %q", level), http.StatusBadRequest)
		return
	}
	fmt.Fprintln(w, LogLevel())
}
