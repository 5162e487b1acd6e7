package app

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/spf13/pflag"

	"github.com/prismcast/prismcast/pkg/logging"
	"github.com/prismcast/prismcast/pkg/resegment"
)

type HLSConfig struct {
	SegmentDurationS    int  `json:"segmentduration"`
	MaxSegments         int  `json:"maxsegments"`
	KeyframeDiagnostics bool `json:"keyframediagnostics"`
}

type StreamConfig struct {
	IdleTimeoutS    int `json:"idletimeout"`
	NoMediaTimeoutS int `json:"nomediatimeout"`
}

type ServerConfig struct {
	LogFormat    string       `json:"logformat"`
	LogLevel     string       `json:"loglevel"`
	Port         int          `json:"port"`
	TimeoutS     int          `json:"timeout"`
	Domains      string       `json:"domains"`
	ChannelsFile string       `json:"channelsfile"`
	HLS          HLSConfig    `json:"hls"`
	Stream       StreamConfig `json:"stream"`

	// Version is set from the command line only.
	Version bool `json:"-"`
}

var DefaultConfig = ServerConfig{
	LogFormat:    "text",
	LogLevel:     "info",
	Port:         5004,
	TimeoutS:     30,
	ChannelsFile: "./channels.json",
	HLS: HLSConfig{
		SegmentDurationS: resegment.DefaultTargetSegmentDurationS,
		MaxSegments:      resegment.DefaultMaxSegments,
	},
	Stream: StreamConfig{
		IdleTimeoutS:    60,
		NoMediaTimeoutS: 15,
	},
}

// LoadConfig loads defaults, config file, command line, and finally applies
// environment variables with prefix PRISMCAST_.
//
// ChannelsFile is made absolute relative to cwd if needed.
func LoadConfig(args []string, cwd string) (*ServerConfig, error) {
	// First set default values
	k := koanf.New(".")
	defaults := DefaultConfig
	k.Load(structs.Provider(defaults, "json"), nil)

	f := pflag.NewFlagSet("prismcast", pflag.ContinueOnError)
	f.Usage = func() {
		parts := strings.Split(args[0], "/")
		name := parts[len(parts)-1]
		fmt.Fprintf(os.Stderr, "Run as %s [options]:\n", name)
		f.PrintDefaults()
	}
	cfgFile := f.String("cfg", "", "path to a JSON config file")
	f.Int("port", k.Int("port"), "HTTP port")
	lf := strings.Join(logging.LogFormats, ", ")
	f.String("logformat", k.String("logformat"), fmt.Sprintf("log format [%s]", lf))
	ll := strings.Join(logging.LogLevels, ", ")
	f.String("loglevel", k.String("loglevel"), fmt.Sprintf("log level [%s]", ll))
	f.Int("timeout", k.Int("timeout"), "timeout for all requests (seconds)")
	f.String("domains", k.String("domains"), "comma-separated domain names for automatic HTTPS")
	f.String("channelsfile", k.String("channelsfile"), "path to channel definitions JSON file")
	f.Int("hls.segmentduration", k.Int("hls.segmentduration"), "target segment duration (seconds)")
	f.Int("hls.maxsegments", k.Int("hls.maxsegments"), "number of segments kept in the playlist window")
	f.Bool("hls.keyframediagnostics", k.Bool("hls.keyframediagnostics"), "collect keyframe statistics per stream")
	f.Int("stream.idletimeout", k.Int("stream.idletimeout"),
		"tear down a stream after this many seconds without client requests (0 disables)")
	f.Int("stream.nomediatimeout", k.Int("stream.nomediatimeout"),
		"restart a capture after this many seconds without segment progress (0 disables)")
	showVersion := f.Bool("version", false, "print version and exit")
	if err := f.Parse(args[1:]); err != nil {
		return nil, fmt.Errorf("command line parse: %w", err)
	}

	// Load the config file provided on the command line.
	if *cfgFile != "" {
		cf := file.Provider(*cfgFile)
		if err := k.Load(cf, json.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	// Possibly override config file with command line parameters
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("parsing cli: %v", err)
	}

	// Overload with environment variables
	k.Load(env.Provider("PRISMCAST_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "PRISMCAST_")), "_", ".", -1)
	}), nil)

	// Make the channels file path absolute in case it is not already
	channelsFile := k.String("channelsfile")
	if channelsFile != "" && !path.IsAbs(channelsFile) {
		channelsFile = path.Join(cwd, channelsFile)
		k.Load(confmap.Provider(map[string]any{
			"channelsfile": channelsFile,
		}, "."), nil)
	}

	var cfg ServerConfig
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	if cfg.HLS.SegmentDurationS <= 0 {
		return nil, fmt.Errorf("hls.segmentduration must be positive")
	}
	if cfg.HLS.MaxSegments <= 0 {
		return nil, fmt.Errorf("hls.maxsegments must be positive")
	}
	cfg.Version = *showVersion

	return &cfg, nil
}
