// Package config resolves server settings from command-line flags, the process
// environment, and an optional .env file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

const (
	DefaultPort        = 8080
	DefaultAPIPrefix   = "/api"
	DefaultMetricsPath = "/metrics"
	DefaultRateLimit   = 100
	DefaultRateWindow  = time.Minute
	DefaultLogLevel    = "info"
	DefaultEnvFile     = ".env"
)

// ErrHelp is returned by Load when usage was requested with -h or --help.
var ErrHelp = pflag.ErrHelp

// Config holds the resolved server settings.
type Config struct {
	Port        int
	APIPrefix   string
	MetricsPath string
	RateLimit   int
	RateWindow  time.Duration
	LogLevel    string
	EnvFile     string

	// EnvFileLoaded reports whether EnvFile existed and was read.
	EnvFileLoaded bool
}

// Addr is the listen address for the configured port.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// setting binds one flag to its environment variable.
type setting struct {
	flag string
	env  string
}

var (
	portSetting        = setting{"port", "PORT"}
	apiPrefixSetting   = setting{"api-prefix", "API_PREFIX"}
	metricsPathSetting = setting{"metrics-path", "METRICS_PATH"}
	rateLimitSetting   = setting{"rate-limit", "RATE_LIMIT"}
	rateWindowSetting  = setting{"rate-window", "RATE_WINDOW"}
	logLevelSetting    = setting{"log-level", "LOG_LEVEL"}
	envFileSetting     = setting{"env-file", "ENV_FILE"}
)

// Load parses args (without the program name) and resolves every setting.
// A missing .env file is not an error; a malformed one is.
func Load(args []string) (Config, error) {
	flags := pflag.NewFlagSet("server", pflag.ContinueOnError)
	flags.SortFlags = false
	port := flags.Int(portSetting.flag, DefaultPort, "port to listen on ($PORT)")
	apiPrefix := flags.String(apiPrefixSetting.flag, DefaultAPIPrefix, "path the API router is mounted at ($API_PREFIX)")
	metricsPath := flags.String(metricsPathSetting.flag, DefaultMetricsPath, "prometheus endpoint, empty disables ($METRICS_PATH)")
	rateLimit := flags.Int(rateLimitSetting.flag, DefaultRateLimit, "requests per client IP per window, 0 disables ($RATE_LIMIT)")
	rateWindow := flags.Duration(rateWindowSetting.flag, DefaultRateWindow, "rate limit window ($RATE_WINDOW)")
	logLevel := flags.String(logLevelSetting.flag, DefaultLogLevel, "minimum log level ($LOG_LEVEL)")
	envFile := flags.String(envFileSetting.flag, DefaultEnvFile, "dotenv file to read ($ENV_FILE)")

	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:        *port,
		APIPrefix:   *apiPrefix,
		MetricsPath: *metricsPath,
		RateLimit:   *rateLimit,
		RateWindow:  *rateWindow,
		LogLevel:    *logLevel,
		EnvFile:     *envFile,
	}
	if !flags.Changed(envFileSetting.flag) {
		if v, ok := os.LookupEnv(envFileSetting.env); ok {
			cfg.EnvFile = v
		}
	}

	dotenv, err := readEnvFile(cfg.EnvFile)
	if err != nil {
		return Config{}, err
	}
	cfg.EnvFileLoaded = dotenv != nil

	r := resolver{flags: flags, dotenv: dotenv}
	r.int(portSetting, &cfg.Port)
	r.string(apiPrefixSetting, &cfg.APIPrefix)
	r.string(metricsPathSetting, &cfg.MetricsPath)
	r.int(rateLimitSetting, &cfg.RateLimit)
	r.duration(rateWindowSetting, &cfg.RateWindow)
	r.string(logLevelSetting, &cfg.LogLevel)
	if r.err != nil {
		return Config{}, r.err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	case !strings.HasPrefix(c.APIPrefix, "/"):
		return fmt.Errorf("invalid api prefix %q: must start with /", c.APIPrefix)
	case c.APIPrefix == "/" || strings.HasSuffix(c.APIPrefix, "/"):
		return fmt.Errorf("invalid api prefix %q: must not end with /", c.APIPrefix)
	case c.APIPrefix == "/health" || (c.MetricsPath != "" && c.APIPrefix == c.MetricsPath):
		return fmt.Errorf("invalid api prefix %q: collides with another route", c.APIPrefix)
	case c.MetricsPath != "" && !strings.HasPrefix(c.MetricsPath, "/"):
		return fmt.Errorf("invalid metrics path %q: must start with /", c.MetricsPath)
	case c.MetricsPath == "/health" || c.MetricsPath == c.APIPrefix || strings.HasPrefix(c.MetricsPath, c.APIPrefix+"/"):
		return fmt.Errorf("invalid metrics path %q: collides with another route", c.MetricsPath)
	case c.RateLimit < 0:
		return fmt.Errorf("invalid rate limit %d: must not be negative", c.RateLimit)
	case c.RateLimit > 0 && c.RateWindow <= 0:
		return fmt.Errorf("invalid rate window %s: must be positive", c.RateWindow)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

// readEnvFile returns the key/value pairs in path, or nil when the file does not exist.
func readEnvFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	return values, nil
}

// resolver applies env and .env values to settings whose flag was not given.
// Blank numeric values are ignored. The first parse error is kept in err.
type resolver struct {
	flags  *pflag.FlagSet
	dotenv map[string]string
	err    error
}

func (r *resolver) lookup(s setting) (string, bool) {
	if r.err != nil || r.flags.Changed(s.flag) {
		return "", false
	}
	if v, ok := os.LookupEnv(s.env); ok {
		return v, true
	}
	v, ok := r.dotenv[s.env]
	return v, ok
}

func (r *resolver) string(s setting, dst *string) {
	if v, ok := r.lookup(s); ok {
		*dst = strings.TrimSpace(v)
	}
}

func (r *resolver) int(s setting, dst *int) {
	v, ok := r.lookup(s)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.err = fmt.Errorf("parse %s: %w", s.env, err)
		return
	}
	*dst = n
}

func (r *resolver) duration(s setting, dst *time.Duration) {
	v, ok := r.lookup(s)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		r.err = fmt.Errorf("parse %s: %w", s.env, err)
		return
	}
	*dst = d
}
