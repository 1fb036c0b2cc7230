package server

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/relves/vaultgate/pkg/events"
	"github.com/relves/vaultgate/pkg/governor"
)

// Config holds server configuration.
type Config struct {
	Service   *governor.Service
	Resolver  PrincipalResolver
	Validator RequestValidator
	// Gatherer enables GET /metrics when set.
	Gatherer prometheus.Gatherer
	// Hub enables the websocket event feed when set. It must also be one
	// of the governor's sinks.
	Hub *events.Hub
	// OriginPatterns lists the hosts allowed to open the event feed from
	// a browser. Same-origin requests are always allowed.
	OriginPatterns []string
	Logger         *slog.Logger
}

// Option configures the server.
type Option func(*Config)

// WithService sets the governor the server exposes.
func WithService(svc *governor.Service) Option {
	return func(c *Config) {
		c.Service = svc
	}
}

// WithPrincipalResolver sets how the calling principal is read from a
// request. Defaults to the X-Principal header.
func WithPrincipalResolver(r PrincipalResolver) Option {
	return func(c *Config) {
		c.Resolver = r
	}
}

// WithValidator sets a request validator for account/rate-limit checks.
// If nil (default), no validation is performed.
func WithValidator(v RequestValidator) Option {
	return func(c *Config) {
		c.Validator = v
	}
}

// WithGatherer serves the metrics of g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(c *Config) {
		c.Gatherer = g
	}
}

// WithHub serves the live event feed from h.
func WithHub(h *events.Hub) Option {
	return func(c *Config) {
		c.Hub = h
	}
}

// WithOriginPatterns allows cross-origin event feed connections from the
// given host patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(c *Config) {
		c.OriginPatterns = append(c.OriginPatterns, patterns...)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

func applyOptions(opts ...Option) *Config {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
