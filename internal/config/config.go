// Package config loads and validates the gateway's policy configuration.
//
// Configuration comes from an optional YAML file merged with environment
// variable overrides. Validation is fail-closed: an invalid limit, hour
// range, or stage list stops the process at startup instead of surfacing
// per request.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"chat-gateway/internal/pipeline"
	pkgconfig "chat-gateway/pkg/config"
)

// Audit sink kinds selectable via audit.sink.
const (
	SinkFile     = "file"
	SinkSlog     = "slog"
	SinkPostgres = "postgres"
)

// Duration wraps time.Duration with YAML string parsing ("60s", "1m30s").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the gateway's full configuration.
type Config struct {
	Pipeline struct {
		// Stages is the ordered stage list. Valid names: audit,
		// timewindow, role, ratelimit. Order is significant.
		Stages []string `yaml:"stages"`
	} `yaml:"pipeline"`

	RateLimit struct {
		// Limit is the maximum POSTs per client key per window.
		Limit int `yaml:"limit"`
		// Window is the trailing window duration.
		Window Duration `yaml:"window"`
		// MaxKeys bounds the in-memory store.
		MaxKeys int `yaml:"max_keys"`
		// CleanupSchedule is a cron expression for store maintenance.
		CleanupSchedule string `yaml:"cleanup_schedule"`
	} `yaml:"ratelimit"`

	AllowedHours struct {
		// Start and End bound the allowed interval [Start, End).
		// Start > End wraps midnight.
		Start int `yaml:"start"`
		End   int `yaml:"end"`
	} `yaml:"allowed_hours"`

	Roles struct {
		// Authorized lists the roles allowed to issue mutating requests.
		Authorized []string `yaml:"authorized"`
	} `yaml:"roles"`

	Audit struct {
		// Sink selects the destination: file, slog, or postgres.
		Sink string `yaml:"sink"`
		// FilePath is the log file for the file sink.
		FilePath string `yaml:"file_path"`
		// SinkTimeout bounds one audit write.
		SinkTimeout Duration `yaml:"sink_timeout"`
	} `yaml:"audit"`

	Proxy struct {
		// TrustForwardedFor enables X-Forwarded-For key resolution.
		TrustForwardedFor bool `yaml:"trust_forwarded_for"`
		// TrustedProxies lists trusted proxy IPs or CIDR ranges.
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"proxy"`

	Server struct {
		// Addr is the gateway's listen address.
		Addr string `yaml:"addr"`
		// UpstreamURL is the downstream chat application.
		UpstreamURL string `yaml:"upstream_url"`
	} `yaml:"server"`
}

// knownStages is the set of valid pipeline stage names.
var knownStages = map[string]bool{
	pipeline.StageAudit:      true,
	pipeline.StageTimeWindow: true,
	pipeline.StageRole:       true,
	pipeline.StageRateLimit:  true,
}

// Default returns the shipped configuration: all four stages in their
// canonical order, 5 POSTs per 60 seconds, blackout hours 21:00-06:00
// (allowed interval [6, 21)), and admin/moderator as the mutating roles.
func Default() *Config {
	cfg := &Config{}
	cfg.Pipeline.Stages = []string{
		pipeline.StageAudit,
		pipeline.StageTimeWindow,
		pipeline.StageRole,
		pipeline.StageRateLimit,
	}
	cfg.RateLimit.Limit = 5
	cfg.RateLimit.Window = Duration(60 * time.Second)
	cfg.RateLimit.MaxKeys = 10000
	cfg.RateLimit.CleanupSchedule = "*/5 * * * *"
	cfg.AllowedHours.Start = 6
	cfg.AllowedHours.End = 21
	cfg.Roles.Authorized = []string{pipeline.RoleAdmin, pipeline.RoleModerator}
	cfg.Audit.Sink = SinkFile
	cfg.Audit.FilePath = "requests.log"
	cfg.Audit.SinkTimeout = Duration(500 * time.Millisecond)
	cfg.Server.Addr = ":8080"
	cfg.Server.UpstreamURL = "http://localhost:8000"
	return cfg
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 -- path is provided by trusted source (CLI arg), not user input
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv merges environment variable overrides onto the config.
func (c *Config) applyEnv() {
	c.RateLimit.Limit = pkgconfig.GetEnvInt("RATELIMIT_LIMIT", c.RateLimit.Limit)
	c.RateLimit.Window = Duration(pkgconfig.GetEnvDuration("RATELIMIT_WINDOW", c.RateLimit.Window.Std()))
	c.RateLimit.MaxKeys = pkgconfig.GetEnvInt("RATELIMIT_MAX_KEYS", c.RateLimit.MaxKeys)
	c.AllowedHours.Start = pkgconfig.GetEnvInt("ALLOWED_HOURS_START", c.AllowedHours.Start)
	c.AllowedHours.End = pkgconfig.GetEnvInt("ALLOWED_HOURS_END", c.AllowedHours.End)
	c.Roles.Authorized = pkgconfig.GetEnvStringList("AUTHORIZED_ROLES", c.Roles.Authorized)
	c.Audit.Sink = pkgconfig.GetEnvString("AUDIT_SINK", c.Audit.Sink)
	c.Audit.FilePath = pkgconfig.GetEnvString("AUDIT_FILE_PATH", c.Audit.FilePath)
	c.Proxy.TrustForwardedFor = pkgconfig.GetEnvBool("TRUST_FORWARDED_FOR", c.Proxy.TrustForwardedFor)
	c.Proxy.TrustedProxies = pkgconfig.GetEnvStringList("TRUSTED_PROXIES", c.Proxy.TrustedProxies)
	c.Server.Addr = pkgconfig.GetEnvString("GATEWAY_ADDR", c.Server.Addr)
	c.Server.UpstreamURL = pkgconfig.GetEnvString("UPSTREAM_URL", c.Server.UpstreamURL)
}

// Validate checks every field that could otherwise fail at request time.
func (c *Config) Validate() error {
	if len(c.Pipeline.Stages) == 0 {
		return fmt.Errorf("pipeline.stages must not be empty")
	}
	seen := map[string]bool{}
	for _, name := range c.Pipeline.Stages {
		if !knownStages[name] {
			return fmt.Errorf("unknown pipeline stage %q", name)
		}
		if seen[name] {
			return fmt.Errorf("duplicate pipeline stage %q", name)
		}
		seen[name] = true
	}

	if c.RateLimit.Limit <= 0 {
		return fmt.Errorf("ratelimit.limit must be positive, got %d", c.RateLimit.Limit)
	}
	if err := pkgconfig.ValidatePositiveDuration(c.RateLimit.Window.Std()); err != nil {
		return fmt.Errorf("ratelimit.window: %w", err)
	}
	if c.RateLimit.MaxKeys <= 0 {
		return fmt.Errorf("ratelimit.max_keys must be positive, got %d", c.RateLimit.MaxKeys)
	}

	if err := pkgconfig.ValidateHour(c.AllowedHours.Start); err != nil {
		return fmt.Errorf("allowed_hours.start: %w", err)
	}
	if err := pkgconfig.ValidateHour(c.AllowedHours.End); err != nil {
		return fmt.Errorf("allowed_hours.end: %w", err)
	}
	if c.AllowedHours.Start == c.AllowedHours.End {
		return fmt.Errorf("allowed_hours.start and end must differ (an empty or full-day interval is ambiguous)")
	}

	if len(c.Roles.Authorized) == 0 {
		return fmt.Errorf("roles.authorized must not be empty")
	}

	switch c.Audit.Sink {
	case SinkFile:
		if c.Audit.FilePath == "" {
			return fmt.Errorf("audit.file_path is required for the file sink")
		}
	case SinkSlog, SinkPostgres:
	default:
		return fmt.Errorf("unknown audit sink %q", c.Audit.Sink)
	}
	if err := pkgconfig.ValidatePositiveDuration(c.Audit.SinkTimeout.Std()); err != nil {
		return fmt.Errorf("audit.sink_timeout: %w", err)
	}

	if _, err := c.TrustedProxyPrefixes(); err != nil {
		return err
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Server.UpstreamURL == "" {
		return fmt.Errorf("server.upstream_url must not be empty")
	}
	return nil
}

// TrustedProxyPrefixes parses proxy.trusted_proxies into prefixes. Single
// addresses become /32 or /128 prefixes. When trust is enabled the list
// must be non-empty and fully valid: a typo here would silently disable
// spoofing protection, so it fails the load instead.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	if c.Proxy.TrustForwardedFor && len(c.Proxy.TrustedProxies) == 0 {
		return nil, fmt.Errorf("proxy.trust_forwarded_for is enabled but proxy.trusted_proxies is empty")
	}

	prefixes := make([]netip.Prefix, 0, len(c.Proxy.TrustedProxies))
	for _, s := range c.Proxy.TrustedProxies {
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			ip, ipErr := netip.ParseAddr(s)
			if ipErr != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: must be an IP address or CIDR range", s)
			}
			bits := 32
			if ip.Is6() {
				bits = 128
			}
			prefix = netip.PrefixFrom(ip, bits)
		}
		prefixes = append(prefixes, prefix)
	}
	return prefixes, nil
}
