package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Agent.APIKey == "" {
		errs = append(errs, errors.New("agent.api_key is required"))
	}
	if cfg.Agent.AgentID == "" {
		errs = append(errs, errors.New("agent.agent_id is required"))
	}
	if cfg.Agent.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("agent.connect_timeout %s must not be negative", cfg.Agent.ConnectTimeout))
	}

	if cfg.Directory.PostgresDSN == "" {
		slog.Warn("directory.postgres_dsn is empty; every caller will be treated as a new caller")
	}

	if cfg.PostCall.URL == "" {
		slog.Warn("post_call.url is empty; completed calls will not trigger post-call processing")
	}
	if cfg.PostCall.Timeout < 0 {
		errs = append(errs, fmt.Errorf("post_call.timeout %s must not be negative", cfg.PostCall.Timeout))
	}

	if cfg.Audio.DownlinkQueueDepth < 0 {
		errs = append(errs, fmt.Errorf("audio.downlink_queue_depth %d must not be negative", cfg.Audio.DownlinkQueueDepth))
	}
	if cfg.Audio.UplinkHoldDepth < 0 {
		errs = append(errs, fmt.Errorf("audio.uplink_hold_depth %d must not be negative", cfg.Audio.UplinkHoldDepth))
	}

	return errors.Join(errs...)
}
