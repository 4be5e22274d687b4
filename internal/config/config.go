// Package config loads gatetun's YAML/TOML configuration file and resolves
// the command line into a fully-populated tunnel configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/gatetun/gatetun/internal/tunnel"
)

// defaultTimeout and the rate-bound sentinels apply when no config file is
// given: every timeout is 300s (tunnel.NoTimeout, which disables the relay
// idle timeout but is applied as a real deadline to the handshake and the
// target connect) and rate bounds are unrestricted.
const (
	defaultTimeout        = tunnel.NoTimeout
	defaultMaxRateBPM     = tunnel.NoBandwidthLimit
	defaultAllowedTargets = ".*"
)

// AdminLogBufferConfig controls the in-memory ring buffer the admin server
// tails at /logs.
type AdminLogBufferConfig struct {
	Enabled bool
	Size    int
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string
	// Format is one of: json, text.
	Format string
	// Output is one of: stderr, stdout; or a file path.
	Output string
	// AddSource enables source file/line reporting.
	AddSource   bool
	AdminBuffer AdminLogBufferConfig
}

// AppConfig is gatetun's fully-resolved runtime configuration: the CLI
// selects Mode/Bind/mode-specific fields, the optional config file supplies
// the tunnel policy, logging, and admin settings.
type AppConfig struct {
	Bind string
	Mode tunnel.Mode

	// TLSIdentityPath and TLSPassword are set for ModeHTTPS.
	TLSIdentityPath string
	TLSPassword     string

	// Destination is set for ModeTCP.
	Destination string

	AdminAddr string
	Logging   LoggingConfig
	Tunnel    tunnel.Config
}

type relayPolicyFile struct {
	IdleTimeout Duration `yaml:"idle_timeout" toml:"idle_timeout"`
	MinRateBPM  uint64   `yaml:"min_rate_bpm" toml:"min_rate_bpm"`
	MaxRateBPM  uint64   `yaml:"max_rate_bpm" toml:"max_rate_bpm"`
}

func (r relayPolicyFile) resolve() tunnel.RelayPolicy {
	return tunnel.RelayPolicy{
		IdleTimeout: r.IdleTimeout.AsTimeDuration(),
		MinRateBPM:  r.MinRateBPM,
		MaxRateBPM:  r.MaxRateBPM,
	}
}

type fileConfig struct {
	ClientConnection *struct {
		InitiationTimeout Duration        `yaml:"initiation_timeout" toml:"initiation_timeout"`
		RelayPolicy       relayPolicyFile `yaml:"relay_policy" toml:"relay_policy"`
	} `yaml:"client_connection" toml:"client_connection"`

	TargetConnection *struct {
		DNSCacheTTL    Duration        `yaml:"dns_cache_ttl" toml:"dns_cache_ttl"`
		AllowedTargets string          `yaml:"allowed_targets" toml:"allowed_targets"`
		ConnectTimeout Duration        `yaml:"connect_timeout" toml:"connect_timeout"`
		RelayPolicy    relayPolicyFile `yaml:"relay_policy" toml:"relay_policy"`
	} `yaml:"target_connection" toml:"target_connection"`

	AdminAddr *string `yaml:"admin_addr" toml:"admin_addr"`

	Logging *struct {
		Level       string `yaml:"level" toml:"level"`
		Format      string `yaml:"format" toml:"format"`
		Output      string `yaml:"output" toml:"output"`
		AddSource   bool   `yaml:"add_source" toml:"add_source"`
		AdminBuffer *struct {
			Enabled bool `yaml:"enabled" toml:"enabled"`
			Size    int  `yaml:"size" toml:"size"`
		} `yaml:"admin_buffer" toml:"admin_buffer"`
	} `yaml:"logging" toml:"logging"`
}

// defaultTunnelConfig is the config-less default: 300s initiation and
// connect timeouts, relay idle timeout and rate bounds disabled, every target
// allowed.
func defaultTunnelConfig() tunnel.Config {
	allowed := regexp.MustCompile(defaultAllowedTargets)
	policy := tunnel.RelayPolicy{IdleTimeout: defaultTimeout, MinRateBPM: 0, MaxRateBPM: defaultMaxRateBPM}
	return tunnel.Config{
		ClientConnection: tunnel.ClientConnectionConfig{
			InitiationTimeout: defaultTimeout,
			RelayPolicy:       policy,
		},
		TargetConnection: tunnel.TargetConnectionConfig{
			DNSCacheTTL:    60 * time.Second,
			AllowedTargets: allowed,
			ConnectTimeout: defaultTimeout,
			RelayPolicy:    policy,
		},
	}
}

// Load reads the config file at path, if non-empty, and returns the
// resolved tunnel policy, logging, and admin settings. An empty path
// returns the built-in defaults unchanged.
func Load(path string) (tunnel.Config, LoggingConfig, string, error) {
	logging := LoggingConfig{
		Level:       "info",
		Format:      "json",
		Output:      "stderr",
		AdminBuffer: AdminLogBufferConfig{Enabled: true, Size: 1000},
	}
	tcfg := defaultTunnelConfig()

	if strings.TrimSpace(path) == "" {
		return tcfg, logging, ":8080", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return tunnel.Config{}, LoggingConfig{}, "", fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc fileConfig
	if err := unmarshalConfigFile(path, data, &fc); err != nil {
		return tunnel.Config{}, LoggingConfig{}, "", fmt.Errorf("config: parse %s: %w", path, err)
	}

	if fc.ClientConnection != nil {
		tcfg.ClientConnection = tunnel.ClientConnectionConfig{
			InitiationTimeout: fc.ClientConnection.InitiationTimeout.AsTimeDuration(),
			RelayPolicy:       fc.ClientConnection.RelayPolicy.resolve(),
		}
	}
	if fc.TargetConnection != nil {
		allowed := regexp.MustCompile(defaultAllowedTargets)
		if strings.TrimSpace(fc.TargetConnection.AllowedTargets) != "" {
			compiled, err := regexp.Compile(fc.TargetConnection.AllowedTargets)
			if err != nil {
				return tunnel.Config{}, LoggingConfig{}, "", fmt.Errorf("config: invalid allowed_targets: %w", err)
			}
			allowed = compiled
		}
		tcfg.TargetConnection = tunnel.TargetConnectionConfig{
			DNSCacheTTL:    fc.TargetConnection.DNSCacheTTL.AsTimeDuration(),
			AllowedTargets: allowed,
			ConnectTimeout: fc.TargetConnection.ConnectTimeout.AsTimeDuration(),
			RelayPolicy:    fc.TargetConnection.RelayPolicy.resolve(),
		}
	}

	if fc.Logging != nil {
		if fc.Logging.Level != "" {
			logging.Level = fc.Logging.Level
		}
		if fc.Logging.Format != "" {
			logging.Format = fc.Logging.Format
		}
		if fc.Logging.Output != "" {
			logging.Output = fc.Logging.Output
		}
		logging.AddSource = fc.Logging.AddSource
		if fc.Logging.AdminBuffer != nil {
			logging.AdminBuffer.Enabled = fc.Logging.AdminBuffer.Enabled
			if fc.Logging.AdminBuffer.Size != 0 {
				logging.AdminBuffer.Size = fc.Logging.AdminBuffer.Size
			}
		}
	}

	adminAddr := ":8080"
	if fc.AdminAddr != nil {
		adminAddr = strings.TrimSpace(*fc.AdminAddr)
	}

	return tcfg, logging, adminAddr, nil
}

func unmarshalConfigFile(path string, data []byte, dst any) error {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		return dec.Decode(dst)
	case ".toml":
		md, err := toml.Decode(string(data), dst)
		if err != nil {
			return err
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			return fmt.Errorf("unknown fields: %v", undec)
		}
		return nil
	default:
		return fmt.Errorf("unsupported config extension %q (expected .toml or .yaml/.yml)", ext)
	}
}
