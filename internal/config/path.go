package config

import (
	"os"
	"path/filepath"
	"strings"
)

// EnvConfigPath is the environment variable used to override the config
// file path when -config is not given.
const EnvConfigPath = "GATETUN_CONFIG"

type ConfigPathSource string

const (
	ConfigPathSourceFlag    ConfigPathSource = "flag"
	ConfigPathSourceEnv     ConfigPathSource = "env"
	ConfigPathSourceCWD     ConfigPathSource = "cwd"
	ConfigPathSourceDefault ConfigPathSource = "default"
)

type ResolvedConfigPath struct {
	Path   string
	Source ConfigPathSource
}

// ResolveConfigPath resolves the effective configuration file path.
//
// Precedence:
//  1. explicitFlagPath (from -config)
//  2. GATETUN_CONFIG environment variable
//  3. Auto-discovery in the current working directory (gatetun.yaml > gatetun.yml > gatetun.toml)
//  4. no config file (built-in defaults apply)
func ResolveConfigPath(explicitFlagPath string) ResolvedConfigPath {
	if p := strings.TrimSpace(explicitFlagPath); p != "" {
		return ResolvedConfigPath{Path: filepath.Clean(p), Source: ConfigPathSourceFlag}
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return ResolvedConfigPath{Path: filepath.Clean(p), Source: ConfigPathSourceEnv}
	}
	if p, ok := discoverConfigPath("."); ok {
		return ResolvedConfigPath{Path: p, Source: ConfigPathSourceCWD}
	}
	return ResolvedConfigPath{Path: "", Source: ConfigPathSourceDefault}
}

// discoverConfigPath looks for gatetun.yaml, gatetun.yml, or gatetun.toml in dir.
func discoverConfigPath(dir string) (string, bool) {
	for _, name := range []string{"gatetun.yaml", "gatetun.yml", "gatetun.toml"} {
		p := filepath.Join(dir, name)
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			return p, true
		}
	}
	return "", false
}
