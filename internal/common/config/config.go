// Package config loads and saves the laptop settings from config.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	apperrors "github.com/nomadflow/nomadflow/internal/common/errors"
)

// Built-in defaults. The relay secret is the public shared secret baked into
// every client for the hosted relay; self-hosted relays override it.
const (
	DefaultBaseDir    = "~/.nomadflowcode"
	DefaultSession    = "nomadflow"
	DefaultTtydPort   = 7681
	DefaultAPIHost    = "0.0.0.0"
	DefaultAPIPort    = 8080
	DefaultRelayHost  = "relay.nomadflowcode.dev"
	DefaultRelayPort  = 7835
	DefaultRelaySecret = "nomadflow-public-relay"
)

// PathsConfig holds filesystem layout settings.
type PathsConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// TmuxConfig holds terminal-multiplexer settings.
type TmuxConfig struct {
	Session string `mapstructure:"session"`
}

// TtydConfig holds terminal-daemon settings.
type TtydConfig struct {
	Port int `mapstructure:"port"`
}

// APIConfig holds the HTTP listener settings.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// AuthConfig holds the shared secret. Empty means auth is disabled.
type AuthConfig struct {
	Secret string `mapstructure:"secret"`
}

// TunnelConfig holds the public-tunnel relay settings.
type TunnelConfig struct {
	RelayHost   string `mapstructure:"relay_host"`
	RelayPort   int    `mapstructure:"relay_port"`
	RelaySecret string `mapstructure:"relay_secret"`
	Subdomain   string `mapstructure:"subdomain"`
}

// Settings is the full laptop configuration, loaded once at process start.
type Settings struct {
	Paths  PathsConfig  `mapstructure:"paths"`
	Tmux   TmuxConfig   `mapstructure:"tmux"`
	Ttyd   TtydConfig   `mapstructure:"ttyd"`
	API    APIConfig    `mapstructure:"api"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Tunnel TunnelConfig `mapstructure:"tunnel"`
}

// DefaultConfigPath returns the expanded path of the default config file.
func DefaultConfigPath() string {
	return ExpandHome(filepath.Join(DefaultBaseDir, "config.toml"))
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.base_dir", DefaultBaseDir)
	v.SetDefault("tmux.session", DefaultSession)
	v.SetDefault("ttyd.port", DefaultTtydPort)
	v.SetDefault("api.host", DefaultAPIHost)
	v.SetDefault("api.port", DefaultAPIPort)
	v.SetDefault("auth.secret", "")
	v.SetDefault("tunnel.relay_host", DefaultRelayHost)
	v.SetDefault("tunnel.relay_port", DefaultRelayPort)
	v.SetDefault("tunnel.relay_secret", DefaultRelaySecret)
	v.SetDefault("tunnel.subdomain", "")
}

// Load reads settings from the given TOML file. An empty path means the
// default location; a missing file yields the defaults. Environment
// variables prefixed NOMADFLOW_ override file values, e.g.
// NOMADFLOW_API_PORT=9000.
func Load(path string) (*Settings, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)

	v.SetEnvPrefix("NOMADFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.Config("failed to parse config %s: %v", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, apperrors.Config("failed to decode config: %v", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Save writes the settings to the given TOML file, creating parent
// directories as needed. An empty path means the default location. Used by
// the setup wizard; the server itself never writes settings.
func (s *Settings) Save(path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return apperrors.IO(err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("paths.base_dir", s.Paths.BaseDir)
	v.Set("tmux.session", s.Tmux.Session)
	v.Set("ttyd.port", s.Ttyd.Port)
	v.Set("api.host", s.API.Host)
	v.Set("api.port", s.API.Port)
	v.Set("auth.secret", s.Auth.Secret)
	v.Set("tunnel.relay_host", s.Tunnel.RelayHost)
	v.Set("tunnel.relay_port", s.Tunnel.RelayPort)
	v.Set("tunnel.relay_secret", s.Tunnel.RelaySecret)
	v.Set("tunnel.subdomain", s.Tunnel.Subdomain)

	if err := v.WriteConfigAs(path); err != nil {
		return apperrors.Config("failed to write config %s: %v", path, err)
	}
	return nil
}

// Validate checks port ranges.
func (s *Settings) Validate() error {
	for _, p := range []struct {
		name string
		port int
	}{
		{"ttyd.port", s.Ttyd.Port},
		{"api.port", s.API.Port},
		{"tunnel.relay_port", s.Tunnel.RelayPort},
	} {
		if p.port < 1 || p.port > 65535 {
			return apperrors.Config("%s out of range: %d", p.name, p.port)
		}
	}
	return nil
}

// BaseDir returns the expanded base directory.
func (s *Settings) BaseDir() string {
	return ExpandHome(s.Paths.BaseDir)
}

// ReposDir returns the directory that holds cloned repositories.
func (s *Settings) ReposDir() string {
	return filepath.Join(s.BaseDir(), "repos")
}

// WorktreesDir returns the directory that holds feature worktrees.
func (s *Settings) WorktreesDir() string {
	return filepath.Join(s.BaseDir(), "worktrees")
}

// APIAddr returns the host:port the API listener binds.
func (s *Settings) APIAddr() string {
	return fmt.Sprintf("%s:%d", s.API.Host, s.API.Port)
}

// EnsureDirectories creates the base, repos, and worktrees directories.
func (s *Settings) EnsureDirectories() error {
	for _, dir := range []string{s.BaseDir(), s.ReposDir(), s.WorktreesDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return apperrors.IO(err)
		}
	}
	return nil
}
