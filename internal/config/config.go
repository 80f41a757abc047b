// Package config loads the server configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML scalars like "24h" or "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	// WSListen serves the WebSocket transport plus /metrics and pprof.
	WSListen string `yaml:"ws_listen"`
	// TCPListen serves the legacy raw-socket transport. Empty disables it.
	TCPListen string `yaml:"tcp_listen"`
	// ControlSocket is the operator unix-socket path.
	ControlSocket string `yaml:"control_socket"`

	DBPath  string `yaml:"db_path"`
	LogPath string `yaml:"log_path"` // empty logs to stderr only

	DefaultAutoDelete Duration `yaml:"default_autodelete"`
	PingInterval      Duration `yaml:"ping_interval"`

	// APIKeys maps operator API keys to display names. Every key here
	// logs in as an admin.
	APIKeys map[string]string `yaml:"api_keys"`
}

func Default() Config {
	return Config{
		WSListen:          ":24818",
		TCPListen:         ":24819",
		ControlSocket:     "/tmp/itemlink-control.sock",
		DBPath:            "data/rooms.db",
		DefaultAutoDelete: Duration(7 * 24 * time.Hour),
		PingInterval:      Duration(30 * time.Second),
	}
}

// Load reads path over the defaults. A missing file is not an error;
// the defaults stand.
func Load(path string) (Config, error) {
	c := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	if c.DefaultAutoDelete <= 0 {
		return c, fmt.Errorf("%s: default_autodelete must be positive", path)
	}
	if c.PingInterval <= 0 {
		return c, fmt.Errorf("%s: ping_interval must be positive", path)
	}
	return c, nil
}
