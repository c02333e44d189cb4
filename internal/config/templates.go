package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type serverTemplate struct {
	Host               string   `toml:"host"`
	Port               uint16   `toml:"port"`
	AdminAddr          string   `toml:"admin_addr"`
	CorsOrigins        []string `toml:"cors_origins"`
	Threads            int      `toml:"threads"`
	IdleTimeout        string   `toml:"idle_timeout"`
	MaxFrame           uint32   `toml:"max_frame"`
	MaxWriteQueueBytes int      `toml:"max_write_queue_bytes"`
	TCPNoDelay         bool     `toml:"tcp_nodelay"`
}

type clientTemplate struct {
	Host               string `toml:"host"`
	Port               uint16 `toml:"port"`
	ClientID           uint64 `toml:"client_id"`
	ConnectTimeout     string `toml:"connect_timeout"`
	HandshakeTimeout   string `toml:"handshake_timeout"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
}

// Template renders the default configuration for kind ("server" or "client").
func Template(kind string) (string, error) {
	var doc any
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		cfg := DefaultServerConfig()
		doc = serverTemplate{
			Host:               cfg.Host,
			Port:               cfg.Port,
			AdminAddr:          "127.0.0.1:9090",
			CorsOrigins:        []string{"http://localhost:3000"},
			Threads:            cfg.Session.Threads,
			IdleTimeout:        cfg.Session.IdleTimeout.String(),
			MaxFrame:           cfg.Session.MaxFrame,
			MaxWriteQueueBytes: cfg.Session.MaxWriteQueueBytes,
			TCPNoDelay:         cfg.Session.TCPNoDelay,
		}
	case "client":
		cfg := DefaultClientConfig()
		doc = clientTemplate{
			Host:               cfg.Host,
			Port:               cfg.Port,
			ClientID:           cfg.ClientID,
			ConnectTimeout:     cfg.Client.ConnectTimeout.String(),
			HandshakeTimeout:   cfg.Client.HandshakeTimeout.String(),
			MaxConnectAttempts: cfg.Client.MaxConnectAttempts,
		}
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	out, err := toml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("render %s template: %w", kind, err)
	}
	return string(out), nil
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
