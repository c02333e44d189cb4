package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/swiftwire/internal/client"
	"github.com/danmuck/swiftwire/internal/protocol/session"
)

var ErrInvalid = errors.New("config: invalid")

const (
	DefaultServerHost        = "0.0.0.0"
	DefaultClientHost        = "127.0.0.1"
	DefaultPort       uint16 = 9000
	DefaultClientID   uint64 = 42
)

// ServerConfig is the resolved configuration for `swiftwire serve`.
type ServerConfig struct {
	Host        string
	Port        uint16
	AdminAddr   string
	CorsOrigins []string
	Session     session.Config
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:    DefaultServerHost,
		Port:    DefaultPort,
		Session: session.DefaultConfig(),
	}
}

func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

func (c ServerConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("%w: server host is required", ErrInvalid)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// ClientConfig is the resolved configuration for `swiftwire hello`.
type ClientConfig struct {
	Host     string
	Port     uint16
	ClientID uint64
	Client   client.Config
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:     DefaultClientHost,
		Port:     DefaultPort,
		ClientID: DefaultClientID,
		Client:   client.DefaultConfig(),
	}
}

func (c ClientConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("%w: client host is required", ErrInvalid)
	}
	if c.Port == 0 {
		return fmt.Errorf("%w: client port is required", ErrInvalid)
	}
	if c.Client.ConnectTimeout <= 0 || c.Client.HandshakeTimeout <= 0 {
		return fmt.Errorf("%w: client timeouts must be positive", ErrInvalid)
	}
	return nil
}

type serverFile struct {
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	AdminAddr          string   `toml:"admin_addr"`
	CorsOrigins        []string `toml:"cors_origins"`
	Threads            int      `toml:"threads"`
	IdleTimeout        string   `toml:"idle_timeout"`
	MaxFrame           int64    `toml:"max_frame"`
	MaxWriteQueueBytes int      `toml:"max_write_queue_bytes"`
	TCPNoDelay         bool     `toml:"tcp_nodelay"`
}

type clientFile struct {
	Host               string `toml:"host"`
	Port               int    `toml:"port"`
	ClientID           uint64 `toml:"client_id"`
	ConnectTimeout     string `toml:"connect_timeout"`
	HandshakeTimeout   string `toml:"handshake_timeout"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
}

// LoadServerConfig reads path over the defaults. Keys absent from the file
// keep their default value.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("load server config: %w", err)
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		port, err := parsePort(raw.Port)
		if err != nil {
			return ServerConfig{}, err
		}
		cfg.Port = port
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}
	if meta.IsDefined("threads") {
		cfg.Session.Threads = raw.Threads
	}
	if meta.IsDefined("idle_timeout") {
		d, err := parseDuration("idle_timeout", raw.IdleTimeout)
		if err != nil {
			return ServerConfig{}, err
		}
		cfg.Session.IdleTimeout = d
	}
	if meta.IsDefined("max_frame") {
		if raw.MaxFrame <= 0 || raw.MaxFrame > int64(^uint32(0)) {
			return ServerConfig{}, fmt.Errorf("%w: max_frame out of range: %d", ErrInvalid, raw.MaxFrame)
		}
		cfg.Session.MaxFrame = uint32(raw.MaxFrame)
	}
	if meta.IsDefined("max_write_queue_bytes") {
		cfg.Session.MaxWriteQueueBytes = raw.MaxWriteQueueBytes
	}
	if meta.IsDefined("tcp_nodelay") {
		cfg.Session.TCPNoDelay = raw.TCPNoDelay
	}

	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// LoadClientConfig reads path over the client defaults.
func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("load client config: %w", err)
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		port, err := parsePort(raw.Port)
		if err != nil {
			return ClientConfig{}, err
		}
		cfg.Port = port
	}
	if meta.IsDefined("client_id") {
		cfg.ClientID = raw.ClientID
	}
	if meta.IsDefined("connect_timeout") {
		d, err := parseDuration("connect_timeout", raw.ConnectTimeout)
		if err != nil {
			return ClientConfig{}, err
		}
		cfg.Client.ConnectTimeout = d
	}
	if meta.IsDefined("handshake_timeout") {
		d, err := parseDuration("handshake_timeout", raw.HandshakeTimeout)
		if err != nil {
			return ClientConfig{}, err
		}
		cfg.Client.HandshakeTimeout = d
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Client.MaxConnectAttempts = raw.MaxConnectAttempts
	}

	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimRight(strings.TrimSpace(origin), "/")
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func parsePort(v int) (uint16, error) {
	if v < 0 || v > 65535 {
		return 0, fmt.Errorf("%w: port out of range: %d", ErrInvalid, v)
	}
	return uint16(v), nil
}

func parseDuration(key, v string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%w: parse %s: %v", ErrInvalid, key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalid, key)
	}
	return d, nil
}
