// Package config loads client settings from flags and GERTI_* environment
// variables, and parses the binary peer list.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ZentaChain/gerti-client/pkg/logging"
	"github.com/ZentaChain/gerti-client/pkg/protocol"
)

var (
	ErrInvalidConfig = errors.New("invalid config")
)

// Port selection for peer-list entries
const (
	PortModePeer    = "peer"
	PortModeGateway = "gateway"
)

// Defaults
const (
	DefaultKeyPath      = "./keys/identity.pem"
	DefaultKeyStorePath = "./keys/peers.keys"
	DefaultPeersPath    = "./peers.bin"
	DefaultInboxPath    = "./data/inbox.db"
	DefaultInboxTTL     = 7 * 24 * time.Hour
	DefaultAPIAddr      = "127.0.0.1:8741"
	DefaultVersion      = "2.0"
)

// Config holds runtime configuration for the client.
type Config struct {
	// Identity
	Address      string
	KeyPath      string
	KeyStorePath string

	// Peers
	PeersPath string
	PeerAddrs []string // extra multiaddrs, e.g. /ip4/10.0.0.5/tcp/4378
	PortMode  string
	Version   string

	// Reconnect backoff
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// Inbox
	InboxPath string
	InboxTTL  time.Duration

	// API; empty disables the HTTP server
	APIAddr string

	// Logging
	LogLevel       string
	LogFile        string
	LogDevelopment bool
}

// FromEnv returns defaults overridden by GERTI_* environment variables.
func FromEnv() Config {
	return Config{
		Address:        envWithDefault("GERTI_ADDRESS", ""),
		KeyPath:        envWithDefault("GERTI_KEY", DefaultKeyPath),
		KeyStorePath:   envWithDefault("GERTI_KEYSTORE", DefaultKeyStorePath),
		PeersPath:      envWithDefault("GERTI_PEERS", DefaultPeersPath),
		PeerAddrs:      splitAndTrim(os.Getenv("GERTI_PEER_ADDRS")),
		PortMode:       envWithDefault("GERTI_PORT_MODE", PortModePeer),
		Version:        envWithDefault("GERTI_VERSION", DefaultVersion),
		BackoffBase:    parseDurationEnv("GERTI_BACKOFF_BASE", time.Second),
		BackoffMax:     parseDurationEnv("GERTI_BACKOFF_MAX", 30*time.Second),
		InboxPath:      envWithDefault("GERTI_INBOX", DefaultInboxPath),
		InboxTTL:       parseDurationEnv("GERTI_INBOX_TTL", DefaultInboxTTL),
		APIAddr:        envWithDefault("GERTI_API_ADDR", DefaultAPIAddr),
		LogLevel:       envWithDefault("GERTI_LOG_LEVEL", logging.DefaultLevel),
		LogFile:        envWithDefault("GERTI_LOG_FILE", ""),
		LogDevelopment: parseBoolEnv("GERTI_LOG_DEV", false),
	}
}

// RegisterFlags binds every field to fs, using the current values as
// defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Address, "address", c.Address, "Local GERTi address, e.g. 10.20 or 10.20:1.2 (required)")
	fs.StringVar(&c.KeyPath, "key", c.KeyPath, "Path to the PKCS#8 PEM identity key")
	fs.StringVar(&c.KeyStorePath, "keystore", c.KeyStorePath, "Path to the peer key-store file")
	fs.StringVar(&c.PeersPath, "peers", c.PeersPath, "Path to the binary peer list (empty to skip)")
	// The first -peer replaces GERTI_PEER_ADDRS; later ones append.
	peerSet := false
	fs.Func("peer", "Extra peer multiaddr (repeatable, replaces GERTI_PEER_ADDRS)", func(s string) error {
		if !peerSet {
			c.PeerAddrs = nil
			peerSet = true
		}
		c.PeerAddrs = append(c.PeerAddrs, strings.TrimSpace(s))
		return nil
	})
	fs.StringVar(&c.PortMode, "port-mode", c.PortMode, "Peer-list port to dial: peer or gateway")
	fs.StringVar(&c.Version, "version", c.Version, "Greeting protocol version: 2.0 or 1.1")
	fs.DurationVar(&c.BackoffBase, "backoff-base", c.BackoffBase, "Initial redial delay")
	fs.DurationVar(&c.BackoffMax, "backoff-max", c.BackoffMax, "Maximum redial delay")
	fs.StringVar(&c.InboxPath, "inbox", c.InboxPath, "Path to the inbox database")
	fs.DurationVar(&c.InboxTTL, "inbox-ttl", c.InboxTTL, "How long received packets are kept")
	fs.StringVar(&c.APIAddr, "api", c.APIAddr, "HTTP API listen address (empty to disable)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "Rotated log file (default stdout)")
	fs.BoolVar(&c.LogDevelopment, "log-dev", c.LogDevelopment, "Human-readable console logs")
}

// Load builds a config from the environment and args, then validates it.
func Load(name string, args []string) (Config, error) {
	cfg := FromEnv()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidConfig)
	}
	if _, err := protocol.ParseAddress(c.Address); err != nil {
		return fmt.Errorf("%w: address: %v", ErrInvalidConfig, err)
	}
	if c.KeyPath == "" {
		return fmt.Errorf("%w: key path is required", ErrInvalidConfig)
	}
	if c.KeyStorePath == "" {
		return fmt.Errorf("%w: key store path is required", ErrInvalidConfig)
	}
	if c.PeersPath == "" && len(c.PeerAddrs) == 0 {
		return fmt.Errorf("%w: no peers configured", ErrInvalidConfig)
	}
	if c.PortMode != PortModePeer && c.PortMode != PortModeGateway {
		return fmt.Errorf("%w: port mode %q", ErrInvalidConfig, c.PortMode)
	}
	if _, err := c.ProtocolVersion(); err != nil {
		return err
	}
	if c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("%w: backoff %v..%v", ErrInvalidConfig, c.BackoffBase, c.BackoffMax)
	}
	if c.InboxPath == "" {
		return fmt.Errorf("%w: inbox path is required", ErrInvalidConfig)
	}
	if c.InboxTTL <= 0 {
		return fmt.Errorf("%w: inbox ttl must be positive", ErrInvalidConfig)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ProtocolVersion parses Version as "major.minor".
func (c Config) ProtocolVersion() (protocol.Version, error) {
	major, minor, ok := strings.Cut(c.Version, ".")
	if !ok {
		return protocol.Version{}, fmt.Errorf("%w: version %q", ErrInvalidConfig, c.Version)
	}

	maj, err := strconv.ParseUint(major, 10, 8)
	if err != nil {
		return protocol.Version{}, fmt.Errorf("%w: version %q", ErrInvalidConfig, c.Version)
	}
	mnr, err := strconv.ParseUint(minor, 10, 8)
	if err != nil {
		return protocol.Version{}, fmt.Errorf("%w: version %q", ErrInvalidConfig, c.Version)
	}

	return protocol.Version{Major: uint8(maj), Minor: uint8(mnr)}, nil
}

// Logging returns the logger settings.
func (c Config) Logging() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.LogLevel
	lc.FilePath = c.LogFile
	lc.Development = c.LogDevelopment
	return lc
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		p := strings.TrimSpace(part)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func envWithDefault(key, def string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return def
}

func parseBoolEnv(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return parsed
}

func parseDurationEnv(key string, def time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}
