package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/gerti-client/pkg/protocol"
)

func validConfig() Config {
	cfg := FromEnv()
	cfg.Address = "10.20"
	return cfg
}

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, DefaultKeyPath, cfg.KeyPath)
	assert.Equal(t, PortModePeer, cfg.PortMode)
	assert.Equal(t, DefaultVersion, cfg.Version)
	assert.Equal(t, time.Second, cfg.BackoffBase)
	assert.Equal(t, DefaultInboxTTL, cfg.InboxTTL)
	assert.Empty(t, cfg.PeerAddrs)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("GERTI_ADDRESS", "30.40:1.2")
	t.Setenv("GERTI_PORT_MODE", "gateway")
	t.Setenv("GERTI_PEER_ADDRS", " /ip4/10.0.0.1/tcp/4378 , ,/ip4/10.0.0.2/tcp/4378")
	t.Setenv("GERTI_INBOX_TTL", "1h")
	t.Setenv("GERTI_BACKOFF_MAX", "not-a-duration")
	t.Setenv("GERTI_LOG_DEV", "true")

	cfg := FromEnv()

	assert.Equal(t, "30.40:1.2", cfg.Address)
	assert.Equal(t, PortModeGateway, cfg.PortMode)
	assert.Equal(t, []string{"/ip4/10.0.0.1/tcp/4378", "/ip4/10.0.0.2/tcp/4378"}, cfg.PeerAddrs)
	assert.Equal(t, time.Hour, cfg.InboxTTL)
	assert.Equal(t, 30*time.Second, cfg.BackoffMax)
	assert.True(t, cfg.LogDevelopment)
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("GERTI_ADDRESS", "1.1")
	t.Setenv("GERTI_VERSION", "1.1")

	cfg, err := Load("gerti-client", []string{
		"-address", "10.20",
		"-peer", "/ip4/10.0.0.1/tcp/4378",
		"-peer", "/ip4/10.0.0.2/tcp/4379",
		"-api", "",
		"-log-level", "debug",
	})
	require.NoError(t, err)

	assert.Equal(t, "10.20", cfg.Address)
	assert.Equal(t, "1.1", cfg.Version)
	assert.Len(t, cfg.PeerAddrs, 2)
	assert.Empty(t, cfg.APIAddr)
	assert.Equal(t, "debug", cfg.Logging().Level)

	v, err := cfg.ProtocolVersion()
	require.NoError(t, err)
	assert.Equal(t, protocol.Version{Major: 1, Minor: 1}, v)
}

func TestLoadPeerFlagReplacesEnv(t *testing.T) {
	t.Setenv("GERTI_ADDRESS", "10.20")
	t.Setenv("GERTI_PEER_ADDRS", "/ip4/10.0.0.9/tcp/4378,/ip4/10.0.0.8/tcp/4378")

	cfg, err := Load("gerti-client", nil)
	require.NoError(t, err)
	assert.Len(t, cfg.PeerAddrs, 2)

	cfg, err = Load("gerti-client", []string{
		"-peer", "/ip4/10.0.0.1/tcp/4378",
		"-peer", "/ip4/10.0.0.2/tcp/4379",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/ip4/10.0.0.1/tcp/4378", "/ip4/10.0.0.2/tcp/4379"}, cfg.PeerAddrs)
}

func TestLoadUnknownFlag(t *testing.T) {
	_, err := Load("gerti-client", []string{"-bogus"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing address", func(c *Config) { c.Address = "" }},
		{"bad address", func(c *Config) { c.Address = "0.0:1.1" }},
		{"missing key", func(c *Config) { c.KeyPath = "" }},
		{"missing key store", func(c *Config) { c.KeyStorePath = "" }},
		{"no peers", func(c *Config) { c.PeersPath = ""; c.PeerAddrs = nil }},
		{"bad port mode", func(c *Config) { c.PortMode = "both" }},
		{"bad version", func(c *Config) { c.Version = "two" }},
		{"version overflow", func(c *Config) { c.Version = "256.0" }},
		{"backoff inverted", func(c *Config) { c.BackoffMax = c.BackoffBase / 2 }},
		{"zero backoff", func(c *Config) { c.BackoffBase = 0 }},
		{"missing inbox", func(c *Config) { c.InboxPath = "" }},
		{"zero ttl", func(c *Config) { c.InboxTTL = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "chatty" }},
	}

	require.NoError(t, validConfig().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestPeersRoundTrip(t *testing.T) {
	data := []byte{
		10, 0, 0, 5, 0x11, 0x1A, 0x11, 0x1B, 0, 0,
		192, 168, 1, 20, 0x00, 0x50, 0x1F, 0x90, 0xAB, 0xCD,
	}

	peers, err := ParsePeers(data)
	require.NoError(t, err)
	require.Len(t, peers, 2)

	assert.Equal(t, "10.0.0.5", peers[0].IP.String())
	assert.Equal(t, uint16(4378), peers[0].GatewayPort)
	assert.Equal(t, uint16(4379), peers[0].PeerPort)
	assert.Equal(t, "192.168.1.20", peers[1].IP.String())
	assert.Equal(t, uint16(80), peers[1].Port(PortModeGateway))
	assert.Equal(t, uint16(8080), peers[1].Port(PortModePeer))
	assert.Equal(t, "192.168.1.20:8080", peers[1].Name(PortModePeer))

	addr, err := peers[0].Multiaddr(peers[0].Port(PortModePeer))
	require.NoError(t, err)
	assert.Equal(t, "/ip4/10.0.0.5/tcp/4379", addr.String())

	encoded, err := EncodePeers(peers)
	require.NoError(t, err)
	// reserved bytes are written as zero
	want := append([]byte(nil), data...)
	want[18], want[19] = 0, 0
	assert.Equal(t, want, encoded)
}

func TestParsePeersRejectsPartialRecord(t *testing.T) {
	_, err := ParsePeers(make([]byte, PeerRecordSize+3))
	assert.ErrorIs(t, err, ErrPeerList)

	peers, err := ParsePeers(nil)
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func TestLoadPeers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.bin")
	require.NoError(t, os.WriteFile(path, []byte{127, 0, 0, 1, 0, 1, 0, 2, 0, 0}, 0644))

	peers, err := LoadPeers(path)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "127.0.0.1:1", peers[0].Name(PortModeGateway))

	_, err = LoadPeers(filepath.Join(t.TempDir(), "missing.bin"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEncodePeersRejectsIPv6(t *testing.T) {
	_, err := EncodePeers([]Peer{{IP: []byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}}})
	assert.ErrorIs(t, err, ErrPeerList)
}
