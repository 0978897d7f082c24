package types

import "time"

// Configuration holds the settings of a directory or peer process.
type Configuration struct {
	Log       LogConfig       `toml:"log"`
	Directory DirectoryConfig `toml:"directory"`
	Peer      PeerConfig      `toml:"peer"`
	Admin     AdminConfig     `toml:"admin"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// DirectoryConfig controls the directory service.
type DirectoryConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`

	// Raft enables the replicated, bolt-backed registry under DataDir.
	Raft        bool   `toml:"raft"`
	RaftID      string `toml:"raft_id"`
	RaftAddress string `toml:"raft_address"`
	DataDir     string `toml:"data_dir"`

	// SerfAddress enables the peer liveness lease when set.
	SerfAddress string `toml:"serf_address"`
}

// PeerConfig controls a peer node.
type PeerConfig struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	DirectoryHost string `toml:"directory_host"`
	DirectoryPort int    `toml:"directory_port"`

	PollIntervalMs int `toml:"poll_interval_ms"`
	CallTimeoutMs  int `toml:"call_timeout_ms"`

	UnregisterOnShutdown bool `toml:"unregister_on_shutdown"`

	// Compression is one of none, gzip, snappy, lz4, zstd. Frames smaller
	// than CompressionThreshold bytes are always sent uncompressed.
	Compression          string `toml:"compression"`
	CompressionThreshold int    `toml:"compression_threshold"`

	SerfAddress string `toml:"serf_address"`
	SerfJoin    string `toml:"serf_join"`
}

// AdminConfig controls the optional HTTP admin endpoint.
type AdminConfig struct {
	Address string `toml:"address"`
}

// DefaultConfiguration returns the local demo setup:
// directory on localhost:6000, first peer on localhost:5555.
func DefaultConfiguration() Configuration {
	return Configuration{
		Log: LogConfig{Level: "INFO"},
		Directory: DirectoryConfig{
			Host:    "localhost",
			Port:    6000,
			DataDir: "/tmp/peerbus",
		},
		Peer: PeerConfig{
			Host:                 "localhost",
			Port:                 5555,
			DirectoryHost:        "localhost",
			DirectoryPort:        6000,
			PollIntervalMs:       5000,
			CallTimeoutMs:        5000,
			UnregisterOnShutdown: true,
			Compression:          "none",
			CompressionThreshold: 1024,
		},
	}
}

// PollInterval returns the background poller period.
func (c PeerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// CallTimeout returns the deadline applied to every outbound exchange.
func (c PeerConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMs) * time.Millisecond
}

// DirectoryAddress returns the directory endpoint the peer talks to.
func (c PeerConfig) DirectoryAddress() PeerAddress {
	return PeerAddress{Host: c.DirectoryHost, Port: c.DirectoryPort}
}
