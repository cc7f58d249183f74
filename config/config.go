package config

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/bitharbor/harbor-node/chain"
)

const (
	// DefaultDirPerm is the permission used when creating directories.
	DefaultDirPerm = 0700

	DefaultConfigDir      = "config"
	DefaultDataDir        = "data"
	DefaultConfigFileName = "config.toml"

	// DefaultLogLevel defines a default log level as INFO.
	DefaultLogLevel = "info"
)

var defaultConfigFilePath = filepath.Join(DefaultConfigDir, DefaultConfigFileName)

// Config defines the top-level configuration for a harbor node.
type Config struct {
	BaseConfig `mapstructure:",squash"`

	P2P             *P2PConfig             `mapstructure:"p2p"`
	Sync            *SyncConfig            `mapstructure:"sync"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for a harbor node.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		P2P:             DefaultP2PConfig(),
		Sync:            DefaultSyncConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all config structs.
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.P2P.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [p2p] section")
	}
	if err := cfg.Sync.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [sync] section")
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for a harbor node.
type BaseConfig struct {
	// The root directory for all data.
	RootDir string `mapstructure:"home"`

	// The bitcoin network the node joins: "mainnet", "testnet3",
	// "regtest" or "simnet".
	Network string `mapstructure:"network"`

	// Database backend: goleveldb | memdb
	DBBackend string `mapstructure:"db_backend"`

	// Database directory, relative to the root directory.
	DBPath string `mapstructure:"db_dir"`

	// Output level for logging.
	LogLevel string `mapstructure:"log_level"`
}

// DefaultBaseConfig returns a default base configuration.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Network:   "mainnet",
		DBBackend: "goleveldb",
		DBPath:    DefaultDataDir,
		LogLevel:  DefaultLogLevel,
	}
}

// DBDir returns the full path to the database directory.
func (cfg BaseConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

func (cfg BaseConfig) ValidateBasic() error {
	if _, err := cfg.ChainParams(); err != nil {
		return err
	}
	return nil
}

// ChainParams returns the chain parameters for the configured network.
func (cfg BaseConfig) ChainParams() (*chaincfg.Params, error) {
	switch strings.ToLower(cfg.Network) {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, errors.Errorf("unknown network %q", cfg.Network)
	}
}

//-----------------------------------------------------------------------------
// P2PConfig

// P2PConfig defines the configuration options for the peer connection.
type P2PConfig struct {
	// Address of the peer to sync headers from, host:port.
	PeerAddress string `mapstructure:"peer_address"`

	// Wire protocol version to advertise in the handshake.
	ProtocolVersion int32 `mapstructure:"protocol_version"`

	// Timeout for establishing the TCP connection.
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	// Timeout for the version handshake.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`

	// Interval between keepalive pings on an attached channel.
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// DefaultP2PConfig returns a default configuration for the peer connection.
func DefaultP2PConfig() *P2PConfig {
	return &P2PConfig{
		PeerAddress:      "127.0.0.1:8333",
		ProtocolVersion:  int32(wire.ProtocolVersion),
		DialTimeout:      10 * time.Second,
		HandshakeTimeout: 30 * time.Second,
		PingInterval:     2 * time.Minute,
	}
}

func (cfg *P2PConfig) ValidateBasic() error {
	if cfg.PeerAddress == "" {
		return errors.New("peer_address can't be empty")
	}
	if cfg.DialTimeout < 0 {
		return errors.New("dial_timeout can't be negative")
	}
	if cfg.HandshakeTimeout < 0 {
		return errors.New("handshake_timeout can't be negative")
	}
	if cfg.PingInterval < 0 {
		return errors.New("ping_interval can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// SyncConfig

// SyncConfig defines the configuration for the header sync session.
type SyncConfig struct {
	// Trusted checkpoints in "height:hash" form, ascending or not; they are
	// sorted on load. Empty means the network's built-in checkpoints.
	Checkpoints []string `mapstructure:"checkpoints"`

	// When true, ignore the network's built-in checkpoints even if the
	// checkpoints list is empty.
	DisableBuiltinCheckpoints bool `mapstructure:"disable_builtin_checkpoints"`
}

// DefaultSyncConfig returns a default configuration for the sync session.
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{}
}

func (cfg *SyncConfig) ValidateBasic() error {
	_, err := cfg.ParseCheckpoints()
	return err
}

// ParseCheckpoints decodes the configured "height:hash" checkpoint entries.
func (cfg *SyncConfig) ParseCheckpoints() ([]chain.Checkpoint, error) {
	checkpoints := make([]chain.Checkpoint, 0, len(cfg.Checkpoints))
	for _, entry := range cfg.Checkpoints {
		heightStr, hashStr, found := strings.Cut(entry, ":")
		if !found {
			return nil, errors.Errorf("malformed checkpoint %q, want height:hash", entry)
		}
		h, err := strconv.ParseInt(heightStr, 10, 64)
		if err != nil || h < 0 {
			return nil, errors.Errorf("malformed checkpoint height in %q", entry)
		}
		hash, err := chainhash.NewHashFromStr(hashStr)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed checkpoint hash in %q", entry)
		}
		checkpoints = append(checkpoints, chain.Checkpoint{Hash: *hash, Height: h})
	}
	return checkpoints, nil
}

// CheckpointsFor returns the checkpoints the session should anchor to:
// the configured list when present, otherwise the network's built-in ones.
func (cfg *SyncConfig) CheckpointsFor(params *chaincfg.Params) ([]chain.Checkpoint, error) {
	if len(cfg.Checkpoints) > 0 {
		return cfg.ParseCheckpoints()
	}
	if cfg.DisableBuiltinCheckpoints {
		return nil, nil
	}
	checkpoints := make([]chain.Checkpoint, 0, len(params.Checkpoints))
	for _, cp := range params.Checkpoints {
		checkpoints = append(checkpoints, chain.Checkpoint{
			Hash:   *cp.Hash,
			Height: int64(cp.Height),
		})
	}
	return checkpoints, nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	Prometheus bool `mapstructure:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus_listen_addr"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26660",
		Namespace:            "harbor",
	}
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
