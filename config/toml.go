package config

import (
	"bytes"
	"path/filepath"
	"strings"
	"text/template"

	cmtos "github.com/cometbft/cometbft/libs/os"
)

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate").Funcs(template.FuncMap{
		"QuoteJoin": func(elems []string) string {
			quoted := make([]string, len(elems))
			for i, e := range elems {
				quoted[i] = `"` + e + `"`
			}
			return strings.Join(quoted, ", ")
		},
	})
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

/****** these are for production settings ***********/

// EnsureRoot creates the root, config, and data directories if they don't
// exist, and the config file if it's missing.
func EnsureRoot(rootDir string) {
	if err := cmtos.EnsureDir(rootDir, DefaultDirPerm); err != nil {
		panic(err.Error())
	}
	if err := cmtos.EnsureDir(filepath.Join(rootDir, DefaultConfigDir), DefaultDirPerm); err != nil {
		panic(err.Error())
	}
	if err := cmtos.EnsureDir(filepath.Join(rootDir, DefaultDataDir), DefaultDirPerm); err != nil {
		panic(err.Error())
	}

	configFilePath := filepath.Join(rootDir, defaultConfigFilePath)

	// Write default config file if missing.
	if !cmtos.FileExists(configFilePath) {
		WriteConfigFile(configFilePath, DefaultConfig())
	}
}

// WriteConfigFile renders config using the template and writes it to
// configFilePath.
func WriteConfigFile(configFilePath string, config *Config) {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, config); err != nil {
		panic(err)
	}

	cmtos.MustWriteFile(configFilePath, buffer.Bytes(), 0644)
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/harbornode/data") or
# relative to the home directory (e.g. "data"). The home directory is
# "$HOME/.harbornode" by default, but could be changed via $HARBORHOME env
# variable or --home cmd flag.

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# The bitcoin network the node joins: "mainnet", "testnet3", "regtest"
# or "simnet"
network = "{{ .BaseConfig.Network }}"

# Database backend: goleveldb | memdb
db_backend = "{{ .BaseConfig.DBBackend }}"

# Database directory
db_dir = "{{ js .BaseConfig.DBPath }}"

# Output level for logging, including package level options
log_level = "{{ .BaseConfig.LogLevel }}"

#######################################################################
###                 Advanced Configuration Options                  ###
#######################################################################

#######################################################
###           P2P Configuration Options             ###
#######################################################
[p2p]

# Address of the peer to sync headers from, host:port
peer_address = "{{ .P2P.PeerAddress }}"

# Wire protocol version to advertise in the handshake
protocol_version = {{ .P2P.ProtocolVersion }}

# Timeout for establishing the TCP connection
dial_timeout = "{{ .P2P.DialTimeout }}"

# Timeout for the version handshake
handshake_timeout = "{{ .P2P.HandshakeTimeout }}"

# Interval between keepalive pings on an attached channel
ping_interval = "{{ .P2P.PingInterval }}"

#######################################################
###           Sync Configuration Options            ###
#######################################################
[sync]

# Trusted checkpoints in "height:hash" form. Empty means the network's
# built-in checkpoints.
checkpoints = [{{ QuoteJoin .Sync.Checkpoints }}]

# When true, ignore the network's built-in checkpoints even if the
# checkpoints list is empty
disable_builtin_checkpoints = {{ .Sync.DisableBuiltinCheckpoints }}

#######################################################
###       Instrumentation Configuration Options     ###
#######################################################
[instrumentation]

# When true, Prometheus metrics are served under /metrics on
# prometheus_listen_addr.
prometheus = {{ .Instrumentation.Prometheus }}

# Address to listen for Prometheus collector(s) connections
prometheus_listen_addr = "{{ .Instrumentation.PrometheusListenAddr }}"

# Instrumentation namespace
namespace = "{{ .Instrumentation.Namespace }}"
`
