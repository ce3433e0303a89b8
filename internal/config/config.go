// Package config loads the proxy's JSON configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Listener describes one proxy_port front end: the source/target clusters
// it dual-writes to, and the behavioural switches that govern it.
type Listener struct {
	Name string `json:"name"`

	ProxyPort int `json:"proxy_port"`

	SourceHost       string `json:"source_host"`
	SourcePort       int    `json:"source_port"`
	SourceIdentifier string `json:"source_identifier"`

	TargetHost       string `json:"target_host"`
	TargetPort       int    `json:"target_port"`
	TargetIdentifier string `json:"target_identifier"`

	TLSCert string `json:"tls_cert"`
	TLSKey  string `json:"tls_key"`

	// Threads is the number of concurrent accept loops sharing ProxyPort's
	// single listener.
	Threads int `json:"threads"`

	// Wait selects the response-delivery policy: when true the client
	// response waits for both upstreams; when false it is sent as soon as
	// the source responds.
	Wait bool `json:"wait"`

	// UUID enables the QueryRewriter.
	UUID bool `json:"uuid"`

	// ProtocolVersions is the ProtocolGuard allow-list; empty means accept
	// whatever the upstream advertises.
	ProtocolVersions []int `json:"protocol_versions"`

	// CQLVersions overrides the CQL_VERSION option of SUPPORTED responses.
	CQLVersions []string `json:"cql_versions"`

	Metrics bool `json:"metrics"`

	// MaxFrameLength caps a single frame's body length (FrameSplitter
	// guard). Defaults to 256 MiB when zero.
	MaxFrameLength uint32 `json:"max_frame_length"`
}

// Log mirrors the teacher's logging section: level + rotated file path.
type Log struct {
	Level   string `json:"level"`
	Path    string `json:"path"`
	Version string `json:"version"`
	Date    string `json:"date"`
}

// projectConfig is the top-level document read from the config file.
type projectConfig struct {
	Log       Log         `json:"log"`
	Listeners []*Listener `json:"listeners"`
}

const DefaultMaxFrameLength = 256 * 1024 * 1024

// GlobalCfg is the process-wide configuration, populated by Reload at
// startup. Components constructed after Reload should prefer an explicit
// *Listener/*Log passed to their constructor over reading this global;
// it exists for the cmd entry point's convenience only.
var GlobalCfg *projectConfig

func init() {
	path := os.Getenv("CQL_DUALPROXY_CONFIG")
	if path == "" {
		path = "config/setting.json"
	}
	if _, err := os.Stat(path); err != nil {
		// No config file present (e.g. under `go test`): leave GlobalCfg nil,
		// callers construct their own Listener/Log for tests.
		return
	}
	cfg, err := load(path)
	if err != nil {
		fmt.Printf("failed to load %s: %v\n", path, err)
		return
	}
	GlobalCfg = cfg
}

// Reload reads and validates the configuration file at path, replacing
// GlobalCfg on success.
func Reload(path string) error {
	cfg, err := load(path)
	if err != nil {
		return err
	}
	GlobalCfg = cfg
	return nil
}

func load(path string) (*projectConfig, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg projectConfig
	if err := json.Unmarshal(buf, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Listeners) == 0 {
		return nil, fmt.Errorf("empty listeners")
	}
	for i, l := range cfg.Listeners {
		if err := l.verify(); err != nil {
			return nil, fmt.Errorf("verify listener at pos %d: %w", i, err)
		}
	}
	return &cfg, nil
}

// verify fills in defaults and rejects listeners missing mandatory fields.
func (l *Listener) verify() error {
	if l.Name == "" {
		return fmt.Errorf("empty name")
	}
	if l.ProxyPort == 0 {
		return fmt.Errorf("invalid proxy_port")
	}
	if l.SourceHost == "" || l.SourcePort == 0 {
		return fmt.Errorf("invalid source address")
	}
	if l.TargetHost == "" || l.TargetPort == 0 {
		return fmt.Errorf("invalid target address")
	}
	if (l.TLSCert == "") != (l.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must be both set or both empty")
	}
	if l.Threads <= 0 {
		l.Threads = 1
	}
	if l.MaxFrameLength == 0 {
		l.MaxFrameLength = DefaultMaxFrameLength
	}
	if l.SourceIdentifier == "" {
		l.SourceIdentifier = "source"
	}
	if l.TargetIdentifier == "" {
		l.TargetIdentifier = "target"
	}
	return nil
}

// GlobalLog exposes the loaded log config, or a sane default if none loaded.
func GlobalLog() Log {
	if GlobalCfg == nil {
		return Log{Level: "info", Path: "cql-dualproxy.log"}
	}
	return GlobalCfg.Log
}
