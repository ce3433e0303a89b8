package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "setting.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `{
		"log": {"level": "info", "path": "proxy.log"},
		"listeners": [{
			"name": "primary",
			"proxy_port": 9042,
			"source_host": "10.0.0.1", "source_port": 9042,
			"target_host": "10.0.0.2", "target_port": 9042
		}]
	}`)

	cfg, err := load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Listeners, 1)

	l := cfg.Listeners[0]
	require.Equal(t, 1, l.Threads)
	require.Equal(t, uint32(DefaultMaxFrameLength), l.MaxFrameLength)
	require.Equal(t, "source", l.SourceIdentifier)
	require.Equal(t, "target", l.TargetIdentifier)
}

func TestLoadRejectsEmptyListeners(t *testing.T) {
	path := writeConfig(t, `{"listeners": []}`)
	_, err := load(path)
	require.Error(t, err)
}

func TestLoadRejectsMismatchedTLSFields(t *testing.T) {
	path := writeConfig(t, `{
		"listeners": [{
			"name": "primary", "proxy_port": 9042,
			"source_host": "a", "source_port": 1,
			"target_host": "b", "target_port": 2,
			"tls_cert": "cert.pem"
		}]
	}`)
	_, err := load(path)
	require.Error(t, err)
}

func TestReloadUpdatesGlobalCfg(t *testing.T) {
	path := writeConfig(t, `{
		"listeners": [{
			"name": "primary", "proxy_port": 9042,
			"source_host": "a", "source_port": 1,
			"target_host": "b", "target_port": 2
		}]
	}`)
	require.NoError(t, Reload(path))
	require.NotNil(t, GlobalCfg)
	require.Equal(t, "primary", GlobalCfg.Listeners[0].Name)
}

func TestGlobalLogDefaultsWhenUnset(t *testing.T) {
	GlobalCfg = nil
	require.Equal(t, Log{Level: "info", Path: "cql-dualproxy.log"}, GlobalLog())
}
