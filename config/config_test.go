package config

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `{
	"server": {"Port": "8080"},
	"plugins": {
		"Chat": {
			"module": "ChatRoom",
			"configuration": {
				"space": "/chat",
				"nicknames": ["Alice", "Bob"],
				"initialPoints": {"Bob": 5}
			}
		},
		"Static": {"module": "StaticContent", "configuration": {"root": "/srv/www"}}
	},
	"plugins-enabled": ["Chat", "Static"],
	"plugins-image": "plugins",
	"plugins-runtime": "/var/run/webserver",
	"secure": true,
	"sslCertificate": "cert.pem",
	"sslKey": "key.pem",
	"sslKeyPassphrase": "hunter2"
}`

func TestParseBindsAllKeys(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig), "/opt/webserver")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"Port": "8080"}, cfg.Server)
	assert.Equal(t, []string{"Chat", "Static"}, cfg.PluginsEnabled)
	require.Contains(t, cfg.Plugins, "Chat")
	assert.Equal(t, "ChatRoom", cfg.Plugins["Chat"].Module)
	assert.Contains(t, string(cfg.Plugins["Chat"].Configuration), `"Bob"`)
	assert.True(t, cfg.Secure)
	assert.Equal(t, "cert.pem", cfg.SSLCertificate)
	assert.Equal(t, "key.pem", cfg.SSLKey)
	assert.Equal(t, "hunter2", cfg.SSLKeyPassphrase)
}

func TestParseResolvesPluginDirectories(t *testing.T) {
	base := filepath.FromSlash("/opt/webserver")

	// Relative paths resolve against the executable's directory.
	cfg, err := Parse([]byte(sampleConfig), base)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "plugins"), cfg.PluginsImage)
	assert.Equal(t, filepath.FromSlash("/var/run/webserver"), cfg.PluginsRuntime)

	// Defaults: image beside the executable, runtime in a subdirectory.
	cfg, err = Parse([]byte(`{}`), base)
	require.NoError(t, err)
	assert.Equal(t, base, cfg.PluginsImage)
	assert.Equal(t, filepath.Join(base, "runtime"), cfg.PluginsRuntime)
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{"plugins-enabled": [`), "/opt")
	assert.Error(t, err)
}

func TestParsePreservesNicknameCase(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig), "/opt")
	require.NoError(t, err)

	var roomCfg struct {
		InitialPoints map[string]int `json:"initialPoints"`
	}
	require.NoError(t,
		json.Unmarshal(cfg.Plugins["Chat"].Configuration, &roomCfg))
	assert.Equal(t, map[string]int{"Bob": 5}, roomCfg.InitialPoints)
}
