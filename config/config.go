// Package config reads the server's JSON configuration tree.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rhymu8354/webserver/errors"
)

// FileName is the configuration file looked up when no explicit path is
// given: first in the working directory, then beside the executable.
const FileName = "config.json"

// PluginEntry configures one plug-in.
type PluginEntry struct {
	// Module is the plug-in's library base name, no prefix or extension.
	Module string `json:"module"`

	// Configuration is handed to the plug-in verbatim at load time.
	Configuration json.RawMessage `json:"configuration"`
}

// Config is the root of the configuration tree.
type Config struct {
	// Server holds string items forwarded into the server handle's
	// configuration table, such as "Port".
	Server map[string]string `json:"server"`

	// Plugins maps plug-in names to their module and configuration.
	Plugins map[string]PluginEntry `json:"plugins"`

	// PluginsEnabled lists the plug-ins to run, in load order.
	PluginsEnabled []string `json:"plugins-enabled"`

	// PluginsImage is the directory plug-in images are read from.
	// Relative paths resolve against the executable's parent directory;
	// empty means that directory itself.
	PluginsImage string `json:"plugins-image"`

	// PluginsRuntime is the directory runtime copies are written to.
	// Same resolution rule; empty means "<executable dir>/runtime".
	PluginsRuntime string `json:"plugins-runtime"`

	// Secure gates TLS for the listening socket.
	Secure bool `json:"secure"`

	SSLCertificate   string `json:"sslCertificate"`
	SSLKey           string `json:"sslKey"`
	SSLKeyPassphrase string `json:"sslKeyPassphrase"`
}

// Load finds and parses the configuration. With an explicit path only that
// file is tried; otherwise the working directory and then the executable's
// directory are searched for config.json.
func Load(explicitPath string) (*Config, error) {
	exeDir, err := executableDir()
	if err != nil {
		return nil, err
	}
	var candidates []string
	if explicitPath != "" {
		candidates = []string{explicitPath}
	} else {
		candidates = []string{FileName, filepath.Join(exeDir, FileName)}
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "reading configuration %s", path)
		}
		return Parse(data, exeDir)
	}
	return nil, errors.Newf("no configuration found (tried %v)", candidates)
}

// Parse decodes a configuration tree and resolves its plug-in directories
// against baseDir.
func Parse(data []byte, baseDir string) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parsing configuration")
	}
	cfg.PluginsImage = resolveDir(cfg.PluginsImage, baseDir, baseDir)
	cfg.PluginsRuntime = resolveDir(cfg.PluginsRuntime, baseDir,
		filepath.Join(baseDir, "runtime"))
	return &cfg, nil
}

func resolveDir(dir, baseDir, fallback string) string {
	if dir == "" {
		return fallback
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(baseDir, dir)
}

func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", errors.Wrap(err, "locating executable")
	}
	return filepath.Dir(exe), nil
}
