// Package staticcontent implements an extension that serves files from a
// configured root directory under its subspace.
package staticcontent

import (
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rhymu8354/webserver/diagnostics"
	"github.com/rhymu8354/webserver/host"
	"github.com/rhymu8354/webserver/router"
)

type pluginConfig struct {
	Space string `json:"space"`
	Root  string `json:"root"`
}

// LoadPlugin is the extension entrypoint.
func LoadPlugin(srv host.Handle, config json.RawMessage,
	diag diagnostics.SinkFunc) (unload func()) {
	var cfg pluginConfig
	if len(config) > 0 {
		if err := json.Unmarshal(config, &cfg); err != nil {
			diag("", diagnostics.LevelError, "unable to parse configuration")
			return nil
		}
	}
	if cfg.Space == "" {
		diag("", diagnostics.LevelError, "no 'space' URI in configuration")
		return nil
	}
	if cfg.Root == "" {
		diag("", diagnostics.LevelError, "no 'root' path in configuration")
		return nil
	}
	spaceURI, err := url.Parse(cfg.Space)
	if err != nil {
		diag("", diagnostics.LevelError, "unable to parse 'space' URI in configuration")
		return nil
	}
	space := router.SplitPath(spaceURI.Path)

	unregister := srv.RegisterResource(space,
		func(r *http.Request, conn router.Connection) *router.Response {
			return serveFile(cfg.Root, residualPath(space, r.URL.Path))
		})
	return unregister
}

// residualPath strips the subspace prefix off the request path, leaving
// the segments that name the file beneath the root.
func residualPath(space []string, requestPath string) []string {
	segments := router.SplitPath(requestPath)
	if len(segments) < len(space) {
		return nil
	}
	return segments[len(space):]
}

func serveFile(root string, residual []string) *router.Response {
	if len(residual) == 0 {
		return notFound()
	}
	for _, segment := range residual {
		// Reject traversal out of the root.
		if segment == ".." || segment == "." {
			return notFound()
		}
	}
	path := filepath.Join(root, filepath.Join(residual...))
	contents, err := os.ReadFile(path)
	if err != nil {
		return notFound()
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := http.Header{}
	h.Set("Content-Type", contentType)
	return &router.Response{Headers: h, Body: contents}
}

func notFound() *router.Response {
	h := http.Header{}
	h.Set("Content-Type", "text/plain")
	return &router.Response{
		StatusCode: http.StatusNotFound,
		Headers:    h,
		Body:       []byte("not found"),
	}
}
