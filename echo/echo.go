// Package echo implements a diagnostic extension that answers every
// request in its subspace with a page describing the request.
package echo

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/rhymu8354/webserver/diagnostics"
	"github.com/rhymu8354/webserver/host"
	"github.com/rhymu8354/webserver/router"
)

type pluginConfig struct {
	Space string `json:"space"`
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
	spaceURI, err := url.Parse(cfg.Space)
	if err != nil {
		diag("", diagnostics.LevelError, "unable to parse 'space' URI in configuration")
		return nil
	}

	unregister := srv.RegisterResource(router.SplitPath(spaceURI.Path),
		func(r *http.Request, conn router.Connection) *router.Response {
			h := http.Header{}
			h.Set("Content-Type", "text/html")
			return &router.Response{Headers: h, Body: renderRequest(r)}
		})
	return unregister
}

// renderRequest builds the echo page: the request line and a table of its
// headers in name order.
func renderRequest(r *http.Request) []byte {
	var b strings.Builder
	b.WriteString("<html><head><title>Echo</title></head><body>\r\n")
	fmt.Fprintf(&b, "<h1>%s %s</h1>\r\n",
		html.EscapeString(r.Method), html.EscapeString(r.URL.Path))
	b.WriteString("<table><tr><th>Header</th><th>Value</th></tr>\r\n")
	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, value := range r.Header[name] {
			fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td></tr>\r\n",
				html.EscapeString(name), html.EscapeString(value))
		}
	}
	b.WriteString("</table></body></html>\r\n")
	return []byte(b.String())
}
