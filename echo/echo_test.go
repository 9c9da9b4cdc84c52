package echo

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhymu8354/webserver/host"
)

func TestLoadPluginRequiresSpace(t *testing.T) {
	srv := host.New(host.Options{})
	var errs []string
	sink := func(sender string, level int, message string) {
		errs = append(errs, message)
	}

	assert.Nil(t, LoadPlugin(srv, json.RawMessage(`{}`), sink))
	assert.Contains(t, errs, "no 'space' URI in configuration")
}

func TestEchoRendersRequestHeaders(t *testing.T) {
	srv := host.New(host.Options{})
	srv.SetConfigurationItem("Port", "0")
	require.NoError(t, srv.Start())
	defer srv.Stop()

	unload := LoadPlugin(srv, json.RawMessage(`{"space": "/echo"}`),
		func(string, int, string) {})
	require.NotNil(t, unload)
	defer unload()

	req, err := http.NewRequest(http.MethodGet,
		fmt.Sprintf("http://127.0.0.1:%d/echo/some/path", srv.Port()), nil)
	require.NoError(t, err)
	req.Header.Set("X-Marks", "<the spot>")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "<h1>GET /echo/some/path</h1>")
	assert.Contains(t, string(body), "<td>X-Marks</td><td>&lt;the spot&gt;</td>")
}
