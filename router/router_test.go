package router

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textResponse(body string) *Response {
	return &Response{Body: []byte(body)}
}

func TestSplitPath(t *testing.T) {
	assert.Nil(t, SplitPath("/"))
	assert.Nil(t, SplitPath(""))
	assert.Equal(t, []string{"chat"}, SplitPath("/chat"))
	assert.Equal(t, []string{"chat", "room", "1"}, SplitPath("/chat/room/1/"))
}

func TestLongestPrefixWins(t *testing.T) {
	rt := New()
	rt.Register(nil, func(r *http.Request, conn Connection) *Response {
		return textResponse("root")
	})
	rt.Register([]string{"chat"}, func(r *http.Request, conn Connection) *Response {
		return textResponse("chat")
	})
	rt.Register([]string{"chat", "admin"}, func(r *http.Request, conn Connection) *Response {
		return textResponse("admin")
	})

	for path, want := range map[string]string{
		"/":                "root",
		"/other":           "root",
		"/chat":            "chat",
		"/chat/extra/deep": "chat",
		"/chat/admin":      "admin",
		"/chat/admin/sub":  "admin",
	} {
		w := httptest.NewRecorder()
		rt.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, want, w.Body.String(), path)
	}
}

func TestNoMatchIs404(t *testing.T) {
	rt := New()
	rt.Register([]string{"chat"}, func(r *http.Request, conn Connection) *Response {
		return textResponse("chat")
	})

	w := httptest.NewRecorder()
	rt.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/static/file", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResponseStatusAndHeaders(t *testing.T) {
	rt := New()
	rt.Register([]string{"gone"}, func(r *http.Request, conn Connection) *Response {
		h := http.Header{}
		h.Set("Content-Type", "text/plain")
		return &Response{StatusCode: http.StatusGone, Headers: h, Body: []byte("gone")}
	})

	w := httptest.NewRecorder()
	rt.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gone", nil))
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.Equal(t, "gone", w.Body.String())
}

func TestUnregisterIsIdempotent(t *testing.T) {
	rt := New()
	unregister := rt.Register([]string{"chat"}, func(r *http.Request, conn Connection) *Response {
		return textResponse("first")
	})
	unregister()
	unregister()

	// A stale unregister must not remove a later registration of the same
	// segments.
	rt.Register([]string{"chat"}, func(r *http.Request, conn Connection) *Response {
		return textResponse("second")
	})
	unregister()

	w := httptest.NewRecorder()
	rt.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chat", nil))
	assert.Equal(t, "second", w.Body.String())
}

func TestHijackDeliversTrailer(t *testing.T) {
	const trailer = "HELLO-AFTER-UPGRADE"

	rt := New()
	rt.Register([]string{"up"}, func(r *http.Request, conn Connection) *Response {
		raw, buffered, err := conn.Hijack()
		require.NoError(t, err)
		// The trailer plus subsequent reads carry the post-request bytes.
		got := append([]byte(nil), buffered...)
		for len(got) < len(trailer) {
			buf := make([]byte, len(trailer)-len(got))
			n, err := raw.Read(buf)
			require.NoError(t, err)
			got = append(got, buf[:n]...)
		}
		h := http.Header{}
		h.Set("Content-Type", "text/plain")
		return &Response{Headers: h, Body: got}
	})

	srv := httptest.NewServer(rt)
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// One write carries the request and the trailer together.
	fmt.Fprintf(conn, "GET /up HTTP/1.1\r\nHost: x\r\n\r\n%s", trailer)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, trailer, string(body))
}

func TestUnregisterDuringDispatch(t *testing.T) {
	rt := New()
	entered := make(chan struct{})
	release := make(chan struct{})
	unregister := rt.Register([]string{"slow"}, func(r *http.Request, conn Connection) *Response {
		close(entered)
		<-release
		return textResponse("done")
	})

	go func() {
		w := httptest.NewRecorder()
		rt.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slow", nil))
	}()

	<-entered
	done := make(chan struct{})
	go func() {
		unregister()
		close(done)
	}()

	// Unregister must not return while the handler is still running.
	select {
	case <-done:
		t.Fatal("unregister returned during dispatch")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-done
}
