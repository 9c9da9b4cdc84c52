// Package router dispatches HTTP requests to resource handlers registered
// by path prefix. Extensions own a subspace of the URL space: the handler
// registered for the longest matching segment prefix receives the request.
package router

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/rhymu8354/webserver/errors"
)

// Connection is the handler's view of the underlying transport. Handlers
// that speak a different protocol after the HTTP exchange (such as a
// WebSocket upgrade) call Hijack to take ownership of it.
type Connection interface {
	// Hijack takes over the raw connection. The byte slice holds the
	// trailer: any bytes the server had already buffered beyond the end of
	// the request. Callers must interpret the trailer as the leading bytes
	// of the post-upgrade stream before reading from the connection.
	Hijack() (net.Conn, []byte, error)
}

// Handler serves one request for a registered subspace. Returning nil means
// the handler hijacked the connection and owns it from now on. Returning a
// Response after hijacking writes the response verbatim onto the raw
// connection and closes it.
type Handler func(r *http.Request, conn Connection) *Response

// Response is a fully-buffered HTTP response.
type Response struct {
	StatusCode int // zero means 200
	Headers    http.Header
	Body       []byte
}

type route struct {
	handler Handler
}

// Router maps path-segment prefixes to handlers. Handlers run while the
// registration read lock is held, so an unregister call returns only once
// no further invocation of that handler can begin. Handlers must therefore
// not block; long-lived work belongs on its own goroutine.
type Router struct {
	mu     sync.RWMutex
	routes map[string]*route
}

// New returns an empty Router.
func New() *Router {
	return &Router{routes: make(map[string]*route)}
}

// Path segments cannot contain NUL, so it is a safe join separator.
const routeKeySep = "\x00"

func routeKey(segments []string) string {
	return strings.Join(segments, routeKeySep)
}

// SplitPath breaks a URL path into its segments. "/" and "" both yield nil.
func SplitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Register installs h as the owner of the subspace rooted at segments,
// replacing any previous owner of the exact same segments. The returned
// function removes the registration; it is idempotent and safe to call
// concurrently with dispatch.
func (rt *Router) Register(segments []string, h Handler) (unregister func()) {
	k := routeKey(segments)
	rt.mu.Lock()
	rt.routes[k] = &route{handler: h}
	rt.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			rt.mu.Lock()
			delete(rt.routes, k)
			rt.mu.Unlock()
		})
	}
}

// ServeHTTP selects the registration whose segments are the longest prefix
// of the request path and invokes its handler. No match yields a 404.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	segments := SplitPath(r.URL.Path)
	conn := &hijackableConn{w: w}

	rt.mu.RLock()
	var h Handler
	for n := len(segments); n >= 0; n-- {
		if rte, ok := rt.routes[routeKey(segments[:n])]; ok {
			h = rte.handler
			break
		}
	}
	if h == nil {
		rt.mu.RUnlock()
		http.NotFound(w, r)
		return
	}
	resp := h(r, conn)
	rt.mu.RUnlock()

	if resp == nil {
		// Handler hijacked the connection and owns it now.
		return
	}
	if conn.hijacked {
		writeRawResponse(conn.conn, resp)
		conn.conn.Close()
		return
	}
	for k, vs := range resp.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(resp.Body)
}

type hijackableConn struct {
	w        http.ResponseWriter
	hijacked bool
	conn     net.Conn
}

func (c *hijackableConn) Hijack() (net.Conn, []byte, error) {
	hj, ok := c.w.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("transport does not support hijacking")
	}
	conn, brw, err := hj.Hijack()
	if err != nil {
		return nil, nil, errors.Wrap(err, "hijacking connection")
	}
	// Whatever net/http read past the request body is the trailer. Drain it
	// out of the buffered reader so the caller sees a clean connection plus
	// an explicit trailer slice.
	var trailer []byte
	if n := brw.Reader.Buffered(); n > 0 {
		peeked, _ := brw.Reader.Peek(n)
		trailer = append([]byte(nil), peeked...)
		brw.Reader.Discard(n)
	}
	brw.Writer.Flush()
	c.hijacked = true
	c.conn = conn
	return conn, trailer, nil
}

// writeRawResponse serializes resp as HTTP/1.1 directly onto a hijacked
// connection.
func writeRawResponse(conn net.Conn, resp *Response) {
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	for k, vs := range resp.Headers {
		for _, v := range vs {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(resp.Body))
	b.WriteString("Connection: close\r\n\r\n")
	b.Write(resp.Body)
	conn.Write(b.Bytes())
}
