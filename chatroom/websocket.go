package chatroom

import (
	"bufio"
	"bytes"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/rhymu8354/webserver/router"
)

// prefixConn replays a trailer ahead of the underlying connection's bytes,
// so frames the client sent in the same packet as the upgrade request are
// not lost.
type prefixConn struct {
	net.Conn
	prefix []byte
}

func (c *prefixConn) Read(p []byte) (int, error) {
	if len(c.prefix) > 0 {
		n := copy(p, c.prefix)
		c.prefix = c.prefix[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}

// hijackWriter adapts an already-hijacked connection back into the
// ResponseWriter shape the WebSocket upgrader wants. Handing it a fresh
// buffered reader keeps the upgrader from seeing the trailer as forbidden
// pre-handshake data; the trailer surfaces through prefixConn instead.
// Direct writes (the upgrader's own error responses) are captured, not
// sent; the caller reports upgrade failures its own way.
type hijackWriter struct {
	conn      net.Conn
	header    http.Header
	discarded bytes.Buffer
}

func newHijackWriter(conn net.Conn) *hijackWriter {
	return &hijackWriter{conn: conn, header: http.Header{}}
}

func (w *hijackWriter) Header() http.Header {
	return w.header
}

func (w *hijackWriter) Write(p []byte) (int, error) {
	return w.discarded.Write(p)
}

func (w *hijackWriter) WriteHeader(statusCode int) {}

func (w *hijackWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	brw := bufio.NewReadWriter(bufio.NewReader(w.conn), bufio.NewWriter(w.conn))
	return w.conn, brw, nil
}

// upgradeWithTrailer hijacks the transport and completes the WebSocket
// handshake on it, arranging for any trailer bytes to be read back as the
// first frames of the upgraded connection.
func upgradeWithTrailer(upgrader *websocket.Upgrader, r *http.Request,
	conn router.Connection) (*websocket.Conn, error) {
	raw, trailer, err := conn.Hijack()
	if err != nil {
		return nil, err
	}
	pc := &prefixConn{Conn: raw, prefix: trailer}
	return upgrader.Upgrade(newHijackWriter(pc), r, nil)
}
