package chatroom

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/rhymu8354/webserver/diagnostics"
)

// sendQueueSize bounds each session's outbound queue. A peer that cannot
// drain this many messages gets further messages dropped with a warning
// rather than stalling the room.
const sendQueueSize = 256

// wsConn is the slice of *websocket.Conn the room needs. Tests substitute
// an in-memory implementation.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// session is one connected chat client. The room lock guards nickname,
// points, and open; the send queue decouples socket writes from the lock so
// a slow peer cannot block message processing for others.
type session struct {
	id              uint64
	conn            wsConn
	diag            *diagnostics.Sender
	unsubscribeDiag func()
	limiter         *rate.Limiter

	nickname string
	points   int
	open     bool

	send chan []byte
}

func newSession(id uint64, conn wsConn, sink diagnostics.SinkFunc, tellTimeout float64) *session {
	limit := rate.Inf
	if tellTimeout > 0 {
		limit = rate.Limit(1.0 / tellTimeout)
	}
	s := &session{
		id:      id,
		conn:    conn,
		diag:    diagnostics.NewSender(fmt.Sprintf("Session #%d", id)),
		limiter: rate.NewLimiter(limit, 1),
		open:    true,
		send:    make(chan []byte, sendQueueSize),
	}
	if sink != nil {
		s.unsubscribeDiag = s.diag.Subscribe(sink, diagnostics.LevelInfo)
	} else {
		s.unsubscribeDiag = func() {}
	}
	return s
}

// enqueue stamps, serializes, and queues one outbound message. Callers hold
// the room lock, which is what serializes the per-session message order.
func (s *session) enqueue(now float64, msg outbound) {
	msg.setTime(now)
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case s.send <- data:
	default:
		s.diag.Publish(diagnostics.LevelWarning,
			"send queue full; dropping message")
	}
}

// writePump drains the send queue onto the socket. It exits when the queue
// is closed, draining any remaining messages even after a write error so
// enqueuers never block.
func (s *session) writePump(wg *sync.WaitGroup) {
	defer wg.Done()
	broken := false
	for data := range s.send {
		if broken {
			continue
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			broken = true
		}
	}
}

// readPump delivers inbound text frames to the room until the socket
// fails or closes, then reports the close.
func (s *session) readPump(room *Room, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		room.receive(s, data)
	}
	room.sessionClosed(s)
}
