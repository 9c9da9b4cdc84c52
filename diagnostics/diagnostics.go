// Package diagnostics implements the publish/subscribe bus the server and
// its plug-ins use to report what they are doing. It is distinct from the
// process logger: subscribers choose their own minimum level, and plug-in
// messages are re-tagged with the owning plug-in's name so a reader can
// tell where a message came from.
package diagnostics

import (
	"fmt"
	"sync"
)

// Diagnostic levels. Higher is more severe. Subscribers receive messages
// at or above the minimum level they asked for.
const (
	LevelInfo      = 0
	LevelImportant = 1
	LevelWarning   = 2
	LevelError     = 3
)

// SinkFunc receives one diagnostic message. Sinks must not block; they are
// called synchronously on the publishing goroutine.
type SinkFunc func(senderName string, level int, message string)

type subscription struct {
	sink     SinkFunc
	minLevel int
}

// Sender is a named diagnostics publisher with a dynamic subscriber set.
// The zero value is not usable; construct with NewSender.
type Sender struct {
	name string

	mu     sync.RWMutex
	nextID int
	subs   map[int]subscription
}

// NewSender returns a Sender whose messages carry the given name.
func NewSender(name string) *Sender {
	return &Sender{
		name: name,
		subs: make(map[int]subscription),
	}
}

// Name returns the sender's name.
func (s *Sender) Name() string {
	return s.name
}

// Subscribe registers sink to receive messages published at minLevel or
// above. The returned function removes the subscription; it is idempotent,
// and once it returns no further invocation of sink can begin.
func (s *Sender) Subscribe(sink SinkFunc, minLevel int) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = subscription{sink: sink, minLevel: minLevel}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Publish delivers a message under the sender's own name.
func (s *Sender) Publish(level int, message string) {
	s.PublishFrom(s.name, level, message)
}

// Publishf is Publish with fmt.Sprintf formatting.
func (s *Sender) Publishf(level int, format string, args ...interface{}) {
	s.PublishFrom(s.name, level, fmt.Sprintf(format, args...))
}

// PublishFrom delivers a message under an explicit sender name. Plug-ins
// use this to forward messages from their own internal senders.
func (s *Sender) PublishFrom(senderName string, level int, message string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if level >= sub.minLevel {
			sub.sink(senderName, level, message)
		}
	}
}

// Sink returns a SinkFunc that republishes into s, preserving the original
// sender name. Subscribing a parent's Sink to a child sender chains them.
func (s *Sender) Sink() SinkFunc {
	return s.PublishFrom
}

// Retag wraps next so every message passing through it carries the owner's
// name: a message from "" becomes "owner", one from "x" becomes "owner/x".
func Retag(owner string, next SinkFunc) SinkFunc {
	return func(senderName string, level int, message string) {
		if senderName == "" {
			senderName = owner
		} else {
			senderName = owner + "/" + senderName
		}
		next(senderName, level, message)
	}
}

// Tee fans one message out to several sinks in order.
func Tee(sinks ...SinkFunc) SinkFunc {
	return func(senderName string, level int, message string) {
		for _, sink := range sinks {
			sink(senderName, level, message)
		}
	}
}
