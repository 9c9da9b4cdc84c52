package chatroom

import (
	"encoding/json"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rhymu8354/webserver/diagnostics"
	"github.com/rhymu8354/webserver/timekeeper"
)

// RoomConfig carries the room's tunables, already validated and defaulted
// by the plug-in entrypoint.
type RoomConfig struct {
	NickNames     []string
	InitialPoints map[string]int
	TellTimeout   float64
	MinCoolDown   float64
	MaxCoolDown   float64
}

// Room is the chat room state machine: the session table, the nickname
// pool, the quiz, and the housekeeper that times questions and reaps
// closed sessions.
//
// One mutex guards all room state. Handlers enqueue outbound messages while
// holding it; actual socket writes happen on each session's write pump, so
// the lock is never held across a send.
type Room struct {
	clock timekeeper.TimeKeeper
	sink  diagnostics.SinkFunc
	cfg   RoomConfig

	mu            sync.Mutex
	sessions      map[uint64]*session
	nextSessionID uint64
	available     map[string]struct{}
	usersClosed   bool

	answer            string
	answeredCorrectly bool
	nextQuestionAt    float64
	rng               *rand.Rand

	wake      chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
	hkWG      sync.WaitGroup
	sessionWG sync.WaitGroup
}

// NewRoom returns a stopped room. Diagnostics flow into sink, which may be
// nil to discard them.
func NewRoom(clock timekeeper.TimeKeeper, sink diagnostics.SinkFunc, cfg RoomConfig) *Room {
	r := &Room{
		clock:             clock,
		sink:              sink,
		cfg:               cfg,
		sessions:          make(map[uint64]*session),
		nextSessionID:     1,
		available:         make(map[string]struct{}),
		answeredCorrectly: true,
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
		wake:              make(chan struct{}, 1),
		stop:              make(chan struct{}),
	}
	for _, n := range cfg.NickNames {
		r.available[n] = struct{}{}
	}
	return r
}

// Start schedules the first question and spawns the housekeeper.
func (r *Room) Start() {
	r.mu.Lock()
	r.nextQuestionAt = r.clock.Now() + r.drawCoolDown()
	r.mu.Unlock()
	r.hkWG.Add(1)
	go r.housekeeper()
}

// Stop joins the housekeeper. Sessions stay connected; Reset tears them
// down.
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.hkWG.Wait()
}

// Reset disconnects every session and returns the room to its initial
// state: empty table, session ids restarting at 1, the configured nickname
// pool, and no outstanding question.
func (r *Room) Reset() {
	r.mu.Lock()
	doomed := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		// A readPump may already hold a frame and be waiting on the lock;
		// closing the session here makes receive drop that frame instead of
		// enqueueing onto a closed send queue.
		s.open = false
		doomed = append(doomed, s)
	}
	r.sessions = make(map[uint64]*session)
	r.nextSessionID = 1
	r.available = make(map[string]struct{})
	for _, n := range r.cfg.NickNames {
		r.available[n] = struct{}{}
	}
	r.answeredCorrectly = true
	r.answer = ""
	r.usersClosed = false
	r.mu.Unlock()

	for _, s := range doomed {
		s.unsubscribeDiag()
		s.conn.Close()
		close(s.send)
	}
	r.sessionWG.Wait()
}

// Admit registers a freshly upgraded connection as a new session and
// starts its pumps.
func (r *Room) Admit(conn wsConn) {
	r.mu.Lock()
	id := r.nextSessionID
	r.nextSessionID++
	s := newSession(id, conn, r.sink, r.cfg.TellTimeout)
	r.sessions[id] = s
	r.mu.Unlock()

	r.sessionWG.Add(2)
	go s.writePump(&r.sessionWG)
	go s.readPump(r, &r.sessionWG)
}

// receive dispatches one inbound text frame. Unknown types and frames that
// do not parse are dropped silently.
func (r *Room) receive(s *session, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !s.open {
		return
	}
	switch msg.Type {
	case "SetNickName":
		r.setNickName(s, msg.NickName)
	case "GetNickNames":
		r.getNickNames(s)
	case "GetAvailableNickNames":
		r.getAvailableNickNames()
	case "GetUsers":
		r.getUsers(s)
	case "Tell":
		r.tell(s, msg.Tell)
	}
}

// sessionClosed marks a session for the reaper and wakes the housekeeper.
func (r *Room) sessionClosed(s *session) {
	r.mu.Lock()
	s.open = false
	r.usersClosed = true
	r.mu.Unlock()
	r.wakeHousekeeper()
}

func (r *Room) wakeHousekeeper() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// setNickName implements the nickname protocol. Caller holds the lock.
func (r *Room) setNickName(s *session, newNick string) {
	old := s.nickname
	switch {
	case newNick == "":
		if old != "" {
			s.nickname = ""
			r.available[old] = struct{}{}
			r.broadcast(newLeave(old))
		}
		s.diag.Publishf(diagnostics.LevelImportant,
			"Nickname changed from '%s' to '%s'", old, newNick)
		r.reply(s, newSetNickNameResult(true))
	case newNick == old:
		r.reply(s, newSetNickNameResult(true))
	default:
		if _, free := r.available[newNick]; !free {
			r.reply(s, newSetNickNameResult(false))
			return
		}
		delete(r.available, newNick)
		s.nickname = newNick
		s.points = r.cfg.InitialPoints[newNick]
		if old != "" {
			r.available[old] = struct{}{}
			r.broadcast(newLeave(old))
		}
		r.broadcast(newJoin(newNick))
		r.reply(s, newSetNickNameResult(true))
		s.diag.Publishf(diagnostics.LevelImportant,
			"Nickname changed from '%s' to '%s'", old, newNick)
	}
}

// getNickNames replies to the sender with all held nicknames. Caller holds
// the lock.
func (r *Room) getNickNames(s *session) {
	var held []string
	for _, other := range r.sessions {
		if other.nickname != "" {
			held = append(held, other.nickname)
		}
	}
	sort.Strings(held)
	r.reply(s, newNickNames(held))
}

// getAvailableNickNames broadcasts the pool to everyone, the sender
// included. Caller holds the lock.
func (r *Room) getAvailableNickNames() {
	pool := make([]string, 0, len(r.available))
	for n := range r.available {
		pool = append(pool, n)
	}
	sort.Strings(pool)
	r.broadcast(newAvailableNickNames(pool))
}

// getUsers replies with the named users in session-id order, lurkers
// omitted. Caller holds the lock.
func (r *Room) getUsers(s *session) {
	ids := r.sortedSessionIDs()
	var users []userEntry
	for _, id := range ids {
		other := r.sessions[id]
		if other.nickname == "" {
			continue
		}
		users = append(users, userEntry{Nickname: other.nickname, Points: other.points})
	}
	r.reply(s, newUsers(users))
}

// tell validates, rate-limits, and broadcasts one chat message, then
// scores it against the open question. Caller holds the lock.
func (r *Room) tell(s *session, text string) {
	if s.nickname == "" {
		return
	}
	if text == "" {
		return
	}
	if _, err := strconv.ParseInt(text, 10, 64); err != nil {
		return
	}
	now := r.clock.Now()
	if !s.limiter.AllowN(secondsToTime(now), 1) {
		return
	}
	r.broadcast(newTell(s.nickname, text))
	if r.answeredCorrectly {
		return
	}
	if text == r.answer {
		r.answeredCorrectly = true
		s.points++
		r.broadcast(newAward(s.nickname, s.points))
	} else {
		s.points--
		r.broadcast(newPenalty(s.nickname, s.points))
	}
}

// broadcast enqueues msg for every session. Caller holds the lock.
func (r *Room) broadcast(msg outbound) {
	now := r.clock.Now()
	for _, id := range r.sortedSessionIDs() {
		r.sessions[id].enqueue(now, msg)
	}
}

// reply enqueues msg for one session. Caller holds the lock.
func (r *Room) reply(s *session, msg outbound) {
	s.enqueue(r.clock.Now(), msg)
}

func (r *Room) sortedSessionIDs() []uint64 {
	ids := make([]uint64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// secondsToTime maps the TimeKeeper's float seconds onto the time.Time
// scale the rate limiter consumes. The epoch is arbitrary but consistent.
func secondsToTime(seconds float64) time.Time {
	return time.Unix(0, 0).Add(time.Duration(seconds * float64(time.Second)))
}
