package chatroom

import (
	"fmt"
	"strconv"
	"time"
)

// housekeepingPeriod bounds how long a closed session lingers before the
// reaper notices and how late a due question can post.
const housekeepingPeriod = 50 * time.Millisecond

// mathBotName is the synthetic sender the quiz broadcasts under.
const mathBotName = "MathBot2000"

// housekeeper ticks the reaper and the quiz scheduler until Stop.
func (r *Room) housekeeper() {
	defer r.hkWG.Done()
	ticker := time.NewTicker(housekeepingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-r.wake:
		case <-ticker.C:
		}
		r.reapClosedSessions()
		r.maybeAskQuestion()
	}
}

// reapClosedSessions removes sessions whose sockets closed, in session-id
// order, releasing nicknames and announcing departures. Socket and queue
// teardown happens outside the lock.
func (r *Room) reapClosedSessions() {
	r.mu.Lock()
	if !r.usersClosed {
		r.mu.Unlock()
		return
	}
	r.usersClosed = false
	var doomed []*session
	for _, id := range r.sortedSessionIDs() {
		s := r.sessions[id]
		if s.open {
			continue
		}
		delete(r.sessions, id)
		doomed = append(doomed, s)
		if s.nickname != "" {
			r.available[s.nickname] = struct{}{}
			r.broadcast(newLeave(s.nickname))
		}
	}
	r.mu.Unlock()

	for _, s := range doomed {
		s.unsubscribeDiag()
		s.conn.Close()
		close(s.send)
	}
}

// maybeAskQuestion posts a new question when the cooldown has elapsed.
func (r *Room) maybeAskQuestion() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	if now < r.nextQuestionAt {
		return
	}
	var question string
	for {
		a := 2 + r.rng.Intn(9)
		b := 2 + r.rng.Intn(9)
		c := 2 + r.rng.Intn(96)
		answer := strconv.Itoa(a*b + c)
		if answer != r.answer {
			r.answer = answer
			question = fmt.Sprintf("What is %d * %d + %d?", a, b, c)
			break
		}
	}
	r.answeredCorrectly = false
	r.nextQuestionAt += r.drawCoolDown()
	r.broadcast(newTell(mathBotName, question))
}

// drawCoolDown samples the next question delay. Caller holds the lock.
func (r *Room) drawCoolDown() float64 {
	return r.cfg.MinCoolDown + r.rng.Float64()*(r.cfg.MaxCoolDown-r.cfg.MinCoolDown)
}
