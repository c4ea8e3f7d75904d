// Package hub maintains the per-session directory of live message streams
// and delivers outbound messages with broadcast, presenter-only, or
// single-participant fan-out.
//
// The hub owns no transport. Each subscriber exposes a buffered outbox
// channel that the transport layer drains; a subscriber whose outbox is full
// is considered failed and is detached so fan-out never blocks on one slow
// client. Messages submitted for a room are enqueued under the hub lock in
// submission order, so each subscriber observes them in that order.
package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Subscriber roles.
const (
	RoleAdmin       = "admin"
	RoleParticipant = "participant"
)

// outboxSize bounds the per-subscriber queue. A client that falls this far
// behind is dropped rather than stalling the room.
const outboxSize = 64

// Subscriber is one attached stream, tagged with its role and, for
// participants, identity.
type Subscriber struct {
	Role          string
	ParticipantID string
	Nickname      string

	send   chan []byte
	closed bool // guarded by the owning hub's mutex
}

// Outbox returns the channel the transport drains. It is closed when the
// subscriber is detached.
func (s *Subscriber) Outbox() <-chan []byte {
	return s.send
}

type room struct {
	subs           []*Subscriber
	questionSentAt time.Time
	hasQuestion    bool
}

// Hub is the process-wide subscriber directory. One instance per process,
// injected into the transport and engine.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

func (h *Hub) room(sessionID string) *room {
	r, ok := h.rooms[sessionID]
	if !ok {
		r = &room{}
		h.rooms[sessionID] = r
	}
	return r
}

// Attach registers a new subscriber in the session's room and returns it.
func (h *Hub) Attach(sessionID, role, participantID, nickname string) *Subscriber {
	sub := &Subscriber{
		Role:          role,
		ParticipantID: participantID,
		Nickname:      nickname,
		send:          make(chan []byte, outboxSize),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.room(sessionID)
	r.subs = append(r.subs, sub)
	return sub
}

// Detach removes the subscriber and closes its outbox. When the room
// empties, the room entry and its question timestamp are deleted.
func (h *Hub) Detach(sessionID string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detachLocked(sessionID, sub)
}

func (h *Hub) detachLocked(sessionID string, sub *Subscriber) {
	r, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	for i, s := range r.subs {
		if s == sub {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			break
		}
	}
	if !sub.closed {
		sub.closed = true
		close(sub.send)
	}
	if len(r.subs) == 0 {
		delete(h.rooms, sessionID)
	}
}

// enqueueLocked queues msg on the subscriber, reporting false when the
// subscriber is closed or its outbox is full.
func enqueueLocked(sub *Subscriber, msg []byte) bool {
	if sub.closed {
		return false
	}
	select {
	case sub.send <- msg:
		return true
	default:
		return false
	}
}

func marshal(message any) ([]byte, bool) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("hub: marshal outbound message: %v", err)
		return nil, false
	}
	return data, true
}

// deliver fans the message out to every subscriber matching the filter.
// Failed subscribers are detached; a failure never aborts delivery to the
// rest.
func (h *Hub) deliver(sessionID string, message any, match func(*Subscriber) bool) {
	data, ok := marshal(message)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	var failed []*Subscriber
	for _, sub := range r.subs {
		if !match(sub) {
			continue
		}
		if !enqueueLocked(sub, data) {
			failed = append(failed, sub)
		}
	}
	for _, sub := range failed {
		h.detachLocked(sessionID, sub)
	}
}

// Broadcast delivers the message to every subscriber in the room.
func (h *Hub) Broadcast(sessionID string, message any) {
	h.deliver(sessionID, message, func(*Subscriber) bool { return true })
}

// ToPresenter delivers the message only to admin subscribers.
func (h *Hub) ToPresenter(sessionID string, message any) {
	h.deliver(sessionID, message, func(s *Subscriber) bool { return s.Role == RoleAdmin })
}

// ToParticipant delivers the message to the one subscriber with that
// participant identity. Best effort: with no live stream it is dropped.
func (h *Hub) ToParticipant(sessionID, participantID string, message any) {
	h.deliver(sessionID, message, func(s *Subscriber) bool {
		return s.Role == RoleParticipant && s.ParticipantID == participantID
	})
}

// SendTo delivers the message to a single known subscriber, used for
// late-joiner catch-up before the subscriber handles anything else.
func (h *Hub) SendTo(sessionID string, sub *Subscriber, message any) {
	data, ok := marshal(message)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !enqueueLocked(sub, data) {
		h.detachLocked(sessionID, sub)
	}
}

// ParticipantCount returns the number of live participant subscribers.
func (h *Hub) ParticipantCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[sessionID]
	if !ok {
		return 0
	}
	n := 0
	for _, sub := range r.subs {
		if sub.Role == RoleParticipant {
			n++
		}
	}
	return n
}

// MarkQuestionSent records the monotonic instant the current question's
// broadcast was enqueued. Overwritten on each new question.
func (h *Hub) MarkQuestionSent(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.room(sessionID)
	r.questionSentAt = time.Now()
	r.hasQuestion = true
}

// ElapsedSinceQuestion returns the time since MarkQuestionSent for this
// session, or false if no question has been marked.
func (h *Hub) ElapsedSinceQuestion(sessionID string) (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[sessionID]
	if !ok || !r.hasQuestion {
		return 0, false
	}
	return time.Since(r.questionSentAt), true
}
