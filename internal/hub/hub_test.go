package hub

import (
	"encoding/json"
	"testing"
	"time"
)

func recv(t *testing.T, sub *Subscriber) map[string]any {
	t.Helper()
	select {
	case data, ok := <-sub.Outbox():
		if !ok {
			t.Fatal("outbox closed")
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func assertEmpty(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case data, ok := <-sub.Outbox():
		if ok {
			t.Fatalf("unexpected message: %s", data)
		}
	default:
	}
}

func TestBroadcastReachesEveryone(t *testing.T) {
	h := New()
	admin := h.Attach("s1", RoleAdmin, "", "")
	p1 := h.Attach("s1", RoleParticipant, "pid1", "alice")
	p2 := h.Attach("s1", RoleParticipant, "pid2", "bob")

	h.Broadcast("s1", map[string]any{"type": "game_started"})

	for _, sub := range []*Subscriber{admin, p1, p2} {
		if got := recv(t, sub)["type"]; got != "game_started" {
			t.Fatalf("expected game_started, got %v", got)
		}
	}
}

func TestRoleScopedDelivery(t *testing.T) {
	h := New()
	admin := h.Attach("s1", RoleAdmin, "", "")
	p1 := h.Attach("s1", RoleParticipant, "pid1", "alice")
	p2 := h.Attach("s1", RoleParticipant, "pid2", "bob")

	h.ToPresenter("s1", map[string]any{"type": "answer_received"})
	h.ToParticipant("s1", "pid1", map[string]any{"type": "answer_submitted"})

	if got := recv(t, admin)["type"]; got != "answer_received" {
		t.Fatalf("expected answer_received, got %v", got)
	}
	if got := recv(t, p1)["type"]; got != "answer_submitted" {
		t.Fatalf("expected answer_submitted, got %v", got)
	}
	// bob must see neither message.
	assertEmpty(t, p2)
}

func TestToParticipantNoStreamIsDropped(t *testing.T) {
	h := New()
	h.Attach("s1", RoleAdmin, "", "")
	// No participant attached: delivery is a silent no-op.
	h.ToParticipant("s1", "ghost", map[string]any{"type": "answer_submitted"})
}

func TestPerSubscriberOrdering(t *testing.T) {
	h := New()
	p := h.Attach("s1", RoleParticipant, "pid1", "alice")

	for i := 0; i < 10; i++ {
		h.Broadcast("s1", map[string]any{"seq": i})
	}
	for i := 0; i < 10; i++ {
		if got := recv(t, p)["seq"]; int(got.(float64)) != i {
			t.Fatalf("out of order: expected %d, got %v", i, got)
		}
	}
}

func TestDetachClosesOutboxAndReapsRoom(t *testing.T) {
	h := New()
	p := h.Attach("s1", RoleParticipant, "pid1", "alice")
	h.MarkQuestionSent("s1")

	h.Detach("s1", p)

	if _, ok := <-p.Outbox(); ok {
		t.Fatal("expected outbox to be closed")
	}
	// Room (and its timestamp) is gone once the last subscriber leaves.
	if _, ok := h.ElapsedSinceQuestion("s1"); ok {
		t.Fatal("expected timestamp to be deleted with the room")
	}
	if n := h.ParticipantCount("s1"); n != 0 {
		t.Fatalf("expected 0 participants, got %d", n)
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	h := New()
	slow := h.Attach("s1", RoleParticipant, "pid1", "alice")
	healthy := h.Attach("s1", RoleParticipant, "pid2", "bob")

	// Drain the healthy subscriber continuously so only the slow one backs up.
	healthyCount := make(chan int, 1)
	go func() {
		n := 0
		for range healthy.Outbox() {
			n++
		}
		healthyCount <- n
	}()

	// Fill the slow subscriber's outbox without draining it, then overflow.
	total := outboxSize + 1
	for i := 0; i < total; i++ {
		h.Broadcast("s1", map[string]any{"seq": i})
	}

	// The slow one got detached: its outbox ends after the buffered burst.
	drained := 0
	for range slow.Outbox() {
		drained++
	}
	if drained != outboxSize {
		t.Fatalf("expected %d buffered messages before close, got %d", outboxSize, drained)
	}
	if n := h.ParticipantCount("s1"); n != 1 {
		t.Fatalf("expected 1 remaining participant, got %d", n)
	}

	// Failure of one subscriber never aborts delivery to the rest.
	h.Detach("s1", healthy)
	if n := <-healthyCount; n != total {
		t.Fatalf("healthy subscriber missed messages: got %d of %d", n, total)
	}
}

func TestParticipantCountExcludesAdmin(t *testing.T) {
	h := New()
	h.Attach("s1", RoleAdmin, "", "")
	h.Attach("s1", RoleParticipant, "pid1", "alice")
	if n := h.ParticipantCount("s1"); n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
}

func TestElapsedSinceQuestion(t *testing.T) {
	h := New()
	h.Attach("s1", RoleParticipant, "pid1", "alice")

	if _, ok := h.ElapsedSinceQuestion("s1"); ok {
		t.Fatal("expected no timestamp before MarkQuestionSent")
	}

	h.MarkQuestionSent("s1")
	time.Sleep(10 * time.Millisecond)
	elapsed, ok := h.ElapsedSinceQuestion("s1")
	if !ok {
		t.Fatal("expected timestamp after MarkQuestionSent")
	}
	if elapsed < 10*time.Millisecond || elapsed > time.Second {
		t.Fatalf("implausible elapsed %v", elapsed)
	}

	// Marking again resets the clock.
	h.MarkQuestionSent("s1")
	elapsed, _ = h.ElapsedSinceQuestion("s1")
	if elapsed > 10*time.Millisecond {
		t.Fatalf("expected reset clock, got %v", elapsed)
	}
}
