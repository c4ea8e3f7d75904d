package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quizforge/quizforge/internal/auth"
	"github.com/quizforge/quizforge/internal/db"
	"github.com/quizforge/quizforge/internal/engine"
	"github.com/quizforge/quizforge/internal/hub"
	"github.com/quizforge/quizforge/internal/metrics"
)

type testEnv struct {
	server  *httptest.Server
	handler *Handler
	engine  *engine.Engine
	db      *db.DB
	jwt     *auth.JWTManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	e := engine.New(d, hub.New())
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	handler := NewHandler(e, d, jwtManager, metrics.New(), []string{"*"})

	mux := http.NewServeMux()
	mux.Handle("GET /ws/session/{session_id}", handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testEnv{server: server, handler: handler, engine: e, db: d, jwt: jwtManager}
}

func (env *testEnv) seedSession(t *testing.T) (*db.User, *db.Quiz, *db.Session) {
	t.Helper()
	owner, err := env.db.CreateUser("presenter@example.com", "hashed", "Presenter")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	quiz := &db.Quiz{
		Title:   "Network Basics",
		OwnerID: owner.ID,
		Questions: []db.Question{
			{
				Text: "What does TCP stand for?", Position: 0, TimeLimit: 30,
				Answers: []db.Answer{
					{Text: "Transmission Control Protocol", IsCorrect: true, Position: 0},
					{Text: "Transport Core Protocol", Position: 1},
				},
			},
		},
	}
	if err := env.db.CreateQuiz(quiz); err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	session, err := env.db.CreateSession(quiz.ID, owner.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return owner, quiz, session
}

func (env *testEnv) dial(t *testing.T, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/session/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readMsg(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return m
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected the connection to close")
	}
	if !websocket.IsCloseError(err, code) {
		t.Fatalf("expected close code %d, got %v", code, err)
	}
}

func TestUnknownSessionIsClosed(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "no-such-session")
	expectClose(t, conn, CloseNotFound)
}

func TestAdminAuthAndStart(t *testing.T) {
	env := newTestEnv(t)
	owner, _, session := env.seedSession(t)
	token, err := env.jwt.Generate(owner.ID)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	conn := env.dial(t, session.ID)
	send(t, conn, map[string]any{"type": "auth", "role": "admin", "token": token})
	if got := readMsg(t, conn)["type"]; got != engine.TypeAuthOK {
		t.Fatalf("expected auth_ok, got %v", got)
	}

	send(t, conn, map[string]any{"type": "start_game"})
	if got := readMsg(t, conn)["type"]; got != engine.TypeGameStarted {
		t.Fatalf("expected game_started, got %v", got)
	}
	question := readMsg(t, conn)
	if question["type"] != engine.TypeNewQuestion || question["question_idx"] != float64(0) {
		t.Fatalf("unexpected new_question: %v", question)
	}
}

func TestAdminWrongOwnerIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	_, _, session := env.seedSession(t)
	token, err := env.jwt.Generate("someone-else")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	conn := env.dial(t, session.ID)
	send(t, conn, map[string]any{"type": "auth", "role": "admin", "token": token})
	expectClose(t, conn, CloseForbidden)
}

func TestAdminGarbageTokenIsRejected(t *testing.T) {
	env := newTestEnv(t)
	_, _, session := env.seedSession(t)

	conn := env.dial(t, session.ID)
	send(t, conn, map[string]any{"type": "auth", "role": "admin", "token": "not-a-jwt"})
	expectClose(t, conn, CloseBadAuth)
}

func TestParticipantBadTokenIsRejected(t *testing.T) {
	env := newTestEnv(t)
	_, _, session := env.seedSession(t)
	join, err := env.engine.Join(session.Code, "alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	conn := env.dial(t, session.ID)
	send(t, conn, map[string]any{
		"type": "auth", "role": "participant",
		"participant_id": join.Participant.ID, "participant_token": "wrong",
	})
	expectClose(t, conn, CloseBadAuth)

	// A failed auth never attaches to the room.
	if n := env.engine.Hub().ParticipantCount(session.ID); n != 0 {
		t.Fatalf("expected no attached participants, got %d", n)
	}
}

func TestParticipantUnknownIDIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, _, session := env.seedSession(t)

	conn := env.dial(t, session.ID)
	send(t, conn, map[string]any{
		"type": "auth", "role": "participant",
		"participant_id": "ghost", "participant_token": "whatever",
	})
	expectClose(t, conn, CloseNotFound)
}

func TestParticipantSubmitFlow(t *testing.T) {
	env := newTestEnv(t)
	_, quiz, session := env.seedSession(t)
	join, err := env.engine.Join(session.Code, "alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := env.engine.StartGame(session.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	conn := env.dial(t, session.ID)
	send(t, conn, map[string]any{
		"type": "auth", "role": "participant",
		"participant_id": join.Participant.ID, "participant_token": join.Participant.Token,
	})
	if got := readMsg(t, conn)["type"]; got != engine.TypeAuthOK {
		t.Fatalf("expected auth_ok, got %v", got)
	}

	// Mid-game connect gets the catch-up sequence.
	if got := readMsg(t, conn)["type"]; got != engine.TypeGameStarted {
		t.Fatalf("expected game_started, got %v", got)
	}
	question := readMsg(t, conn)
	if question["type"] != engine.TypeNewQuestion {
		t.Fatalf("expected new_question, got %v", question)
	}
	for _, a := range question["answers"].([]any) {
		if _, present := a.(map[string]any)["is_correct"]; present {
			t.Fatal("catch-up must not expose correctness mid-question")
		}
	}

	send(t, conn, map[string]any{"type": "submit_answer", "answer_id": quiz.Questions[0].Answers[0].ID})
	submitted := readMsg(t, conn)
	if submitted["type"] != engine.TypeAnswerSubmitted || submitted["is_correct"] != true {
		t.Fatalf("unexpected reply: %v", submitted)
	}
}

func TestPresenterSeesConnectAndDisconnect(t *testing.T) {
	env := newTestEnv(t)
	owner, _, session := env.seedSession(t)
	join, err := env.engine.Join(session.Code, "alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	token, err := env.jwt.Generate(owner.ID)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	admin := env.dial(t, session.ID)
	send(t, admin, map[string]any{"type": "auth", "role": "admin", "token": token})
	if got := readMsg(t, admin)["type"]; got != engine.TypeAuthOK {
		t.Fatalf("expected auth_ok, got %v", got)
	}

	participant := env.dial(t, session.ID)
	send(t, participant, map[string]any{
		"type": "auth", "role": "participant",
		"participant_id": join.Participant.ID, "participant_token": join.Participant.Token,
	})
	if got := readMsg(t, participant)["type"]; got != engine.TypeAuthOK {
		t.Fatalf("expected auth_ok, got %v", got)
	}

	connected := readMsg(t, admin)
	if connected["type"] != engine.TypeParticipantConnected || connected["nickname"] != "alice" {
		t.Fatalf("unexpected notice: %v", connected)
	}

	_ = participant.Close()
	disconnected := readMsg(t, admin)
	if disconnected["type"] != engine.TypeParticipantDisconnected || disconnected["nickname"] != "alice" {
		t.Fatalf("unexpected notice: %v", disconnected)
	}
}

func TestBadFramesGetErrorsNotDisconnect(t *testing.T) {
	env := newTestEnv(t)
	_, _, session := env.seedSession(t)
	join, err := env.engine.Join(session.Code, "alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := env.engine.StartGame(session.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	conn := env.dial(t, session.ID)
	send(t, conn, map[string]any{
		"type": "auth", "role": "participant",
		"participant_id": join.Participant.ID, "participant_token": join.Participant.Token,
	})
	if got := readMsg(t, conn)["type"]; got != engine.TypeAuthOK {
		t.Fatalf("expected auth_ok, got %v", got)
	}
	// Drain the mid-game catch-up pair.
	readMsg(t, conn)
	readMsg(t, conn)

	// Oversized frame.
	big := `{"type":"submit_answer","answer_id":"` + strings.Repeat("x", 5000) + `"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(big)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readMsg(t, conn)["message"]; got != "Message too large" {
		t.Fatalf("unexpected reply: %v", got)
	}

	// Malformed JSON.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{nope")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readMsg(t, conn)["message"]; got != "Invalid JSON" {
		t.Fatalf("unexpected reply: %v", got)
	}

	// A presenter command from a participant stream.
	send(t, conn, map[string]any{"type": "start_game"})
	if got := readMsg(t, conn)["message"]; got != "Unknown message type: start_game" {
		t.Fatalf("unexpected reply: %v", got)
	}

	// The stream survived all three.
	send(t, conn, map[string]any{"type": "submit_answer", "answer_id": "not-a-choice"})
	reply := readMsg(t, conn)
	if reply["type"] != engine.TypeError || reply["message"] != "Invalid answer" {
		t.Fatalf("expected the stream to stay usable, got %v", reply)
	}
}

func TestAuthTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.handler.authTimeout = 100 * time.Millisecond
	_, _, session := env.seedSession(t)

	conn := env.dial(t, session.ID)
	expectClose(t, conn, CloseAuthTimeout)
}

func TestNonAuthFirstFrameIsRejected(t *testing.T) {
	env := newTestEnv(t)
	_, _, session := env.seedSession(t)

	conn := env.dial(t, session.ID)
	send(t, conn, map[string]any{"type": "submit_answer", "answer_id": "x"})
	expectClose(t, conn, CloseBadAuth)
}
