// Package ws is the WebSocket transport for live sessions. It authenticates
// each stream, attaches it to the hub, and shuttles frames between the
// connection and the engine.
package ws

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quizforge/quizforge/internal/auth"
	"github.com/quizforge/quizforge/internal/db"
	"github.com/quizforge/quizforge/internal/engine"
	"github.com/quizforge/quizforge/internal/hub"
	"github.com/quizforge/quizforge/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxIngressBytes caps inbound frames. Larger frames get an error
	// reply and are otherwise ignored.
	maxIngressBytes = 4096

	// readLimit is the hard cutoff past which the connection is dropped
	// outright instead of replying.
	readLimit = 64 << 10
)

// Application close codes.
const (
	CloseBadAuth     = 4001
	CloseForbidden   = 4003
	CloseNotFound    = 4004
	CloseAuthTimeout = 4008
)

// defaultAuthTimeout bounds the wait for the first auth frame.
const defaultAuthTimeout = 10 * time.Second

// authMsg is the first frame every stream must send.
type authMsg struct {
	Type             string `json:"type"`
	Role             string `json:"role"`
	Token            string `json:"token"`
	ParticipantID    string `json:"participant_id"`
	ParticipantToken string `json:"participant_token"`
}

// inboundMsg is the envelope for post-auth frames.
type inboundMsg struct {
	Type     string `json:"type"`
	AnswerID string `json:"answer_id"`
}

// Handler upgrades and serves /ws/session/{session_id}.
type Handler struct {
	engine  *engine.Engine
	db      *db.DB
	jwt     *auth.JWTManager
	metrics *metrics.Metrics

	authTimeout time.Duration
	upgrader    websocket.Upgrader
}

// NewHandler builds the stream handler. allowedOrigins follows the API
// CORS list; "*" admits any origin.
func NewHandler(e *engine.Engine, database *db.DB, jwtManager *auth.JWTManager, m *metrics.Metrics, allowedOrigins []string) *Handler {
	h := &Handler{
		engine:      e,
		db:          database,
		jwt:         jwtManager,
		metrics:     m,
		authTimeout: defaultAuthTimeout,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range allowedOrigins {
				if allowed == "*" || strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade: %v", err)
		return
	}
	go h.serve(conn, sessionID)
}

// closeWith sends an application close frame and drops the connection.
func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

func (h *Handler) serve(conn *websocket.Conn, sessionID string) {
	session, err := h.db.GetSession(sessionID)
	if err != nil {
		log.Printf("ws: load session %s: %v", sessionID, err)
		closeWith(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}
	if session == nil {
		closeWith(conn, CloseNotFound, "Session not found")
		return
	}

	sub, ok := h.authenticate(conn, session)
	if !ok {
		return
	}

	hubRef := h.engine.Hub()
	h.metrics.ConnectionsActive.WithLabelValues(sub.Role).Inc()
	defer h.metrics.ConnectionsActive.WithLabelValues(sub.Role).Dec()

	hubRef.SendTo(sessionID, sub, map[string]any{"type": engine.TypeAuthOK})

	if sub.Role == hub.RoleParticipant {
		hubRef.ToPresenter(sessionID, map[string]any{
			"type":           engine.TypeParticipantConnected,
			"participant_id": sub.ParticipantID,
			"nickname":       sub.Nickname,
		})
		if err := h.engine.SyncSubscriber(sessionID, sub); err != nil {
			log.Printf("ws: sync %s: %v", sessionID, err)
		}
	}

	go h.writePump(conn, sub)
	h.readLoop(conn, sessionID, sub)

	hubRef.Detach(sessionID, sub)
	if sub.Role == hub.RoleParticipant {
		hubRef.ToPresenter(sessionID, map[string]any{
			"type":           engine.TypeParticipantDisconnected,
			"participant_id": sub.ParticipantID,
			"nickname":       sub.Nickname,
		})
	}
}

// authenticate runs the auth phase: one auth frame within the timeout,
// validated against the session. On failure the connection is closed with
// the matching application code and nothing is attached to the hub.
func (h *Handler) authenticate(conn *websocket.Conn, session *db.Session) (*hub.Subscriber, bool) {
	conn.SetReadLimit(readLimit)
	if err := conn.SetReadDeadline(time.Now().Add(h.authTimeout)); err != nil {
		_ = conn.Close()
		return nil, false
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		closeWith(conn, CloseAuthTimeout, "Authentication timeout")
		return nil, false
	}
	var msg authMsg
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "auth" {
		closeWith(conn, CloseBadAuth, "Expected auth message")
		return nil, false
	}

	switch msg.Role {
	case hub.RoleAdmin:
		subject, err := h.jwt.Verify(msg.Token)
		if err != nil {
			closeWith(conn, CloseBadAuth, "Invalid token")
			return nil, false
		}
		if subject != session.OwnerID {
			closeWith(conn, CloseForbidden, "Not the session owner")
			return nil, false
		}
		return h.engine.Hub().Attach(session.ID, hub.RoleAdmin, "", ""), true

	case hub.RoleParticipant:
		participant, err := h.db.GetParticipant(msg.ParticipantID)
		if err != nil {
			log.Printf("ws: load participant: %v", err)
			closeWith(conn, websocket.CloseInternalServerErr, "internal error")
			return nil, false
		}
		if participant == nil || participant.SessionID != session.ID {
			closeWith(conn, CloseNotFound, "Participant not found")
			return nil, false
		}
		if subtle.ConstantTimeCompare([]byte(participant.Token), []byte(msg.ParticipantToken)) != 1 {
			closeWith(conn, CloseBadAuth, "Invalid participant token")
			return nil, false
		}
		return h.engine.Hub().Attach(session.ID, hub.RoleParticipant, participant.ID, participant.Nickname), true

	default:
		closeWith(conn, CloseBadAuth, "Unknown role")
		return nil, false
	}
}

// readLoop handles post-auth ingress until the connection drops. Invalid
// frames get an error reply on the stream; only transport errors end the
// loop.
func (h *Handler) readLoop(conn *websocket.Conn, sessionID string, sub *hub.Subscriber) {
	defer conn.Close() //nolint:errcheck

	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	hubRef := h.engine.Hub()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("ws: read %s: %v", sessionID, err)
			}
			return
		}
		h.metrics.MessagesReceived.Inc()

		if len(data) > maxIngressBytes {
			hubRef.SendTo(sessionID, sub, engine.Error("Message too large"))
			continue
		}
		var msg inboundMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			hubRef.SendTo(sessionID, sub, engine.Error("Invalid JSON"))
			continue
		}

		if err := h.dispatch(sessionID, sub, &msg); err != nil {
			log.Printf("ws: handle %s %s: %v", sessionID, msg.Type, err)
		}
	}
}

// dispatch routes one frame by role. A frame whose type the sender's role
// does not own gets an error reply, never a disconnect.
func (h *Handler) dispatch(sessionID string, sub *hub.Subscriber, msg *inboundMsg) error {
	hubRef := h.engine.Hub()
	switch sub.Role {
	case hub.RoleAdmin:
		switch msg.Type {
		case engine.CmdStartGame, engine.CmdNextQuestion, engine.CmdRevealAnswer, engine.CmdEndGame:
			return h.engine.HandleCommand(sessionID, msg.Type)
		}
	case hub.RoleParticipant:
		if msg.Type == engine.CmdSubmitAnswer {
			return h.engine.SubmitAnswer(sessionID, sub.ParticipantID, msg.AnswerID)
		}
	}
	hubRef.SendTo(sessionID, sub, engine.Error(fmt.Sprintf("Unknown message type: %s", msg.Type)))
	return nil
}

// writePump drains the subscriber's outbox to the connection and keeps the
// peer alive with pings. It exits when the outbox closes (detach) or a
// write fails.
func (h *Handler) writePump(conn *websocket.Conn, sub *hub.Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case message, ok := <-sub.Outbox():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			h.metrics.MessagesSent.Inc()

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
