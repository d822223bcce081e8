// Package server hosts the WebSocket transport for live writing sessions.
//
// The transport stays thin: it authenticates the handshake, decodes frames,
// and forwards everything session-shaped to the coordinator. All turn and
// presence policy lives behind that boundary.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/storyweave/storyweave/internal/auth"
	"github.com/storyweave/storyweave/internal/id"
	"github.com/storyweave/storyweave/internal/session/coordinator"
	sessiondomain "github.com/storyweave/storyweave/internal/session/domain"
	storydomain "github.com/storyweave/storyweave/internal/story/domain"
)

const (
	tokenCookieName = "sw_token"

	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type wsErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type joinPayload struct {
	SessionID string `json:"session_id"`
}

type leavePayload struct {
	SessionID string `json:"session_id"`
}

type typingPayload struct {
	SessionID string `json:"session_id"`
	IsTyping  bool   `json:"is_typing"`
}

type contributePayload struct {
	SessionID string `json:"session_id"`
	Body      string `json:"body"`
}

type joinedPayload struct {
	SessionID         string               `json:"session_id"`
	Story             joinedStory          `json:"story"`
	CurrentTurnHolder string               `json:"current_turn_holder"`
	Active            bool                 `json:"active"`
	Connected         []string             `json:"connected"`
	Contributions     []joinedContribution `json:"contributions"`
	ServerTime        string               `json:"server_time"`
}

type joinedStory struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	PromptID     string   `json:"prompt_id,omitempty"`
	Participants []string `json:"participants"`
	TurnIndex    int      `json:"turn_index"`
	TurnLimit    int      `json:"turn_limit"`
}

type joinedContribution struct {
	AuthorID string `json:"author_id"`
	Body     string `json:"body"`
	SentAt   string `json:"sent_at"`
}

// wsConn is the per-connection state: identity from the handshake plus the
// single session room this connection has joined.
type wsConn struct {
	mu            sync.Mutex
	connID        string
	participantID string
	peer          *wsPeer
	sessionID     string
}

func (c *wsConn) setSession(sessionID string) {
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
}

func (c *wsConn) currentSession() string {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	return sessionID
}

type wsParticipantContextKey struct{}

// Hub is the subscription side of the room fan-out. The same hub must serve
// as the coordinator's broadcaster so room membership and event delivery
// agree.
type Hub interface {
	coordinator.Broadcaster
	join(sessionID, connID string, peer *wsPeer)
	leave(sessionID, connID string)
}

// NewHub builds the room hub passed to both the coordinator and NewHandler.
func NewHub() Hub {
	return newRoomHub()
}

// NewHandler creates the realtime routes. The verifier guards the WebSocket
// handshake; a nil verifier refuses all connections.
func NewHandler(coord *coordinator.Coordinator, hub Hub, verifier *auth.Verifier) http.Handler {
	return newHandler(coord, hub, verifier)
}

func newHandler(coord *coordinator.Coordinator, hub Hub, verifier *auth.Verifier) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, coord, hub)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if verifier == nil {
			http.Error(w, "websocket auth is not configured", http.StatusServiceUnavailable)
			return
		}

		token := accessTokenFromRequest(r)
		participantID, err := verifier.VerifyToken(token)
		if err != nil {
			log.Printf("realtime: websocket unauthorized: remote=%s err=%v", r.RemoteAddr, err)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), wsParticipantContextKey{}, participantID)
		wsHandler.ServeHTTP(w, r.WithContext(ctx))
	})

	return mux
}

func accessTokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if cookie, err := r.Cookie(tokenCookieName); err == nil {
		if token := strings.TrimSpace(cookie.Value); token != "" {
			return token
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func handleWSConn(conn *websocket.Conn, coord *coordinator.Coordinator, hub Hub) {
	defer func() {
		_ = conn.Close()
	}()

	connID, err := id.NewID()
	if err != nil {
		log.Printf("realtime: generate conn id: %v", err)
		return
	}

	participantID := ""
	if request := conn.Request(); request != nil {
		if resolved, ok := request.Context().Value(wsParticipantContextKey{}).(string); ok {
			participantID = resolved
		}
	}
	if participantID == "" {
		return
	}

	state := &wsConn{
		connID:        connID,
		participantID: participantID,
		peer:          newWSPeer(json.NewEncoder(conn)),
	}
	defer func() {
		if sessionID := state.currentSession(); sessionID != "" {
			if err := coord.Disconnect(context.Background(), sessionID, connID); err != nil {
				log.Printf("realtime: disconnect session=%s conn=%s: %v", sessionID, connID, err)
			}
			hub.leave(sessionID, connID)
		}
	}()

	decoder := json.NewDecoder(conn)
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(state.peer, "", "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(state.peer, frame.RequestID, "INVALID_ARGUMENT", "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(state.peer, frame.RequestID, "RESOURCE_EXHAUSTED", "rate limit exceeded")
			return
		}

		ctx := context.Background()
		if request := conn.Request(); request != nil {
			ctx = request.Context()
		}

		switch frame.Type {
		case "session.join":
			handleJoinFrame(ctx, state, coord, hub, frame)
		case "session.leave":
			handleLeaveFrame(ctx, state, coord, hub, frame)
		case "session.typing":
			handleTypingFrame(ctx, state, coord, frame)
		case "session.contribute":
			handleContributeFrame(ctx, state, coord, frame)
		default:
			_ = writeWSError(state.peer, frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}

func handleJoinFrame(ctx context.Context, state *wsConn, coord *coordinator.Coordinator, hub Hub, frame wsFrame) {
	var payload joinPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(state.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid join payload")
		return
	}
	sessionID := strings.TrimSpace(payload.SessionID)
	if sessionID == "" {
		_ = writeWSError(state.peer, frame.RequestID, "INVALID_ARGUMENT", "session_id is required")
		return
	}

	// Subscribe before joining so no broadcast between join and subscribe
	// is missed. An admission failure unsubscribes again.
	hub.join(sessionID, state.connID, state.peer)
	snapshot, err := coord.Join(ctx, sessionID, state.participantID, state.connID)
	if err != nil {
		hub.leave(sessionID, state.connID)
		writeCoordinatorError(state.peer, frame.RequestID, err)
		return
	}

	if previous := state.currentSession(); previous != "" && previous != sessionID {
		if err := coord.Leave(ctx, previous, state.participantID, state.connID); err != nil {
			log.Printf("realtime: leave previous session=%s: %v", previous, err)
		}
		hub.leave(previous, state.connID)
	}
	state.setSession(sessionID)

	joined, err := json.Marshal(joinedFromSnapshot(snapshot))
	if err != nil {
		_ = writeWSError(state.peer, frame.RequestID, "INTERNAL", "encode session state")
		return
	}
	_ = state.peer.writeFrame(wsFrame{
		Type:      "session.joined",
		RequestID: frame.RequestID,
		Payload:   joined,
	})
}

func handleLeaveFrame(ctx context.Context, state *wsConn, coord *coordinator.Coordinator, hub Hub, frame wsFrame) {
	var payload leavePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(state.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid leave payload")
		return
	}
	sessionID := strings.TrimSpace(payload.SessionID)
	if sessionID == "" || sessionID != state.currentSession() {
		_ = writeWSError(state.peer, frame.RequestID, "INVALID_ARGUMENT", "not joined to this session")
		return
	}

	if err := coord.Leave(ctx, sessionID, state.participantID, state.connID); err != nil {
		writeCoordinatorError(state.peer, frame.RequestID, err)
		return
	}
	hub.leave(sessionID, state.connID)
	state.setSession("")
}

func handleTypingFrame(ctx context.Context, state *wsConn, coord *coordinator.Coordinator, frame wsFrame) {
	var payload typingPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(state.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid typing payload")
		return
	}
	sessionID := strings.TrimSpace(payload.SessionID)
	if sessionID == "" || sessionID != state.currentSession() {
		_ = writeWSError(state.peer, frame.RequestID, "INVALID_ARGUMENT", "not joined to this session")
		return
	}

	if err := coord.SetTyping(ctx, sessionID, state.participantID, state.connID, payload.IsTyping); err != nil {
		writeCoordinatorError(state.peer, frame.RequestID, err)
	}
}

func handleContributeFrame(ctx context.Context, state *wsConn, coord *coordinator.Coordinator, frame wsFrame) {
	var payload contributePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(state.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid contribute payload")
		return
	}
	sessionID := strings.TrimSpace(payload.SessionID)
	if sessionID == "" || sessionID != state.currentSession() {
		_ = writeWSError(state.peer, frame.RequestID, "INVALID_ARGUMENT", "not joined to this session")
		return
	}

	if _, err := coord.SubmitContribution(ctx, sessionID, state.participantID, payload.Body); err != nil {
		writeCoordinatorError(state.peer, frame.RequestID, err)
	}
}

func joinedFromSnapshot(snapshot coordinator.Snapshot) joinedPayload {
	return joinedPayload{
		SessionID:         snapshot.Session.ID,
		Story:             joinedStoryFrom(snapshot.Story),
		CurrentTurnHolder: snapshot.Session.CurrentTurnHolder,
		Active:            snapshot.Session.Active,
		Connected:         connectedParticipants(snapshot.Session),
		Contributions:     joinedContributionsFrom(snapshot.Story),
		ServerTime:        time.Now().UTC().Format(time.RFC3339),
	}
}

func joinedStoryFrom(story storydomain.Story) joinedStory {
	return joinedStory{
		ID:           story.ID,
		Title:        story.Title,
		PromptID:     story.PromptID,
		Participants: story.Participants,
		TurnIndex:    story.TurnIndex,
		TurnLimit:    story.TurnLimit,
	}
}

func joinedContributionsFrom(story storydomain.Story) []joinedContribution {
	contributions := make([]joinedContribution, 0, len(story.Contributions))
	for _, contribution := range story.Contributions {
		contributions = append(contributions, joinedContribution{
			AuthorID: contribution.AuthorID,
			Body:     contribution.Body,
			SentAt:   contribution.CreatedAt.Format(time.RFC3339),
		})
	}
	return contributions
}

func connectedParticipants(session sessiondomain.Session) []string {
	connected := make([]string, 0, len(session.Presence))
	for _, record := range session.Presence {
		if record.Connected {
			connected = append(connected, record.ParticipantID)
		}
	}
	return connected
}

func writeCoordinatorError(peer *wsPeer, requestID string, err error) {
	code := "INTERNAL"
	message := "internal error"
	switch {
	case errors.Is(err, coordinator.ErrSessionNotFound):
		code, message = "SESSION_NOT_FOUND", "session not found"
	case errors.Is(err, coordinator.ErrSessionInactive):
		code, message = "SESSION_INACTIVE", "session is not active"
	case errors.Is(err, coordinator.ErrNotYourTurn):
		code, message = "NOT_YOUR_TURN", "it is not your turn"
	case errors.Is(err, coordinator.ErrInvalidContribution):
		code, message = "INVALID_CONTRIBUTION", "contribution is invalid"
	case errors.Is(err, coordinator.ErrNotParticipant):
		code, message = "NOT_PARTICIPANT", "not a participant of this story"
	default:
		log.Printf("realtime: coordinator error: %v", err)
	}
	_ = writeWSError(peer, requestID, code, message)
}

func writeWSError(peer *wsPeer, requestID, code, message string) error {
	payload, err := json.Marshal(wsErrorPayload{Code: code, Message: message})
	if err != nil {
		return err
	}
	return peer.writeFrame(wsFrame{
		Type:      "session.error",
		RequestID: requestID,
		Payload:   payload,
	})
}
