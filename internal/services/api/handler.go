// Package api exposes the REST lifecycle surface: creating stories, growing
// rosters before session entry, the lobby and archive listings, and the
// prompt catalog. Live turn-taking never goes through here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/storyweave/storyweave/internal/auth"
	"github.com/storyweave/storyweave/internal/id"
	"github.com/storyweave/storyweave/internal/session/coordinator"
	sessiondomain "github.com/storyweave/storyweave/internal/session/domain"
	"github.com/storyweave/storyweave/internal/storage"
	storydomain "github.com/storyweave/storyweave/internal/story/domain"
)

const tokenCookieName = "sw_token"

// Stores bundles the persistence dependencies of the REST surface.
type Stores struct {
	Story   storage.StoryStore
	Session storage.SessionStore
	Prompt  storage.PromptStore
}

// Handler serves the REST routes. Roster changes go through the coordinator
// so they serialize with live contributions on the same story.
type Handler struct {
	stores      Stores
	coordinator *coordinator.Coordinator
	verifier    *auth.Verifier
	clock       func() time.Time
	idGenerator func() (string, error)
}

// Option adjusts handler construction.
type Option func(*Handler)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithIDGenerator overrides the id source.
func WithIDGenerator(idGenerator func() (string, error)) Option {
	return func(h *Handler) {
		h.idGenerator = idGenerator
	}
}

// NewHandler builds the REST handler.
func NewHandler(stores Stores, coord *coordinator.Coordinator, verifier *auth.Verifier, opts ...Option) (*Handler, error) {
	if stores.Story == nil || stores.Session == nil || stores.Prompt == nil {
		return nil, fmt.Errorf("all stores are required")
	}
	if coord == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}

	handler := &Handler{
		stores:      stores,
		coordinator: coord,
		verifier:    verifier,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
	for _, opt := range opts {
		opt(handler)
	}
	return handler, nil
}

// Routes returns the route table.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/stories", h.requireAuth(h.createStory))
	mux.HandleFunc("GET /api/stories/active", h.listActiveSessions)
	mux.HandleFunc("GET /api/stories/completed", h.listCompletedStories)
	mux.HandleFunc("GET /api/stories/{storyID}", h.getStory)
	mux.HandleFunc("POST /api/stories/{storyID}/join", h.requireAuth(h.joinStory))
	mux.HandleFunc("GET /api/prompts", h.listPrompts)
	mux.HandleFunc("POST /api/prompts", h.requireAuth(h.createPrompt))
	return mux
}

type participantContextKey struct{}

func participantFromContext(ctx context.Context) string {
	participantID, _ := ctx.Value(participantContextKey{}).(string)
	return participantID
}

func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		participantID, err := h.verifier.VerifyToken(tokenFromRequest(r))
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		ctx := context.WithValue(r.Context(), participantContextKey{}, participantID)
		next(w, r.WithContext(ctx))
	}
}

func tokenFromRequest(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if cookie, err := r.Cookie(tokenCookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

type createStoryRequest struct {
	Title           string `json:"title"`
	PromptID        string `json:"prompt_id,omitempty"`
	TurnLimit       int    `json:"turn_limit,omitempty"`
	MaxParticipants int    `json:"max_participants,omitempty"`
}

type createStoryResponse struct {
	Story   storyView   `json:"story"`
	Session sessionView `json:"session"`
}

func (h *Handler) createStory(w http.ResponseWriter, r *http.Request) {
	var request createStoryRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	promptID := strings.TrimSpace(request.PromptID)
	if promptID != "" {
		if _, err := h.stores.Prompt.GetPrompt(ctx, promptID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeJSONError(w, http.StatusBadRequest, "unknown prompt")
				return
			}
			h.internalError(w, "load prompt", err)
			return
		}
	}

	story, err := storydomain.CreateStory(storydomain.CreateStoryInput{
		Title:           request.Title,
		PromptID:        promptID,
		CreatorID:       participantFromContext(ctx),
		TurnLimit:       request.TurnLimit,
		MaxParticipants: request.MaxParticipants,
	}, h.clock, h.idGenerator)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := sessiondomain.CreateSession(sessiondomain.CreateSessionInput{
		StoryID:           story.ID,
		CurrentTurnHolder: story.CreatorID,
	}, h.clock, h.idGenerator)
	if err != nil {
		h.internalError(w, "create session", err)
		return
	}

	if err := h.stores.Story.PutStory(ctx, story); err != nil {
		h.internalError(w, "persist story", err)
		return
	}
	if err := h.stores.Session.PutSession(ctx, session); err != nil {
		h.internalError(w, "persist session", err)
		return
	}
	if promptID != "" {
		if err := h.stores.Prompt.IncrementPromptUsage(ctx, promptID); err != nil {
			log.Printf("api: increment prompt usage prompt=%s: %v", promptID, err)
		}
	}

	writeJSON(w, http.StatusCreated, createStoryResponse{
		Story:   storyViewFrom(story),
		Session: sessionViewFrom(session),
	})
}

func (h *Handler) joinStory(w http.ResponseWriter, r *http.Request) {
	storyID := strings.TrimSpace(r.PathValue("storyID"))
	ctx := r.Context()

	snapshot, err := h.coordinator.AddParticipant(ctx, storyID, participantFromContext(ctx))
	if err != nil {
		switch {
		case errors.Is(err, coordinator.ErrSessionNotFound):
			writeJSONError(w, http.StatusNotFound, "story not found")
		case errors.Is(err, coordinator.ErrSessionInactive):
			writeJSONError(w, http.StatusBadRequest, "session is not active")
		case errors.Is(err, storydomain.ErrStoryFull),
			errors.Is(err, storydomain.ErrAlreadyParticipant),
			errors.Is(err, storydomain.ErrStoryComplete),
			errors.Is(err, storydomain.ErrEmptyParticipantID):
			writeJSONError(w, http.StatusBadRequest, err.Error())
		default:
			h.internalError(w, "add participant", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, createStoryResponse{
		Story:   storyViewFrom(snapshot.Story),
		Session: sessionViewFrom(snapshot.Session),
	})
}

func (h *Handler) getStory(w http.ResponseWriter, r *http.Request) {
	storyID := strings.TrimSpace(r.PathValue("storyID"))

	story, err := h.stores.Story.GetStory(r.Context(), storyID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "story not found")
			return
		}
		h.internalError(w, "load story", err)
		return
	}
	writeJSON(w, http.StatusOK, storyViewFrom(story))
}

type lobbyEntry struct {
	Session sessionView `json:"session"`
	Story   storyView   `json:"story"`
}

func (h *Handler) listActiveSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessions, err := h.stores.Session.ListActiveSessions(ctx)
	if err != nil {
		h.internalError(w, "list active sessions", err)
		return
	}

	entries := make([]lobbyEntry, 0, len(sessions))
	for _, session := range sessions {
		story, err := h.stores.Story.GetStory(ctx, session.StoryID)
		if err != nil {
			log.Printf("api: lobby story load story=%s: %v", session.StoryID, err)
			continue
		}
		entries = append(entries, lobbyEntry{
			Session: sessionViewFrom(session),
			Story:   storyViewFrom(story),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": entries})
}

func (h *Handler) listCompletedStories(w http.ResponseWriter, r *http.Request) {
	stories, err := h.stores.Story.ListCompletedStories(r.Context())
	if err != nil {
		h.internalError(w, "list completed stories", err)
		return
	}

	views := make([]storyView, 0, len(stories))
	for _, story := range stories {
		views = append(views, storyViewFrom(story))
	}
	writeJSON(w, http.StatusOK, map[string]any{"stories": views})
}

type createPromptRequest struct {
	Text     string `json:"text"`
	Category string `json:"category,omitempty"`
}

func (h *Handler) createPrompt(w http.ResponseWriter, r *http.Request) {
	var request createPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prompt, err := storydomain.CreatePrompt(storydomain.CreatePromptInput{
		Text:     request.Text,
		Category: storydomain.PromptCategory(strings.TrimSpace(request.Category)),
	}, h.clock, h.idGenerator)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.stores.Prompt.PutPrompt(r.Context(), prompt); err != nil {
		h.internalError(w, "persist prompt", err)
		return
	}
	writeJSON(w, http.StatusCreated, promptViewFrom(prompt))
}

func (h *Handler) listPrompts(w http.ResponseWriter, r *http.Request) {
	category := storydomain.PromptCategory(strings.TrimSpace(r.URL.Query().Get("category")))
	if category != "" && !category.IsValid() {
		writeJSONError(w, http.StatusBadRequest, "unknown prompt category")
		return
	}

	prompts, err := h.stores.Prompt.ListPrompts(r.Context(), category)
	if err != nil {
		h.internalError(w, "list prompts", err)
		return
	}

	views := make([]promptView, 0, len(prompts))
	for _, prompt := range prompts {
		views = append(views, promptViewFrom(prompt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompts": views})
}

func (h *Handler) internalError(w http.ResponseWriter, action string, err error) {
	log.Printf("api: %s: %v", action, err)
	writeJSONError(w, http.StatusInternalServerError, "internal error")
}

type storyView struct {
	ID              string             `json:"id"`
	Title           string             `json:"title"`
	PromptID        string             `json:"prompt_id,omitempty"`
	CreatorID       string             `json:"creator_id"`
	Participants    []string           `json:"participants"`
	Contributions   []contributionView `json:"contributions"`
	TurnIndex       int                `json:"turn_index"`
	TurnLimit       int                `json:"turn_limit"`
	MaxParticipants int                `json:"max_participants"`
	Complete        bool               `json:"complete"`
	CreatedAt       string             `json:"created_at"`
	UpdatedAt       string             `json:"updated_at"`
}

type contributionView struct {
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

type sessionView struct {
	ID                string `json:"id"`
	StoryID           string `json:"story_id"`
	Active            bool   `json:"active"`
	CurrentTurnHolder string `json:"current_turn_holder"`
	TurnStartedAt     string `json:"turn_started_at"`
}

type promptView struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Category   string `json:"category"`
	UsageCount int    `json:"usage_count"`
	CreatedAt  string `json:"created_at"`
}

func storyViewFrom(story storydomain.Story) storyView {
	contributions := make([]contributionView, 0, len(story.Contributions))
	for _, contribution := range story.Contributions {
		contributions = append(contributions, contributionView{
			AuthorID:  contribution.AuthorID,
			Body:      contribution.Body,
			CreatedAt: contribution.CreatedAt.Format(time.RFC3339),
		})
	}
	return storyView{
		ID:              story.ID,
		Title:           story.Title,
		PromptID:        story.PromptID,
		CreatorID:       story.CreatorID,
		Participants:    story.Participants,
		Contributions:   contributions,
		TurnIndex:       story.TurnIndex,
		TurnLimit:       story.TurnLimit,
		MaxParticipants: story.MaxParticipants,
		Complete:        story.Complete,
		CreatedAt:       story.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       story.UpdatedAt.Format(time.RFC3339),
	}
}

func sessionViewFrom(session sessiondomain.Session) sessionView {
	return sessionView{
		ID:                session.ID,
		StoryID:           session.StoryID,
		Active:            session.Active,
		CurrentTurnHolder: session.CurrentTurnHolder,
		TurnStartedAt:     session.TurnStartedAt.Format(time.RFC3339),
	}
}

func promptViewFrom(prompt storydomain.Prompt) promptView {
	return promptView{
		ID:         prompt.ID,
		Text:       prompt.Text,
		Category:   string(prompt.Category),
		UsageCount: prompt.UsageCount,
		CreatedAt:  prompt.CreatedAt.Format(time.RFC3339),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
