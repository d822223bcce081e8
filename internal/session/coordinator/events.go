package coordinator

// Event types fanned out to session rooms. The transport forwards them as
// frames without inspecting payloads.
const (
	EventParticipantJoined       = "session.participant_joined"
	EventParticipantDisconnected = "session.participant_disconnected"
	EventTyping                  = "session.typing"
	EventContributionAdded       = "session.contribution_added"
	EventStoryComplete           = "session.story_complete"
)

// Event is one room-scoped notification.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Payload   any    `json:"payload"`
}

// Broadcaster fans events out to every connection subscribed to a session
// room. Send failures to individual recipients are the broadcaster's problem;
// the coordinator never learns about them and never rolls back state.
type Broadcaster interface {
	Broadcast(sessionID string, event Event)
	BroadcastExcept(sessionID, connID string, event Event)
}

// ParticipantJoinedPayload announces a first-time join.
type ParticipantJoinedPayload struct {
	ParticipantID string `json:"participant_id"`
}

// ParticipantDisconnectedPayload announces a leave or connection drop. The
// participant keeps their roster slot and turn eligibility.
type ParticipantDisconnectedPayload struct {
	ParticipantID string `json:"participant_id"`
}

// TypingPayload relays a typing indicator.
type TypingPayload struct {
	ParticipantID string `json:"participant_id"`
	IsTyping      bool   `json:"is_typing"`
}

// ContributionAddedPayload announces an accepted contribution and the holder
// of the next turn. The limit-reaching contribution is never announced this
// way; the room gets StoryCompletePayload instead.
type ContributionAddedPayload struct {
	StoryID        string `json:"story_id"`
	AuthorID       string `json:"author_id"`
	Body           string `json:"body"`
	TurnIndex      int    `json:"turn_index"`
	NextTurnHolder string `json:"next_turn_holder"`
}

// StoryCompletePayload announces that the story reached its turn limit and
// the session is no longer active.
type StoryCompletePayload struct {
	StoryID   string `json:"story_id"`
	TurnIndex int    `json:"turn_index"`
}
