// Package coordinator serializes turn-taking for live writing sessions.
//
// Every state-changing operation on a session runs under that session's lock,
// so turn checks, contribution appends, and completion decisions are atomic
// per session. Reads and relays (typing) skip the lock.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	sessiondomain "github.com/storyweave/storyweave/internal/session/domain"
	"github.com/storyweave/storyweave/internal/storage"
	storydomain "github.com/storyweave/storyweave/internal/story/domain"
)

var (
	// ErrSessionNotFound indicates an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionInactive indicates the session's story already completed.
	ErrSessionInactive = errors.New("session is not active")
	// ErrNotYourTurn indicates a contribution from someone other than the
	// current turn holder.
	ErrNotYourTurn = errors.New("not your turn")
	// ErrInvalidContribution indicates a contribution body that failed
	// validation.
	ErrInvalidContribution = errors.New("invalid contribution")
	// ErrNotParticipant indicates a user outside the story's roster.
	ErrNotParticipant = errors.New("not a session participant")
)

// Stores bundles the persistence dependencies of the coordinator.
type Stores struct {
	Story   storage.StoryStore
	Session storage.SessionStore
}

// Snapshot is the state handed to a participant on join: the session overlay
// plus the full story it coordinates.
type Snapshot struct {
	Session sessiondomain.Session
	Story   storydomain.Story
}

// ContributionResult reports an accepted contribution.
type ContributionResult struct {
	Contribution   storydomain.Contribution
	TurnIndex      int
	NextTurnHolder string
	StoryComplete  bool
}

// Coordinator owns the write path for sessions. One instance serves all
// sessions; per-session locks keep sessions independent of each other.
type Coordinator struct {
	stores      Stores
	broadcaster Broadcaster
	clock       func() time.Time
	tracer      trace.Tracer

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock guards one session's write path. The refcount tracks in-flight
// operations so the registry can drop entries once the last holder releases.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Option adjusts coordinator construction.
type Option func(*Coordinator)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// New builds a coordinator over the given stores and broadcaster.
func New(stores Stores, broadcaster Broadcaster, opts ...Option) (*Coordinator, error) {
	if stores.Story == nil {
		return nil, fmt.Errorf("story store is required")
	}
	if stores.Session == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if broadcaster == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}

	coordinator := &Coordinator{
		stores:      stores,
		broadcaster: broadcaster,
		clock:       time.Now,
		tracer:      otel.Tracer("storyweave/coordinator"),
		locks:       make(map[string]*sessionLock),
	}
	for _, opt := range opts {
		opt(coordinator)
	}
	return coordinator, nil
}

// acquireSession blocks until the caller owns the session's write path.
// Release with releaseSession.
func (c *Coordinator) acquireSession(sessionID string) *sessionLock {
	c.mu.Lock()
	lock, ok := c.locks[sessionID]
	if !ok {
		lock = &sessionLock{}
		c.locks[sessionID] = lock
	}
	lock.refs++
	c.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (c *Coordinator) releaseSession(sessionID string, lock *sessionLock) {
	lock.mu.Unlock()

	c.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(c.locks, sessionID)
	}
	c.mu.Unlock()
}

func (c *Coordinator) loadSession(ctx context.Context, sessionID string) (sessiondomain.Session, error) {
	session, err := c.stores.Session.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return sessiondomain.Session{}, ErrSessionNotFound
		}
		return sessiondomain.Session{}, fmt.Errorf("load session: %w", err)
	}
	return session, nil
}

// Join admits a participant into a session room and returns the current
// state. First-time joins are announced to the rest of the room; rejoins
// refresh the presence record silently.
func (c *Coordinator) Join(ctx context.Context, sessionID, participantID, connID string) (Snapshot, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.Join")
	defer span.End()

	lock := c.acquireSession(sessionID)
	defer c.releaseSession(sessionID, lock)

	session, err := c.loadSession(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	if !session.Active {
		return Snapshot{}, ErrSessionInactive
	}

	story, err := c.stores.Story.GetStory(ctx, session.StoryID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load story: %w", err)
	}
	if !story.IsParticipant(participantID) {
		return Snapshot{}, ErrNotParticipant
	}

	firstJoin := session.RecordJoin(participantID, connID, c.clock())
	if err := c.stores.Session.PutSession(ctx, session); err != nil {
		return Snapshot{}, fmt.Errorf("persist session: %w", err)
	}

	if firstJoin {
		c.broadcaster.BroadcastExcept(sessionID, connID, Event{
			Type:      EventParticipantJoined,
			SessionID: sessionID,
			Payload:   ParticipantJoinedPayload{ParticipantID: participantID},
		})
	}
	return Snapshot{Session: session, Story: story}, nil
}

// Leave marks a participant disconnected on explicit departure and announces
// it to the rest of the room. The turn never moves on leave: an absent
// holder still holds the turn.
func (c *Coordinator) Leave(ctx context.Context, sessionID, participantID, connID string) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.Leave")
	defer span.End()

	lock := c.acquireSession(sessionID)
	defer c.releaseSession(sessionID, lock)

	session, err := c.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.RecordLeave(participantID, c.clock()) {
		return ErrNotParticipant
	}
	if err := c.stores.Session.PutSession(ctx, session); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	c.broadcaster.BroadcastExcept(sessionID, connID, Event{
		Type:      EventParticipantDisconnected,
		SessionID: sessionID,
		Payload:   ParticipantDisconnectedPayload{ParticipantID: participantID},
	})
	return nil
}

// Disconnect handles a connection dropping without an explicit leave. Stale
// connections, those already replaced by a rejoin, are ignored.
func (c *Coordinator) Disconnect(ctx context.Context, sessionID, connID string) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.Disconnect")
	defer span.End()

	lock := c.acquireSession(sessionID)
	defer c.releaseSession(sessionID, lock)

	session, err := c.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	participantID, ok := session.RecordDisconnect(connID, c.clock())
	if !ok {
		return nil
	}
	if err := c.stores.Session.PutSession(ctx, session); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	c.broadcaster.BroadcastExcept(sessionID, connID, Event{
		Type:      EventParticipantDisconnected,
		SessionID: sessionID,
		Payload:   ParticipantDisconnectedPayload{ParticipantID: participantID},
	})
	return nil
}

// SetTyping relays a typing indicator to the rest of the room. Beyond
// checking the session exists it touches no state and takes no lock; stale
// indicators are harmless.
func (c *Coordinator) SetTyping(ctx context.Context, sessionID, participantID, connID string, isTyping bool) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.SetTyping")
	defer span.End()

	if _, err := c.loadSession(ctx, sessionID); err != nil {
		return err
	}

	c.broadcaster.BroadcastExcept(sessionID, connID, Event{
		Type:      EventTyping,
		SessionID: sessionID,
		Payload:   TypingPayload{ParticipantID: participantID, IsTyping: isTyping},
	})
	return nil
}

// AddParticipant grows a story's roster ahead of the participant entering the
// room. It runs under the session lock so a roster write can never interleave
// with a contribution's load-modify-persist of the same story.
func (c *Coordinator) AddParticipant(ctx context.Context, storyID, participantID string) (Snapshot, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.AddParticipant")
	defer span.End()

	session, err := c.stores.Session.GetSessionByStory(ctx, storyID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Snapshot{}, ErrSessionNotFound
		}
		return Snapshot{}, fmt.Errorf("load session: %w", err)
	}

	lock := c.acquireSession(session.ID)
	defer c.releaseSession(session.ID, lock)

	// Reload under the lock; the read above only resolved the lock key.
	session, err = c.loadSession(ctx, session.ID)
	if err != nil {
		return Snapshot{}, err
	}
	if !session.Active {
		return Snapshot{}, ErrSessionInactive
	}

	story, err := c.stores.Story.GetStory(ctx, session.StoryID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load story: %w", err)
	}
	if err := story.AddParticipant(participantID, c.clock()); err != nil {
		return Snapshot{}, err
	}
	if err := c.stores.Story.PutStory(ctx, story); err != nil {
		return Snapshot{}, fmt.Errorf("persist story: %w", err)
	}
	return Snapshot{Session: session, Story: story}, nil
}

// SubmitContribution appends the turn holder's text to the story, advances
// the turn, and, when the turn limit is reached, completes the story and
// deactivates the session.
//
// Preconditions are checked in a fixed order: session active, holder
// matches, body valid. The story persists before the session so a crash
// between the two writes can lose a turn advance but never an accepted
// contribution.
func (c *Coordinator) SubmitContribution(ctx context.Context, sessionID, participantID, body string) (ContributionResult, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.SubmitContribution")
	defer span.End()

	lock := c.acquireSession(sessionID)
	defer c.releaseSession(sessionID, lock)

	session, err := c.loadSession(ctx, sessionID)
	if err != nil {
		return ContributionResult{}, err
	}
	if !session.Active {
		return ContributionResult{}, ErrSessionInactive
	}
	if session.CurrentTurnHolder != participantID {
		return ContributionResult{}, ErrNotYourTurn
	}

	story, err := c.stores.Story.GetStory(ctx, session.StoryID)
	if err != nil {
		return ContributionResult{}, fmt.Errorf("load story: %w", err)
	}

	now := c.clock()
	contribution, err := story.AppendContribution(participantID, body, now)
	if err != nil {
		switch {
		case errors.Is(err, storydomain.ErrEmptyContribution),
			errors.Is(err, storydomain.ErrContributionTooLong):
			return ContributionResult{}, fmt.Errorf("%w: %w", ErrInvalidContribution, err)
		case errors.Is(err, storydomain.ErrStoryComplete):
			return ContributionResult{}, ErrSessionInactive
		default:
			return ContributionResult{}, fmt.Errorf("append contribution: %w", err)
		}
	}

	result := ContributionResult{
		Contribution: contribution,
		TurnIndex:    story.TurnIndex,
	}
	if sessiondomain.IsComplete(story.TurnIndex, story.TurnLimit) {
		if err := story.MarkComplete(now); err != nil {
			return ContributionResult{}, fmt.Errorf("mark story complete: %w", err)
		}
		session.Deactivate(now)
		result.StoryComplete = true
	} else {
		nextHolder, err := sessiondomain.NextHolder(story.Participants, session.CurrentTurnHolder)
		if err != nil {
			log.Printf("session=%s story=%s turn rotation aborted: %v", sessionID, story.ID, err)
			return ContributionResult{}, fmt.Errorf("rotate turn: %w", err)
		}
		session.AdvanceTurn(nextHolder, now)
		result.NextTurnHolder = nextHolder
	}

	if err := c.stores.Story.PutStory(ctx, story); err != nil {
		return ContributionResult{}, fmt.Errorf("persist story: %w", err)
	}
	if err := c.stores.Session.PutSession(ctx, session); err != nil {
		return ContributionResult{}, fmt.Errorf("persist session: %w", err)
	}

	// The limit-reaching contribution is announced only by the completion
	// event; the room never sees a turn advance that cannot happen.
	if result.StoryComplete {
		c.broadcaster.Broadcast(sessionID, Event{
			Type:      EventStoryComplete,
			SessionID: sessionID,
			Payload:   StoryCompletePayload{StoryID: story.ID, TurnIndex: result.TurnIndex},
		})
	} else {
		c.broadcaster.Broadcast(sessionID, Event{
			Type:      EventContributionAdded,
			SessionID: sessionID,
			Payload: ContributionAddedPayload{
				StoryID:        story.ID,
				AuthorID:       contribution.AuthorID,
				Body:           contribution.Body,
				TurnIndex:      result.TurnIndex,
				NextTurnHolder: result.NextTurnHolder,
			},
		})
	}
	return result, nil
}
