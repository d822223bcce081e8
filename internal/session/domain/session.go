// Package domain models the live coordination overlay of one story: turn
// order, liveness bookkeeping, and the rotation policy.
//
// A Session carries the ephemeral connection state that must not pollute the
// durable story record. The two aggregates are updated together but the story
// is the source of truth for content, the session for turn-taking.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storyweave/storyweave/internal/id"
)

var (
	// ErrEmptyStoryID indicates a missing story reference.
	ErrEmptyStoryID = errors.New("story id is required")
	// ErrEmptyTurnHolder indicates a missing initial turn holder.
	ErrEmptyTurnHolder = errors.New("turn holder is required")
)

// PresenceRecord tracks one participant's connection liveness within a
// session. There is at most one record per participant; rejoins update the
// record in place. Records are never removed, so a disconnected participant
// keeps their roster slot and turn eligibility.
type PresenceRecord struct {
	ParticipantID string
	ConnID        string
	Connected     bool
	LastActive    time.Time
}

// Session is the live coordination record overlaying one story.
type Session struct {
	ID                string
	StoryID           string
	Active            bool
	CurrentTurnHolder string
	TurnStartedAt     time.Time
	Presence          []PresenceRecord
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CreateSessionInput describes the metadata needed to create a session.
type CreateSessionInput struct {
	StoryID           string
	CurrentTurnHolder string
}

// CreateSession creates an active session with a generated ID. The initial
// turn holder is the story creator.
func CreateSession(input CreateSessionInput, now func() time.Time, idGenerator func() (string, error)) (Session, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	input.StoryID = strings.TrimSpace(input.StoryID)
	input.CurrentTurnHolder = strings.TrimSpace(input.CurrentTurnHolder)
	if input.StoryID == "" {
		return Session{}, ErrEmptyStoryID
	}
	if input.CurrentTurnHolder == "" {
		return Session{}, ErrEmptyTurnHolder
	}

	sessionID, err := idGenerator()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}

	createdAt := now().UTC()
	return Session{
		ID:                sessionID,
		StoryID:           input.StoryID,
		Active:            true,
		CurrentTurnHolder: input.CurrentTurnHolder,
		TurnStartedAt:     createdAt,
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
	}, nil
}

// AdvanceTurn hands the turn to the next holder and restarts the turn clock.
func (s *Session) AdvanceTurn(nextHolder string, now time.Time) {
	s.CurrentTurnHolder = nextHolder
	s.TurnStartedAt = now.UTC()
	s.UpdatedAt = now.UTC()
}

// Deactivate marks the session inert. It is called exactly once, when the
// story completes, and never reverts.
func (s *Session) Deactivate(now time.Time) {
	s.Active = false
	s.UpdatedAt = now.UTC()
}
