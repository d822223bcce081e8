// Package storage defines the persistence contracts consumed by the
// coordination core and the REST surface.
//
// Every store follows last-write-wins semantics per aggregate id; callers
// serialize writes to one aggregate themselves.
package storage

import (
	"context"
	"errors"

	sessiondomain "github.com/storyweave/storyweave/internal/session/domain"
	storydomain "github.com/storyweave/storyweave/internal/story/domain"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// StoryStore persists story aggregates.
type StoryStore interface {
	PutStory(ctx context.Context, story storydomain.Story) error
	GetStory(ctx context.Context, id string) (storydomain.Story, error)
	ListCompletedStories(ctx context.Context) ([]storydomain.Story, error)
}

// SessionStore persists session aggregates.
type SessionStore interface {
	PutSession(ctx context.Context, session sessiondomain.Session) error
	GetSession(ctx context.Context, id string) (sessiondomain.Session, error)
	GetSessionByStory(ctx context.Context, storyID string) (sessiondomain.Session, error)
	ListActiveSessions(ctx context.Context) ([]sessiondomain.Session, error)
}

// PromptStore persists the writing prompt catalog.
type PromptStore interface {
	PutPrompt(ctx context.Context, prompt storydomain.Prompt) error
	GetPrompt(ctx context.Context, id string) (storydomain.Prompt, error)
	ListPrompts(ctx context.Context, category storydomain.PromptCategory) ([]storydomain.Prompt, error)
	IncrementPromptUsage(ctx context.Context, id string) error
}
