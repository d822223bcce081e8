package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/storyweave/storyweave/internal/id"
)

const (
	// MaxContributionRunes bounds the length of a single contribution body.
	MaxContributionRunes = 2000
	// MaxTitleRunes bounds the length of a story title.
	MaxTitleRunes = 200

	// DefaultTurnLimit is used when a story is created without one.
	DefaultTurnLimit = 10
	// DefaultMaxParticipants is used when a story is created without one.
	DefaultMaxParticipants = 5
)

var (
	// ErrEmptyTitle indicates a missing story title.
	ErrEmptyTitle = errors.New("story title is required")
	// ErrTitleTooLong indicates a story title over the length limit.
	ErrTitleTooLong = errors.New("story title is too long")
	// ErrEmptyCreatorID indicates a missing creator identity.
	ErrEmptyCreatorID = errors.New("creator id is required")
	// ErrInvalidTurnLimit indicates a non-positive turn limit.
	ErrInvalidTurnLimit = errors.New("turn limit must be positive")
	// ErrInvalidMaxParticipants indicates a non-positive participant cap.
	ErrInvalidMaxParticipants = errors.New("max participants must be positive")

	// ErrEmptyContribution indicates a contribution body that is empty after trimming.
	ErrEmptyContribution = errors.New("contribution body is required")
	// ErrContributionTooLong indicates a contribution body over the length limit.
	ErrContributionTooLong = errors.New("contribution body is too long")
	// ErrStoryComplete indicates a mutation attempted on a completed story.
	ErrStoryComplete = errors.New("story is complete")
	// ErrStoryNotComplete indicates a completion mark before the turn limit is reached.
	ErrStoryNotComplete = errors.New("story has not reached its turn limit")

	// ErrStoryFull indicates the participant roster is at its cap.
	ErrStoryFull = errors.New("story is full")
	// ErrAlreadyParticipant indicates the user is already on the roster.
	ErrAlreadyParticipant = errors.New("already a participant")
	// ErrEmptyParticipantID indicates a missing participant identity.
	ErrEmptyParticipantID = errors.New("participant id is required")
)

// Contribution is one appended segment of a story. It is immutable once
// appended; its identity is its position in the story's sequence.
type Contribution struct {
	AuthorID  string
	Body      string
	CreatedAt time.Time
}

// Story is the durable record of a collaborative writing round: roster,
// contribution log, and completion state.
//
// The participant roster preserves insertion order and never shrinks; turn
// rotation walks it in order. TurnIndex always equals the number of
// contributions, and Complete is monotonic: once true it never reverts.
type Story struct {
	ID              string
	Title           string
	PromptID        string
	CreatorID       string
	Participants    []string
	Contributions   []Contribution
	TurnIndex       int
	TurnLimit       int
	MaxParticipants int
	Complete        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CreateStoryInput describes the metadata needed to create a story.
type CreateStoryInput struct {
	Title           string
	PromptID        string
	CreatorID       string
	TurnLimit       int
	MaxParticipants int
}

// CreateStory creates a new story with a generated ID and the creator as the
// first roster member.
func CreateStory(input CreateStoryInput, now func() time.Time, idGenerator func() (string, error)) (Story, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateStoryInput(input)
	if err != nil {
		return Story{}, err
	}

	storyID, err := idGenerator()
	if err != nil {
		return Story{}, fmt.Errorf("generate story id: %w", err)
	}

	createdAt := now().UTC()
	return Story{
		ID:              storyID,
		Title:           normalized.Title,
		PromptID:        normalized.PromptID,
		CreatorID:       normalized.CreatorID,
		Participants:    []string{normalized.CreatorID},
		TurnIndex:       0,
		TurnLimit:       normalized.TurnLimit,
		MaxParticipants: normalized.MaxParticipants,
		Complete:        false,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}, nil
}

// NormalizeCreateStoryInput trims and validates story input metadata, filling
// in defaults for unset limits.
func NormalizeCreateStoryInput(input CreateStoryInput) (CreateStoryInput, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.PromptID = strings.TrimSpace(input.PromptID)
	input.CreatorID = strings.TrimSpace(input.CreatorID)

	if input.Title == "" {
		return CreateStoryInput{}, ErrEmptyTitle
	}
	if utf8.RuneCountInString(input.Title) > MaxTitleRunes {
		return CreateStoryInput{}, ErrTitleTooLong
	}
	if input.CreatorID == "" {
		return CreateStoryInput{}, ErrEmptyCreatorID
	}
	if input.TurnLimit == 0 {
		input.TurnLimit = DefaultTurnLimit
	}
	if input.TurnLimit < 0 {
		return CreateStoryInput{}, ErrInvalidTurnLimit
	}
	if input.MaxParticipants == 0 {
		input.MaxParticipants = DefaultMaxParticipants
	}
	if input.MaxParticipants < 0 {
		return CreateStoryInput{}, ErrInvalidMaxParticipants
	}
	return input, nil
}

// IsParticipant reports whether the given user is on the story's roster.
func (s Story) IsParticipant(participantID string) bool {
	for _, existing := range s.Participants {
		if existing == participantID {
			return true
		}
	}
	return false
}

// AddParticipant grows the roster before session entry. The roster preserves
// insertion order, rejects duplicates, and is capped at MaxParticipants.
func (s *Story) AddParticipant(participantID string, now time.Time) error {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return ErrEmptyParticipantID
	}
	if s.Complete {
		return ErrStoryComplete
	}
	if s.IsParticipant(participantID) {
		return ErrAlreadyParticipant
	}
	if len(s.Participants) >= s.MaxParticipants {
		return ErrStoryFull
	}
	s.Participants = append(s.Participants, participantID)
	s.UpdatedAt = now.UTC()
	return nil
}

// ValidateContributionBody trims incidental whitespace and enforces the
// non-empty and length bounds. It returns the trimmed body.
func ValidateContributionBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrEmptyContribution
	}
	if utf8.RuneCountInString(body) > MaxContributionRunes {
		return "", ErrContributionTooLong
	}
	return body, nil
}

// AppendContribution appends one validated contribution and advances the turn
// index. It does not decide completion; the turn engine owns that policy and
// callers mark completion through MarkComplete.
func (s *Story) AppendContribution(authorID string, body string, now time.Time) (Contribution, error) {
	if s.Complete {
		return Contribution{}, ErrStoryComplete
	}
	authorID = strings.TrimSpace(authorID)
	if authorID == "" {
		return Contribution{}, ErrEmptyParticipantID
	}
	trimmed, err := ValidateContributionBody(body)
	if err != nil {
		return Contribution{}, err
	}

	contribution := Contribution{
		AuthorID:  authorID,
		Body:      trimmed,
		CreatedAt: now.UTC(),
	}
	s.Contributions = append(s.Contributions, contribution)
	s.TurnIndex = len(s.Contributions)
	s.UpdatedAt = now.UTC()
	return contribution, nil
}

// MarkComplete flips the story to complete. The turn limit must already be
// reached; completion never reverts.
func (s *Story) MarkComplete(now time.Time) error {
	if s.TurnIndex < s.TurnLimit {
		return ErrStoryNotComplete
	}
	s.Complete = true
	s.UpdatedAt = now.UTC()
	return nil
}
