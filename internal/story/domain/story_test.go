package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

func staticID(value string) func() (string, error) {
	return func() (string, error) { return value, nil }
}

func TestCreateStoryInitializesRoster(t *testing.T) {
	story, err := CreateStory(CreateStoryInput{
		Title:     "  The Long Night  ",
		CreatorID: " user-1 ",
		TurnLimit: 4,
	}, fixedClock, staticID("story-1"))
	if err != nil {
		t.Fatalf("create story: %v", err)
	}
	if story.ID != "story-1" {
		t.Fatalf("expected generated id, got %q", story.ID)
	}
	if story.Title != "The Long Night" {
		t.Fatalf("expected trimmed title, got %q", story.Title)
	}
	if len(story.Participants) != 1 || story.Participants[0] != "user-1" {
		t.Fatalf("expected creator as sole participant, got %v", story.Participants)
	}
	if story.TurnIndex != 0 || story.Complete {
		t.Fatalf("expected fresh story, got turn %d complete %v", story.TurnIndex, story.Complete)
	}
	if story.MaxParticipants != DefaultMaxParticipants {
		t.Fatalf("expected default max participants, got %d", story.MaxParticipants)
	}
}

func TestCreateStoryValidation(t *testing.T) {
	cases := []struct {
		name  string
		input CreateStoryInput
		want  error
	}{
		{"missing title", CreateStoryInput{CreatorID: "u"}, ErrEmptyTitle},
		{"missing creator", CreateStoryInput{Title: "t"}, ErrEmptyCreatorID},
		{"negative turn limit", CreateStoryInput{Title: "t", CreatorID: "u", TurnLimit: -1}, ErrInvalidTurnLimit},
		{"negative cap", CreateStoryInput{Title: "t", CreatorID: "u", MaxParticipants: -1}, ErrInvalidMaxParticipants},
		{"title too long", CreateStoryInput{Title: strings.Repeat("x", MaxTitleRunes+1), CreatorID: "u"}, ErrTitleTooLong},
	}
	for _, tc := range cases {
		if _, err := CreateStory(tc.input, fixedClock, staticID("s")); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestAddParticipantPreservesOrderAndRejectsDuplicates(t *testing.T) {
	story := mustCreateStory(t, 10, 3)

	if err := story.AddParticipant("user-2", fixedClock()); err != nil {
		t.Fatalf("add participant: %v", err)
	}
	if err := story.AddParticipant("user-3", fixedClock()); err != nil {
		t.Fatalf("add participant: %v", err)
	}
	if err := story.AddParticipant("user-2", fixedClock()); !errors.Is(err, ErrAlreadyParticipant) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	if err := story.AddParticipant("user-4", fixedClock()); !errors.Is(err, ErrStoryFull) {
		t.Fatalf("expected full story rejection, got %v", err)
	}

	want := []string{"user-1", "user-2", "user-3"}
	if len(story.Participants) != len(want) {
		t.Fatalf("expected %v, got %v", want, story.Participants)
	}
	for i, id := range want {
		if story.Participants[i] != id {
			t.Fatalf("expected %v, got %v", want, story.Participants)
		}
	}
}

func TestAppendContributionAdvancesTurnIndex(t *testing.T) {
	story := mustCreateStory(t, 2, 5)

	contribution, err := story.AppendContribution("user-1", "  Once upon a time  ", fixedClock())
	if err != nil {
		t.Fatalf("append contribution: %v", err)
	}
	if contribution.Body != "Once upon a time" {
		t.Fatalf("expected trimmed body, got %q", contribution.Body)
	}
	if story.TurnIndex != 1 {
		t.Fatalf("expected turn index 1, got %d", story.TurnIndex)
	}
	if len(story.Contributions) != story.TurnIndex {
		t.Fatalf("contribution log and turn index diverged: %d vs %d", len(story.Contributions), story.TurnIndex)
	}
}

func TestAppendContributionValidation(t *testing.T) {
	story := mustCreateStory(t, 2, 5)

	if _, err := story.AppendContribution("user-1", "   ", fixedClock()); !errors.Is(err, ErrEmptyContribution) {
		t.Fatalf("expected empty body rejection, got %v", err)
	}
	long := strings.Repeat("a", MaxContributionRunes+1)
	if _, err := story.AppendContribution("user-1", long, fixedClock()); !errors.Is(err, ErrContributionTooLong) {
		t.Fatalf("expected long body rejection, got %v", err)
	}
	if story.TurnIndex != 0 {
		t.Fatalf("rejected contributions must not advance the turn index, got %d", story.TurnIndex)
	}
}

func TestMarkCompleteRequiresTurnLimit(t *testing.T) {
	story := mustCreateStory(t, 2, 5)

	if err := story.MarkComplete(fixedClock()); !errors.Is(err, ErrStoryNotComplete) {
		t.Fatalf("expected premature completion rejection, got %v", err)
	}

	if _, err := story.AppendContribution("user-1", "one", fixedClock()); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := story.AppendContribution("user-1", "two", fixedClock()); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := story.MarkComplete(fixedClock()); err != nil {
		t.Fatalf("mark complete: %v", err)
	}
	if !story.Complete {
		t.Fatal("expected story to be complete")
	}

	if _, err := story.AppendContribution("user-1", "three", fixedClock()); !errors.Is(err, ErrStoryComplete) {
		t.Fatalf("expected completed story to reject appends, got %v", err)
	}
	if err := story.AddParticipant("user-9", fixedClock()); !errors.Is(err, ErrStoryComplete) {
		t.Fatalf("expected completed story to reject roster growth, got %v", err)
	}
}

func TestCreatePromptDefaultsCategory(t *testing.T) {
	prompt, err := CreatePrompt(CreatePromptInput{Text: " A door that should not open "}, fixedClock, staticID("prompt-1"))
	if err != nil {
		t.Fatalf("create prompt: %v", err)
	}
	if prompt.Category != PromptCategoryRandom {
		t.Fatalf("expected random category default, got %q", prompt.Category)
	}
	if prompt.Text != "A door that should not open" {
		t.Fatalf("expected trimmed text, got %q", prompt.Text)
	}
}

func TestCreatePromptValidation(t *testing.T) {
	if _, err := CreatePrompt(CreatePromptInput{}, fixedClock, staticID("p")); !errors.Is(err, ErrEmptyPromptText) {
		t.Fatalf("expected empty text rejection, got %v", err)
	}
	if _, err := CreatePrompt(CreatePromptInput{Text: "t", Category: "western"}, fixedClock, staticID("p")); !errors.Is(err, ErrInvalidPromptCategory) {
		t.Fatalf("expected category rejection, got %v", err)
	}
}

func mustCreateStory(t *testing.T, turnLimit, maxParticipants int) Story {
	t.Helper()
	story, err := CreateStory(CreateStoryInput{
		Title:           "Test Story",
		CreatorID:       "user-1",
		TurnLimit:       turnLimit,
		MaxParticipants: maxParticipants,
	}, fixedClock, staticID("story-1"))
	if err != nil {
		t.Fatalf("create story: %v", err)
	}
	return story
}
