package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storyweave/storyweave/internal/id"
)

// PromptCategory classifies writing prompts for lobby filtering.
type PromptCategory string

const (
	PromptCategoryFantasy PromptCategory = "fantasy"
	PromptCategorySciFi   PromptCategory = "sci-fi"
	PromptCategoryMystery PromptCategory = "mystery"
	PromptCategoryRomance PromptCategory = "romance"
	PromptCategoryHorror  PromptCategory = "horror"
	PromptCategoryComedy  PromptCategory = "comedy"
	PromptCategoryRandom  PromptCategory = "random"
)

var (
	// ErrEmptyPromptText indicates a missing prompt text.
	ErrEmptyPromptText = errors.New("prompt text is required")
	// ErrInvalidPromptCategory indicates an unsupported prompt category.
	ErrInvalidPromptCategory = errors.New("invalid prompt category")
)

// Prompt is a catalog entry a story can start from.
type Prompt struct {
	ID         string
	Text       string
	Category   PromptCategory
	UsageCount int
	CreatedAt  time.Time
}

// IsValid reports whether the prompt category is supported.
func (c PromptCategory) IsValid() bool {
	switch c {
	case PromptCategoryFantasy,
		PromptCategorySciFi,
		PromptCategoryMystery,
		PromptCategoryRomance,
		PromptCategoryHorror,
		PromptCategoryComedy,
		PromptCategoryRandom:
		return true
	default:
		return false
	}
}

// CreatePromptInput describes the metadata needed to create a prompt.
type CreatePromptInput struct {
	Text     string
	Category PromptCategory
}

// CreatePrompt creates a catalog prompt with a generated ID. An unset
// category defaults to random.
func CreatePrompt(input CreatePromptInput, now func() time.Time, idGenerator func() (string, error)) (Prompt, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	text := strings.TrimSpace(input.Text)
	if text == "" {
		return Prompt{}, ErrEmptyPromptText
	}
	category := input.Category
	if category == "" {
		category = PromptCategoryRandom
	}
	if !category.IsValid() {
		return Prompt{}, ErrInvalidPromptCategory
	}

	promptID, err := idGenerator()
	if err != nil {
		return Prompt{}, fmt.Errorf("generate prompt id: %w", err)
	}

	return Prompt{
		ID:        promptID,
		Text:      text,
		Category:  category,
		CreatedAt: now().UTC(),
	}, nil
}
