package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/storyweave/storyweave/internal/storage"
	storydomain "github.com/storyweave/storyweave/internal/story/domain"
)

// PutPrompt upserts one catalog prompt.
func (s *Store) PutPrompt(ctx context.Context, prompt storydomain.Prompt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(prompt.ID) == "" {
		return fmt.Errorf("prompt id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO prompts (id, text, category, usage_count, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   text = excluded.text,
		   category = excluded.category,
		   usage_count = excluded.usage_count`,
		prompt.ID,
		prompt.Text,
		string(prompt.Category),
		prompt.UsageCount,
		toMillis(prompt.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert prompt: %w", err)
	}
	return nil
}

// GetPrompt loads one prompt by id.
func (s *Store) GetPrompt(ctx context.Context, id string) (storydomain.Prompt, error) {
	if err := ctx.Err(); err != nil {
		return storydomain.Prompt{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storydomain.Prompt{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storydomain.Prompt{}, fmt.Errorf("prompt id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, text, category, usage_count, created_at FROM prompts WHERE id = ?`,
		id,
	)
	prompt, err := scanPrompt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storydomain.Prompt{}, storage.ErrNotFound
		}
		return storydomain.Prompt{}, fmt.Errorf("scan prompt: %w", err)
	}
	return prompt, nil
}

// ListPrompts returns prompts for a category, or the whole catalog when the
// category is empty or random. Least used prompts sort first so fresh prompts
// surface ahead of worn ones.
func (s *Store) ListPrompts(ctx context.Context, category storydomain.PromptCategory) ([]storydomain.Prompt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	query := `SELECT id, text, category, usage_count, created_at FROM prompts
	          ORDER BY usage_count ASC, created_at ASC`
	args := []any{}
	if category != "" && category != storydomain.PromptCategoryRandom {
		query = `SELECT id, text, category, usage_count, created_at FROM prompts
		         WHERE category = ? ORDER BY usage_count ASC, created_at ASC`
		args = append(args, string(category))
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query prompts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var prompts []storydomain.Prompt
	for rows.Next() {
		prompt, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		prompts = append(prompts, prompt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompts: %w", err)
	}
	return prompts, nil
}

// IncrementPromptUsage bumps the usage counter for one prompt.
func (s *Store) IncrementPromptUsage(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("prompt id is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE prompts SET usage_count = usage_count + 1 WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("increment prompt usage: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("read affected rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanPrompt(row rowScanner) (storydomain.Prompt, error) {
	var prompt storydomain.Prompt
	var category string
	var createdAt int64
	err := row.Scan(&prompt.ID, &prompt.Text, &category, &prompt.UsageCount, &createdAt)
	if err != nil {
		return storydomain.Prompt{}, err
	}
	prompt.Category = storydomain.PromptCategory(category)
	prompt.CreatedAt = fromMillis(createdAt)
	return prompt, nil
}
