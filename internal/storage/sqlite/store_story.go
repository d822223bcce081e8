package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/storyweave/storyweave/internal/storage"
	storydomain "github.com/storyweave/storyweave/internal/story/domain"
)

// PutStory upserts the story row and appends any new contributions.
// Contributions are immutable, so existing rows are only ever re-written with
// identical values.
func (s *Store) PutStory(ctx context.Context, story storydomain.Story) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(story.ID) == "" {
		return fmt.Errorf("story id is required")
	}

	participants, err := json.Marshal(story.Participants)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin story transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO stories (
		   id, title, prompt_id, creator_id, participants,
		   turn_index, turn_limit, max_participants, complete,
		   created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   prompt_id = excluded.prompt_id,
		   participants = excluded.participants,
		   turn_index = excluded.turn_index,
		   turn_limit = excluded.turn_limit,
		   max_participants = excluded.max_participants,
		   complete = excluded.complete,
		   updated_at = excluded.updated_at`,
		story.ID,
		story.Title,
		story.PromptID,
		story.CreatorID,
		string(participants),
		story.TurnIndex,
		story.TurnLimit,
		story.MaxParticipants,
		boolToInt(story.Complete),
		toMillis(story.CreatedAt),
		toMillis(story.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert story: %w", err)
	}

	for seq, contribution := range story.Contributions {
		_, err = tx.ExecContext(
			ctx,
			`INSERT OR REPLACE INTO contributions (story_id, seq, author_id, body, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			story.ID,
			seq,
			contribution.AuthorID,
			contribution.Body,
			toMillis(contribution.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert contribution %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit story transaction: %w", err)
	}
	return nil
}

// GetStory loads one story with its ordered contribution log.
func (s *Store) GetStory(ctx context.Context, id string) (storydomain.Story, error) {
	if err := ctx.Err(); err != nil {
		return storydomain.Story{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storydomain.Story{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storydomain.Story{}, fmt.Errorf("story id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, title, prompt_id, creator_id, participants,
		        turn_index, turn_limit, max_participants, complete,
		        created_at, updated_at
		 FROM stories WHERE id = ?`,
		id,
	)
	story, err := scanStory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storydomain.Story{}, storage.ErrNotFound
		}
		return storydomain.Story{}, fmt.Errorf("scan story: %w", err)
	}

	contributions, err := s.loadContributions(ctx, id)
	if err != nil {
		return storydomain.Story{}, err
	}
	story.Contributions = contributions
	return story, nil
}

// ListCompletedStories returns completed stories, most recently updated first.
func (s *Store) ListCompletedStories(ctx context.Context) ([]storydomain.Story, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, title, prompt_id, creator_id, participants,
		        turn_index, turn_limit, max_participants, complete,
		        created_at, updated_at
		 FROM stories WHERE complete = 1 ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query completed stories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stories []storydomain.Story
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		contributions, err := s.loadContributions(ctx, story.ID)
		if err != nil {
			return nil, err
		}
		story.Contributions = contributions
		stories = append(stories, story)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}
	return stories, nil
}

func (s *Store) loadContributions(ctx context.Context, storyID string) ([]storydomain.Contribution, error) {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT author_id, body, created_at FROM contributions
		 WHERE story_id = ? ORDER BY seq ASC`,
		storyID,
	)
	if err != nil {
		return nil, fmt.Errorf("query contributions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var contributions []storydomain.Contribution
	for rows.Next() {
		var contribution storydomain.Contribution
		var createdAt int64
		if err := rows.Scan(&contribution.AuthorID, &contribution.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		contribution.CreatedAt = fromMillis(createdAt)
		contributions = append(contributions, contribution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contributions: %w", err)
	}
	return contributions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStory(row rowScanner) (storydomain.Story, error) {
	var story storydomain.Story
	var participants string
	var complete int
	var createdAt, updatedAt int64
	err := row.Scan(
		&story.ID,
		&story.Title,
		&story.PromptID,
		&story.CreatorID,
		&participants,
		&story.TurnIndex,
		&story.TurnLimit,
		&story.MaxParticipants,
		&complete,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return storydomain.Story{}, err
	}
	if err := json.Unmarshal([]byte(participants), &story.Participants); err != nil {
		return storydomain.Story{}, fmt.Errorf("decode participants: %w", err)
	}
	story.Complete = complete != 0
	story.CreatedAt = fromMillis(createdAt)
	story.UpdatedAt = fromMillis(updatedAt)
	return story, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
