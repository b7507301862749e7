package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	knowledgespec "github.com/bdobrica/Kioku/common/spec/knowledge"
)

// ErrKnowledgeItemNotFound is returned when a knowledge item does not exist.
var ErrKnowledgeItemNotFound = errors.New("knowledge item not found")

// SaveKnowledgeItem inserts or replaces a knowledge item. The item must
// already be validated and carry an ID.
func (s *Store) SaveKnowledgeItem(ctx context.Context, item knowledgespec.Item) error {
	keywords, err := json.Marshal(nonNil(item.Keywords))
	if err != nil {
		return fmt.Errorf("failed to encode keywords: %w", err)
	}
	tags, err := json.Marshal(nonNil(item.Tags))
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	var priority sql.NullInt64
	if item.Priority != nil {
		priority = sql.NullInt64{Int64: int64(*item.Priority), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO knowledge_items (id, character_id, title, content, keywords, tags, category, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.CharacterID, item.Title, item.Content, string(keywords), string(tags), item.Category, priority)
	if err != nil {
		return fmt.Errorf("failed to save knowledge item: %w", err)
	}
	return nil
}

// GetKnowledgeItem retrieves a knowledge item by ID.
func (s *Store) GetKnowledgeItem(ctx context.Context, id string) (knowledgespec.Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, character_id, title, content, keywords, tags, category, priority
		FROM knowledge_items
		WHERE id = ?
	`, id)
	item, err := scanKnowledgeItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return knowledgespec.Item{}, fmt.Errorf("%w: %s", ErrKnowledgeItemNotFound, id)
	}
	if err != nil {
		return knowledgespec.Item{}, fmt.Errorf("failed to get knowledge item: %w", err)
	}
	return item, nil
}

// ListKnowledgeItems returns every stored item in insertion order.
func (s *Store) ListKnowledgeItems(ctx context.Context) ([]knowledgespec.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, character_id, title, content, keywords, tags, category, priority
		FROM knowledge_items
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge items: %w", err)
	}
	defer rows.Close()

	var items []knowledgespec.Item
	for rows.Next() {
		item, err := scanKnowledgeItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan knowledge item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate knowledge items: %w", err)
	}
	return items, nil
}

// DeleteKnowledgeItem removes a knowledge item.
func (s *Store) DeleteKnowledgeItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM knowledge_items WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete knowledge item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrKnowledgeItemNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKnowledgeItem(row rowScanner) (knowledgespec.Item, error) {
	var (
		item           knowledgespec.Item
		keywords, tags string
		priority       sql.NullInt64
	)
	if err := row.Scan(&item.ID, &item.CharacterID, &item.Title, &item.Content,
		&keywords, &tags, &item.Category, &priority); err != nil {
		return knowledgespec.Item{}, err
	}
	if err := json.Unmarshal([]byte(keywords), &item.Keywords); err != nil {
		return knowledgespec.Item{}, fmt.Errorf("decode keywords of %s: %w", item.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &item.Tags); err != nil {
		return knowledgespec.Item{}, fmt.Errorf("decode tags of %s: %w", item.ID, err)
	}
	if priority.Valid {
		p := int(priority.Int64)
		item.Priority = &p
	}
	return item, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
