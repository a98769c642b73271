// Package repository provides database access for domain entities.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"gitlab.com/yelinaung/receipt-tracker/internal/database"
	"gitlab.com/yelinaung/receipt-tracker/internal/models"
)

var (
	// ErrSystemCategory is returned when deleting a non-deletable default category.
	ErrSystemCategory = errors.New("system categories cannot be deleted")
	// ErrDuplicateCategory is returned when the user already has a category of that name.
	ErrDuplicateCategory = errors.New("category already exists")
)

const uniqueViolation = "23505"

// DefaultCategory describes a category seeded for every user.
type DefaultCategory struct {
	Name  string
	Emoji string
}

// CategoryRepository handles category database operations.
type CategoryRepository struct {
	db database.PGXDB
}

// NewCategoryRepository creates a new CategoryRepository.
func NewCategoryRepository(db database.PGXDB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// SeedDefaults inserts the system categories for a user. Existing names are kept.
func (r *CategoryRepository) SeedDefaults(ctx context.Context, userID uuid.UUID, defaults []DefaultCategory) error {
	for _, cat := range defaults {
		_, err := r.db.Exec(ctx, `
			INSERT INTO categories (user_id, name, emoji, is_system) VALUES ($1, $2, $3, TRUE)
			ON CONFLICT (user_id, name) DO NOTHING
		`, userID, cat.Name, cat.Emoji)
		if err != nil {
			return fmt.Errorf("failed to seed category %q: %w", cat.Name, err)
		}
	}
	return nil
}

// ListByUser retrieves all categories of a user.
func (r *CategoryRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Category, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, name, emoji, is_system, created_at
		FROM categories WHERE user_id = $1 ORDER BY is_system DESC, name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		var cat models.Category
		if err := rows.Scan(&cat.ID, &cat.UserID, &cat.Name, &cat.Emoji, &cat.IsSystem, &cat.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, cat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}
	return categories, nil
}

// Create adds a new user category.
func (r *CategoryRepository) Create(ctx context.Context, userID uuid.UUID, name, emoji string) (*models.Category, error) {
	var cat models.Category
	err := r.db.QueryRow(ctx, `
		INSERT INTO categories (user_id, name, emoji) VALUES ($1, $2, $3)
		RETURNING id, user_id, name, emoji, is_system, created_at
	`, userID, name, emoji).Scan(&cat.ID, &cat.UserID, &cat.Name, &cat.Emoji, &cat.IsSystem, &cat.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicateCategory
		}
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	return &cat, nil
}

// Delete removes a user category and moves its receipts to the
// uncategorized label. Returns the number of receipts reassigned.
func (r *CategoryRepository) Delete(ctx context.Context, userID, id uuid.UUID) (int, error) {
	var isSystem bool
	err := r.db.QueryRow(ctx, `
		SELECT is_system FROM categories WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&isSystem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to get category: %w", err)
	}
	if isSystem {
		return 0, ErrSystemCategory
	}

	var moved int
	err = r.db.QueryRow(ctx, `
		WITH deleted AS (
			DELETE FROM categories WHERE id = $1 AND user_id = $2 AND NOT is_system
			RETURNING name
		), moved AS (
			UPDATE receipts SET category = $3
			WHERE user_id = $2 AND category IN (SELECT name FROM deleted)
			RETURNING 1
		)
		SELECT COUNT(*) FROM moved
	`, id, userID, models.UncategorizedCategory).Scan(&moved)
	if err != nil {
		return 0, fmt.Errorf("failed to delete category: %w", err)
	}
	return moved, nil
}
