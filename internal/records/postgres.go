// Package records talks to the relational record store that owns usage
// history, skin profiles, the product catalog and saved routines.
package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/franckalain/glowscan/internal/models"
)

// Store is a Postgres-backed record API.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string, log *zap.Logger) (*Store, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("%w: records database_url is not set", models.ErrMisconfigured)
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}
	return &Store{db: db, log: log.Named("records")}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordScanUsage calls the record_scan_usage procedure, which appends to
// the user's usage history and returns today's totals.
func (s *Store) RecordScanUsage(ctx context.Context, userID string) (models.UsageSnapshot, error) {
	var u models.UsageSnapshot
	err := s.db.QueryRowContext(ctx,
		`SELECT daily_used, daily_remaining FROM record_scan_usage($1)`, userID,
	).Scan(&u.DailyUsed, &u.DailyRemaining)
	if err != nil {
		return models.UsageSnapshot{}, fmt.Errorf("failed to record scan usage: %w", err)
	}
	return u, nil
}

// GetSkinProfile returns the stored quiz profile or models.ErrNotFound.
func (s *Store) GetSkinProfile(ctx context.Context, userID string) (*models.SkinProfile, error) {
	var (
		p        models.SkinProfile
		skinType sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT skin_type, skin_concerns, skin_goals FROM profiles WHERE id = $1`, userID,
	).Scan(&skinType, pq.Array(&p.SkinConcerns), pq.Array(&p.SkinGoals))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load skin profile: %w", err)
	}
	if !skinType.Valid || skinType.String == "" {
		return nil, models.ErrNotFound
	}
	p.SkinType = skinType.String
	return &p, nil
}

// ListProducts returns the whole catalog.
func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, brand, category, COALESCE(affiliate_url, ''), metadata FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var (
			p    models.Product
			meta []byte
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Brand, &p.Category, &p.AffiliateURL, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		p.Metadata, err = decodeMetadata(meta)
		if err != nil {
			s.log.Warn("ignoring malformed product metadata", zap.String("product_id", p.ID), zap.Error(err))
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}

// ReplaceRoutines deletes the user's routines and stores the given ones in
// a single transaction. Routines without steps are skipped and their id is
// left nil.
func (s *Store) ReplaceRoutines(ctx context.Context, userID string, morning, evening models.Routine) (models.RoutineIDs, error) {
	var ids models.RoutineIDs

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ids, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM routine_steps WHERE routine_id IN (SELECT id FROM routines WHERE user_id = $1)`, userID); err != nil {
		return ids, fmt.Errorf("failed to delete routine steps: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM routines WHERE user_id = $1`, userID); err != nil {
		return ids, fmt.Errorf("failed to delete routines: %w", err)
	}

	if ids.MorningID, err = insertRoutine(ctx, tx, userID, morning); err != nil {
		return models.RoutineIDs{}, err
	}
	if ids.EveningID, err = insertRoutine(ctx, tx, userID, evening); err != nil {
		return models.RoutineIDs{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.RoutineIDs{}, fmt.Errorf("failed to commit routines: %w", err)
	}
	return ids, nil
}

func insertRoutine(ctx context.Context, tx *sql.Tx, userID string, r models.Routine) (*string, error) {
	if len(r.Steps) == 0 {
		return nil, nil
	}

	var id string
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO routines (user_id, routine_type, name, is_active) VALUES ($1, $2, $3, true) RETURNING id`,
		userID, r.Type, r.Name,
	).Scan(&id); err != nil {
		return nil, fmt.Errorf("failed to create %s routine: %w", r.Type, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO routine_steps (routine_id, product_id, step_order, step_type, instructions) VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare routine steps: %w", err)
	}
	defer stmt.Close()

	for _, step := range r.Steps {
		if _, err := stmt.ExecContext(ctx, id, step.ProductID, step.StepOrder, step.StepType, step.Instructions); err != nil {
			return nil, fmt.Errorf("failed to create %s routine step: %w", r.Type, err)
		}
	}
	return &id, nil
}

func decodeMetadata(raw []byte) (*models.ProductMetadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var meta models.ProductMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
