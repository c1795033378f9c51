package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eviration/very-good-auctions/internal/domain/auction"
	pkgdb "github.com/eviration/very-good-auctions/pkg/database"
)

// PostgresEventRepository implements auction.EventRepository using pgx
type PostgresEventRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresEventRepository creates a new PostgreSQL event repository
func NewPostgresEventRepository(pool *pgxpool.Pool) *PostgresEventRepository {
	return &PostgresEventRepository{pool: pool}
}

// GetEventByID reads an event within the given connection or transaction
func (r *PostgresEventRepository) GetEventByID(ctx context.Context, db pkgdb.DBTX, eventID uuid.UUID) (*auction.Event, error) {
	query := `
		SELECT id, owner_id, status, end_time, increment_type, increment_value,
		       total_bids, total_raised, created_at, updated_at
		FROM events
		WHERE id = $1
	`
	var event auction.Event
	err := db.QueryRow(ctx, query, eventID).Scan(
		&event.ID,
		&event.OwnerID,
		&event.Status,
		&event.EndTime,
		&event.IncrementType,
		&event.IncrementValue,
		&event.TotalBids,
		&event.TotalRaised,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auction.ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &event, nil
}

// IncrementTotalBids bumps the event bid counter
func (r *PostgresEventRepository) IncrementTotalBids(ctx context.Context, tx pgx.Tx, eventID uuid.UUID) error {
	query := `UPDATE events SET total_bids = total_bids + 1, updated_at = NOW() WHERE id = $1`
	result, err := tx.Exec(ctx, query, eventID)
	if err != nil {
		return fmt.Errorf("failed to increment total bids: %w", err)
	}
	if result.RowsAffected() == 0 {
		return auction.ErrEventNotFound
	}
	return nil
}

// AddTotalRaised adds a sale amount to the event total
func (r *PostgresEventRepository) AddTotalRaised(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, amount int64) error {
	query := `UPDATE events SET total_raised = total_raised + $1, updated_at = NOW() WHERE id = $2`
	result, err := tx.Exec(ctx, query, amount, eventID)
	if err != nil {
		return fmt.Errorf("failed to add total raised: %w", err)
	}
	if result.RowsAffected() == 0 {
		return auction.ErrEventNotFound
	}
	return nil
}

// ClaimEnded flips an event from active to ended iff its end time has passed.
// The status predicate makes the claim a compare-and-set across workers.
func (r *PostgresEventRepository) ClaimEnded(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE events
		SET status = 'ended', updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND end_time <= $2
	`
	result, err := tx.Exec(ctx, query, eventID, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim ended event: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ListExpiredActive returns IDs of active events whose end time has passed
func (r *PostgresEventRepository) ListExpiredActive(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	query := `SELECT id FROM events WHERE status = 'active' AND end_time <= $1`

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired events: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, fmt.Errorf("failed to scan event id: %w", scanErr)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return ids, nil
}
