package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eviration/very-good-auctions/internal/domain/auction"
	pkgdb "github.com/eviration/very-good-auctions/pkg/database"
)

// PostgresBidRepository implements auction.BidRepository using pgx
type PostgresBidRepository struct {
	pool *pgxpool.Pool // Keep pool for read-only operations
}

// NewPostgresBidRepository creates a new PostgreSQL bid repository
func NewPostgresBidRepository(pool *pgxpool.Pool) *PostgresBidRepository {
	return &PostgresBidRepository{pool: pool}
}

// InsertBid appends a bid to the ledger. created_at comes from the database
// clock so bid order matches commit order, not client wall clocks.
func (r *PostgresBidRepository) InsertBid(ctx context.Context, tx pgx.Tx, bid *auction.Bid) error {
	query := `
		INSERT INTO bids (id, item_id, bidder_id, amount, is_winning, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`
	err := tx.QueryRow(ctx, query,
		bid.ID,
		bid.ItemID,
		bid.BidderID,
		bid.Amount,
		bid.IsWinning,
	).Scan(&bid.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	return nil
}

// ClearWinning flips the currently winning bid off and returns the previous
// leader's bidder ID. At most one row per item ever carries the flag.
func (r *PostgresBidRepository) ClearWinning(ctx context.Context, tx pgx.Tx, itemID uuid.UUID) (*uuid.UUID, error) {
	query := `
		UPDATE bids
		SET is_winning = FALSE
		WHERE item_id = $1 AND is_winning = TRUE
		RETURNING bidder_id
	`
	var previous uuid.UUID
	err := tx.QueryRow(ctx, query, itemID).Scan(&previous)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // first bid on the item
		}
		return nil, fmt.Errorf("failed to clear winning bid: %w", err)
	}
	return &previous, nil
}

// GetWinningBid returns the bid with the winning flag, or nil
func (r *PostgresBidRepository) GetWinningBid(ctx context.Context, db pkgdb.DBTX, itemID uuid.UUID) (*auction.Bid, error) {
	query := `
		SELECT id, item_id, bidder_id, amount, is_winning, created_at
		FROM bids
		WHERE item_id = $1 AND is_winning = TRUE
	`
	var bid auction.Bid
	err := db.QueryRow(ctx, query, itemID).Scan(
		&bid.ID,
		&bid.ItemID,
		&bid.BidderID,
		&bid.Amount,
		&bid.IsWinning,
		&bid.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get winning bid: %w", err)
	}
	return &bid, nil
}

// ListByItem returns the item's bid history, newest first
func (r *PostgresBidRepository) ListByItem(ctx context.Context, itemID uuid.UUID) ([]*auction.Bid, error) {
	query := `
		SELECT id, item_id, bidder_id, amount, is_winning, created_at
		FROM bids
		WHERE item_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	defer rows.Close()

	var result []*auction.Bid
	for rows.Next() {
		var bid auction.Bid
		if err := rows.Scan(
			&bid.ID,
			&bid.ItemID,
			&bid.BidderID,
			&bid.Amount,
			&bid.IsWinning,
			&bid.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		result = append(result, &bid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bids: %w", err)
	}
	return result, nil
}
