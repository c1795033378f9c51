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

// PostgresSilentBidRepository implements auction.SilentBidRepository using pgx
type PostgresSilentBidRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresSilentBidRepository creates a new PostgreSQL silent bid repository
func NewPostgresSilentBidRepository(pool *pgxpool.Pool) *PostgresSilentBidRepository {
	return &PostgresSilentBidRepository{pool: pool}
}

// GetByItemAndBidder returns the bidder's row for the item, or nil. A unique
// index on (item_id, bidder_id) guarantees at most one row exists.
func (r *PostgresSilentBidRepository) GetByItemAndBidder(ctx context.Context, tx pgx.Tx, itemID, bidderID uuid.UUID) (*auction.SilentBid, error) {
	query := `
		SELECT id, item_id, bidder_id, amount, initial_amount, increase_count,
		       created_at, last_increased_at
		FROM silent_bids
		WHERE item_id = $1 AND bidder_id = $2
	`
	var sb auction.SilentBid
	err := tx.QueryRow(ctx, query, itemID, bidderID).Scan(
		&sb.ID,
		&sb.ItemID,
		&sb.BidderID,
		&sb.Amount,
		&sb.InitialAmount,
		&sb.IncreaseCount,
		&sb.CreatedAt,
		&sb.LastIncreasedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get silent bid: %w", err)
	}
	return &sb, nil
}

// InsertBid creates a bidder's first bid on an item
func (r *PostgresSilentBidRepository) InsertBid(ctx context.Context, tx pgx.Tx, bid *auction.SilentBid) error {
	query := `
		INSERT INTO silent_bids (id, item_id, bidder_id, amount, initial_amount,
		                         increase_count, created_at, last_increased_at)
		VALUES ($1, $2, $3, $4, $5, 0, NOW(), NOW())
		RETURNING created_at, last_increased_at
	`
	err := tx.QueryRow(ctx, query,
		bid.ID,
		bid.ItemID,
		bid.BidderID,
		bid.Amount,
		bid.InitialAmount,
	).Scan(&bid.CreatedAt, &bid.LastIncreasedAt)
	if err != nil {
		return fmt.Errorf("failed to insert silent bid: %w", err)
	}
	return nil
}

// RaiseBid updates the bidder's ceiling in place. The returned timestamp is
// the database-clock last_increased_at of the updated row.
func (r *PostgresSilentBidRepository) RaiseBid(ctx context.Context, tx pgx.Tx, bidID uuid.UUID, amount int64) (time.Time, error) {
	query := `
		UPDATE silent_bids
		SET amount = $1, increase_count = increase_count + 1, last_increased_at = NOW()
		WHERE id = $2
		RETURNING last_increased_at
	`
	var raisedAt time.Time
	err := tx.QueryRow(ctx, query, amount, bidID).Scan(&raisedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, fmt.Errorf("silent bid not found")
		}
		return time.Time{}, fmt.Errorf("failed to raise silent bid: %w", err)
	}
	return raisedAt, nil
}

// MaxAmount returns the highest ceiling across the item's silent bids
func (r *PostgresSilentBidRepository) MaxAmount(ctx context.Context, tx pgx.Tx, itemID uuid.UUID) (int64, error) {
	query := `SELECT COALESCE(MAX(amount), 0) FROM silent_bids WHERE item_id = $1`
	var maxAmount int64
	if err := tx.QueryRow(ctx, query, itemID).Scan(&maxAmount); err != nil {
		return 0, fmt.Errorf("failed to compute max silent bid: %w", err)
	}
	return maxAmount, nil
}

// Standing computes the bidder's rank and the number of participating bidders
// in one statement, so the rank comes from a single consistent snapshot.
// Higher amounts rank first; equal amounts go to the earlier bid.
func (r *PostgresSilentBidRepository) Standing(ctx context.Context, db pkgdb.DBTX, itemID, bidderID uuid.UUID) (*auction.Standing, error) {
	query := `
		SELECT
			mine.amount,
			1 + (
				SELECT COUNT(*)
				FROM silent_bids other
				WHERE other.item_id = mine.item_id
				  AND other.bidder_id <> mine.bidder_id
				  AND (other.amount > mine.amount
				       OR (other.amount = mine.amount AND other.created_at < mine.created_at))
			) AS rank,
			(SELECT COUNT(*) FROM silent_bids total WHERE total.item_id = mine.item_id) AS total_bidders
		FROM silent_bids mine
		WHERE mine.item_id = $1 AND mine.bidder_id = $2
	`
	var standing auction.Standing
	err := db.QueryRow(ctx, query, itemID, bidderID).Scan(
		&standing.Amount,
		&standing.Rank,
		&standing.TotalBidders,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// No bid yet: report only how many bidders are participating
			countQuery := `SELECT COUNT(*) FROM silent_bids WHERE item_id = $1`
			if countErr := db.QueryRow(ctx, countQuery, itemID).Scan(&standing.TotalBidders); countErr != nil {
				return nil, fmt.Errorf("failed to count silent bidders: %w", countErr)
			}
			return &standing, nil
		}
		return nil, fmt.Errorf("failed to compute standing: %w", err)
	}
	standing.HasBid = true
	return &standing, nil
}

// TopBid returns the highest silent bid, amount ties broken by earliest
// creation, or nil when the item has none
func (r *PostgresSilentBidRepository) TopBid(ctx context.Context, tx pgx.Tx, itemID uuid.UUID) (*auction.SilentBid, error) {
	query := `
		SELECT id, item_id, bidder_id, amount, initial_amount, increase_count,
		       created_at, last_increased_at
		FROM silent_bids
		WHERE item_id = $1
		ORDER BY amount DESC, created_at ASC
		LIMIT 1
	`
	var sb auction.SilentBid
	err := tx.QueryRow(ctx, query, itemID).Scan(
		&sb.ID,
		&sb.ItemID,
		&sb.BidderID,
		&sb.Amount,
		&sb.InitialAmount,
		&sb.IncreaseCount,
		&sb.CreatedAt,
		&sb.LastIncreasedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get top silent bid: %w", err)
	}
	return &sb, nil
}
