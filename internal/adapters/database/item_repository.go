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

const itemColumns = `
	id, event_id, submitter_id, title, auction_type, starting_price,
	current_price, bid_count, increment_type, increment_value, buy_now_price,
	status, submission_status, winner_id, buy_now_purchased_at, created_at, updated_at
`

// PostgresItemRepository implements auction.ItemRepository using pgx
type PostgresItemRepository struct {
	pool *pgxpool.Pool // Keep pool for non-transactional reads
}

// NewPostgresItemRepository creates a new PostgreSQL item repository
func NewPostgresItemRepository(pool *pgxpool.Pool) *PostgresItemRepository {
	return &PostgresItemRepository{pool: pool}
}

// GetItemByID retrieves an item by its ID (non-transactional read)
func (r *PostgresItemRepository) GetItemByID(ctx context.Context, itemID uuid.UUID) (*auction.Item, error) {
	return r.getItem(ctx, r.pool, itemID, false)
}

// GetItemForUpdate retrieves an item and locks its row until the surrounding
// transaction ends. All engine transitions on an item serialize on this lock.
func (r *PostgresItemRepository) GetItemForUpdate(ctx context.Context, tx pgx.Tx, itemID uuid.UUID) (*auction.Item, error) {
	return r.getItem(ctx, tx, itemID, true)
}

func (r *PostgresItemRepository) getItem(ctx context.Context, db pkgdb.DBTX, itemID uuid.UUID, forUpdate bool) (*auction.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	item, err := scanItem(db.QueryRow(ctx, query, itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auction.ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// UpdatePriceState refreshes the cached current price and bid count
func (r *PostgresItemRepository) UpdatePriceState(ctx context.Context, tx pgx.Tx, itemID uuid.UUID, currentPrice int64, bidCount int) error {
	query := `
		UPDATE items
		SET current_price = $1, bid_count = $2, updated_at = NOW()
		WHERE id = $3
	`
	result, err := tx.Exec(ctx, query, currentPrice, bidCount, itemID)
	if err != nil {
		return fmt.Errorf("failed to update price state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return auction.ErrItemNotFound
	}
	return nil
}

// MarkSold claims the item for a buy-now purchase. The status predicate makes
// this a compare-and-set: two simultaneous buyers cannot both match it.
func (r *PostgresItemRepository) MarkSold(ctx context.Context, tx pgx.Tx, itemID, winnerID uuid.UUID, price int64) (bool, error) {
	query := `
		UPDATE items
		SET status = 'sold', winner_id = $1, current_price = $2,
		    buy_now_purchased_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND status = 'active'
	`
	result, err := tx.Exec(ctx, query, winnerID, price, itemID)
	if err != nil {
		return false, fmt.Errorf("failed to mark item sold: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// SetWinner persists the finalized outcome of an item
func (r *PostgresItemRepository) SetWinner(ctx context.Context, tx pgx.Tx, itemID uuid.UUID, winnerID uuid.UUID, finalPrice int64) error {
	query := `
		UPDATE items
		SET status = 'sold', winner_id = $1, current_price = $2, updated_at = NOW()
		WHERE id = $3
	`
	result, err := tx.Exec(ctx, query, winnerID, finalPrice, itemID)
	if err != nil {
		return fmt.Errorf("failed to set winner: %w", err)
	}
	if result.RowsAffected() == 0 {
		return auction.ErrItemNotFound
	}
	return nil
}

// ListByEvent returns an event's items, locking their rows so finalization
// waits for in-flight bids to commit
func (r *PostgresItemRepository) ListByEvent(ctx context.Context, tx pgx.Tx, eventID uuid.UUID) ([]*auction.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE event_id = $1 ORDER BY created_at ASC FOR UPDATE`

	rows, err := tx.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []*auction.Item
	for rows.Next() {
		item, scanErr := scanItem(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan item: %w", scanErr)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return items, nil
}

func scanItem(row pgx.Row) (*auction.Item, error) {
	var item auction.Item
	var incrementType *string
	var incrementValue *int64
	err := row.Scan(
		&item.ID,
		&item.EventID,
		&item.SubmitterID,
		&item.Title,
		&item.AuctionType,
		&item.StartingPrice,
		&item.CurrentPrice,
		&item.BidCount,
		&incrementType,
		&incrementValue,
		&item.BuyNowPrice,
		&item.Status,
		&item.Submission,
		&item.WinnerID,
		&item.BuyNowPurchased,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	// NULL increment columns mean the item inherits the event defaults
	if incrementType != nil {
		item.IncrementType = auction.IncrementType(*incrementType)
	}
	if incrementValue != nil {
		item.IncrementValue = *incrementValue
	}
	return &item, nil
}
