package auction

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eviration/very-good-auctions/pkg/database"
	"github.com/eviration/very-good-auctions/pkg/events"
)

// ItemRepository defines the interface for item persistence
type ItemRepository interface {
	// GetItemByID retrieves an item (non-transactional read)
	GetItemByID(ctx context.Context, itemID uuid.UUID) (*Item, error)

	// GetItemForUpdate retrieves an item and locks its row. Every engine
	// transition starts here: the lock serializes concurrent bidders on the
	// same item.
	GetItemForUpdate(ctx context.Context, tx pgx.Tx, itemID uuid.UUID) (*Item, error)

	// UpdatePriceState refreshes the cached current price and bid count
	UpdatePriceState(ctx context.Context, tx pgx.Tx, itemID uuid.UUID, currentPrice int64, bidCount int) error

	// MarkSold performs the buy-now compare-and-set: it only succeeds while
	// the item status is still 'active'. Returns false when the claim is lost.
	MarkSold(ctx context.Context, tx pgx.Tx, itemID, winnerID uuid.UUID, price int64) (bool, error)

	// SetWinner persists the finalized outcome of an item
	SetWinner(ctx context.Context, tx pgx.Tx, itemID uuid.UUID, winnerID uuid.UUID, finalPrice int64) error

	// ListByEvent returns all items belonging to an event
	ListByEvent(ctx context.Context, tx pgx.Tx, eventID uuid.UUID) ([]*Item, error)
}

// EventRepository defines the interface for auction-session persistence
type EventRepository interface {
	// GetEventByID reads an event within the given connection or transaction
	GetEventByID(ctx context.Context, db database.DBTX, eventID uuid.UUID) (*Event, error)

	// IncrementTotalBids bumps the event bid counter
	IncrementTotalBids(ctx context.Context, tx pgx.Tx, eventID uuid.UUID) error

	// AddTotalRaised adds a sale amount to the event total
	AddTotalRaised(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, amount int64) error

	// ClaimEnded flips an event from active to ended iff its end time has
	// passed. Returns false when another worker already claimed it.
	ClaimEnded(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, now time.Time) (bool, error)

	// ListExpiredActive returns IDs of active events whose end time has passed
	ListExpiredActive(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// BidRepository defines the interface for the standard-auction ledger
type BidRepository interface {
	// InsertBid appends a bid. CreatedAt is assigned from the database clock
	// at commit time and written back into the bid.
	InsertBid(ctx context.Context, tx pgx.Tx, bid *Bid) error

	// ClearWinning flips the currently winning bid off and returns the
	// previous leader's bidder ID, or nil when the item had no bids.
	ClearWinning(ctx context.Context, tx pgx.Tx, itemID uuid.UUID) (*uuid.UUID, error)

	// GetWinningBid returns the bid with the winning flag, or nil
	GetWinningBid(ctx context.Context, db database.DBTX, itemID uuid.UUID) (*Bid, error)

	// ListByItem returns the item's bid history, newest first
	ListByItem(ctx context.Context, itemID uuid.UUID) ([]*Bid, error)
}

// SilentBidRepository defines the interface for the silent-auction ledger
type SilentBidRepository interface {
	// GetByItemAndBidder returns the bidder's row for the item, or nil
	GetByItemAndBidder(ctx context.Context, tx pgx.Tx, itemID, bidderID uuid.UUID) (*SilentBid, error)

	// InsertBid creates a bidder's first bid on an item. CreatedAt is assigned
	// from the database clock and written back.
	InsertBid(ctx context.Context, tx pgx.Tx, bid *SilentBid) error

	// RaiseBid updates the bidder's ceiling in place and returns the
	// database-clock last_increased_at of the updated row
	RaiseBid(ctx context.Context, tx pgx.Tx, bidID uuid.UUID, amount int64) (time.Time, error)

	// MaxAmount returns the highest ceiling across the item's silent bids
	// (0 when there are none)
	MaxAmount(ctx context.Context, tx pgx.Tx, itemID uuid.UUID) (int64, error)

	// Standing computes the bidder's rank and the number of participating
	// bidders from a single consistent snapshot. Earlier bids win amount ties.
	Standing(ctx context.Context, db database.DBTX, itemID, bidderID uuid.UUID) (*Standing, error)

	// TopBid returns the highest silent bid, amount ties broken by earliest
	// creation, or nil when the item has none
	TopBid(ctx context.Context, tx pgx.Tx, itemID uuid.UUID) (*SilentBid, error)
}

// OutboxRepository defines the interface for staging outbox events inside the
// bid transaction
type OutboxRepository interface {
	SaveEvent(ctx context.Context, tx pgx.Tx, event *events.OutboxEvent) error
}

// IdempotencyStore guards against network retries double-placing a bid.
// Claim returns false when the token was already used for this bidder+item.
type IdempotencyStore interface {
	Claim(ctx context.Context, itemID, bidderID uuid.UUID, token string) (bool, error)
	Release(ctx context.Context, itemID, bidderID uuid.UUID, token string) error
}
