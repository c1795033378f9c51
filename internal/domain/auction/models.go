package auction

import (
	"time"

	"github.com/google/uuid"
)

// AuctionType selects the bidding protocol for an item
type AuctionType string

const (
	AuctionTypeStandard AuctionType = "standard"
	AuctionTypeSilent   AuctionType = "silent"
)

// IncrementType selects how the minimum next bid is computed
type IncrementType string

const (
	IncrementTypeFixed   IncrementType = "fixed"
	IncrementTypePercent IncrementType = "percent"
)

// ItemStatus is the sale lifecycle of an item
type ItemStatus string

const (
	ItemStatusPending ItemStatus = "pending"
	ItemStatusActive  ItemStatus = "active"
	ItemStatusSold    ItemStatus = "sold"
	ItemStatusRemoved ItemStatus = "removed"
)

// SubmissionStatus is the approval workflow state, owned by the external CRUD
// layer but checked by the lifecycle gate
type SubmissionStatus string

const (
	SubmissionStatusPending  SubmissionStatus = "pending"
	SubmissionStatusApproved SubmissionStatus = "approved"
	SubmissionStatusRejected SubmissionStatus = "rejected"
)

// EventStatus is the lifecycle of an auction session
type EventStatus string

const (
	EventStatusDraft     EventStatus = "draft"
	EventStatusScheduled EventStatus = "scheduled"
	EventStatusActive    EventStatus = "active"
	EventStatusEnded     EventStatus = "ended"
	EventStatusCancelled EventStatus = "cancelled"
)

// Item is the auctioned unit. CurrentPrice and BidCount are a materialized
// view over the bid ledger, written only inside the engine's transactions.
type Item struct {
	ID              uuid.UUID
	EventID         uuid.UUID
	SubmitterID     uuid.UUID
	Title           string
	AuctionType     AuctionType
	StartingPrice   int64 // in cents
	CurrentPrice    int64 // cached; startingPrice until the first bid lands
	BidCount        int
	IncrementType   IncrementType // empty = inherit the event default
	IncrementValue  int64
	BuyNowPrice     *int64
	Status          ItemStatus
	Submission      SubmissionStatus
	WinnerID        *uuid.UUID
	BuyNowPurchased *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Increment resolves the item's increment policy, falling back to the
// event defaults when the item does not override them.
func (i *Item) Increment(e *Event) (IncrementType, int64) {
	if i.IncrementType == "" {
		return e.IncrementType, e.IncrementValue
	}
	return i.IncrementType, i.IncrementValue
}

// LeadingPrice returns the authoritative current price, or nil when no bid
// has been accepted yet (the floor is then the starting price).
func (i *Item) LeadingPrice() *int64 {
	if i.BidCount == 0 {
		return nil
	}
	p := i.CurrentPrice
	return &p
}

// Event is the auction session an item belongs to
type Event struct {
	ID             uuid.UUID
	OwnerID        uuid.UUID
	Status         EventStatus
	EndTime        time.Time
	IncrementType  IncrementType
	IncrementValue int64
	TotalBids      int
	TotalRaised    int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Bid is one row of the standard-auction ledger. Rows are append-only; only
// the IsWinning flag is ever flipped, and exactly one row per item carries it.
type Bid struct {
	ID        uuid.UUID
	ItemID    uuid.UUID
	BidderID  uuid.UUID
	Amount    int64
	IsWinning bool
	CreatedAt time.Time
}

// SilentBid is a bidder's evolving private ceiling on a silent item. One row
// per (item, bidder); raises update the row in place and bump IncreaseCount.
type SilentBid struct {
	ID              uuid.UUID
	ItemID          uuid.UUID
	BidderID        uuid.UUID
	Amount          int64
	InitialAmount   int64
	IncreaseCount   int
	CreatedAt       time.Time
	LastIncreasedAt time.Time
}

// Standing is a bidder's view of their own silent bid on an item
type Standing struct {
	HasBid       bool
	Amount       int64
	Rank         int
	TotalBidders int
}

// PriceInfo is the public price state of an item
type PriceInfo struct {
	CurrentBid     *int64
	MinimumNextBid int64
	BidCount       int
	BuyNowPrice    *int64
}
