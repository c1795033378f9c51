package auction

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Outbox event types consumed by the notification and audit collaborators
const (
	EventTypeBidAccepted = "bid.accepted"
	EventTypeItemSold    = "item.sold"
)

// BidAcceptedEvent is emitted for every accepted standard or silent bid
type BidAcceptedEvent struct {
	ItemID           uuid.UUID   `json:"item_id"`
	BidderID         uuid.UUID   `json:"bidder_id"`
	Amount           int64       `json:"amount"`
	AuctionType      AuctionType `json:"auction_type"`
	PreviousLeaderID *uuid.UUID  `json:"previous_leader_id,omitempty"`
	AcceptedAt       time.Time   `json:"accepted_at"`
}

// ItemSoldEvent is emitted when an item reaches a final winner, via buy-now
// or event finalization
type ItemSoldEvent struct {
	ItemID   uuid.UUID `json:"item_id"`
	WinnerID uuid.UUID `json:"winner_id"`
	Amount   int64     `json:"amount"`
	SoldAt   time.Time `json:"sold_at"`
}

func marshalEvent(v any) ([]byte, error) {
	return json.Marshal(v)
}
