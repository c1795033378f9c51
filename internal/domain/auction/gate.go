package auction

import (
	"time"

	"github.com/google/uuid"
)

// checkBiddable is the item lifecycle gate. Checks run in a fixed order so
// rejections are deterministic; the first failure wins. It is evaluated on
// item and event rows read inside the same transaction that writes the bid,
// so an item removed or an event ended mid-request is still caught.
//
// want is the auction type implied by the endpoint; pass "" to skip the type
// check (buy-now is legal for both protocols).
func checkBiddable(item *Item, event *Event, bidderID uuid.UUID, want AuctionType, now time.Time) error {
	if event.Status != EventStatusActive {
		return ErrEventNotActive
	}
	if now.After(event.EndTime) {
		return ErrDeadlinePassed
	}
	if item.Submission != SubmissionStatusApproved || item.Status != ItemStatusActive {
		return ErrItemNotAvailable
	}
	if want != "" && item.AuctionType != want {
		return ErrWrongAuctionType
	}
	if item.SubmitterID == bidderID {
		return ErrSelfBidForbidden
	}
	if event.OwnerID == bidderID {
		return ErrEventOwnerForbidden
	}
	return nil
}
