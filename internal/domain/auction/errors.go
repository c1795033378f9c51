package auction

import "fmt"

// Validation errors, rejected before touching shared state
var (
	ErrInvalidBidAmount = fmt.Errorf("bid amount must be positive")
	ErrDuplicateRequest = fmt.Errorf("duplicate bid request")
)

// Lifecycle errors, rejected by the gate inside the bid transaction
var (
	ErrEventNotActive      = fmt.Errorf("event is not accepting bids")
	ErrDeadlinePassed      = fmt.Errorf("event bidding deadline has passed")
	ErrItemNotAvailable    = fmt.Errorf("item is not available for bidding")
	ErrWrongAuctionType    = fmt.Errorf("item does not accept this bid type")
	ErrSelfBidForbidden    = fmt.Errorf("submitter cannot bid on their own item")
	ErrEventOwnerForbidden = fmt.Errorf("event owner cannot bid")
	ErrItemNotFound        = fmt.Errorf("item not found")
	ErrEventNotFound       = fmt.Errorf("event not found")
)

// Price errors, rejected by the floor re-check after the item row is locked
var (
	ErrBidTooLow            = fmt.Errorf("bid amount is below the minimum next bid")
	ErrMustExceedOwnBid     = fmt.Errorf("bid must exceed your current bid")
	ErrBelowMinimumIncrease = fmt.Errorf("bid is below the minimum increase")
)

// Concurrency errors
var (
	ErrAlreadySold       = fmt.Errorf("item has already been sold")
	ErrBuyNowUnavailable = fmt.Errorf("item has no buy-now price")
)
