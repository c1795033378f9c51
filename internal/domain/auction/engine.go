package auction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eviration/very-good-auctions/pkg/database"
	"github.com/eviration/very-good-auctions/pkg/events"
)

// PlaceBidCommand carries a bid request against one item. RequestToken is an
// optional client idempotency token; a retried token is rejected instead of
// being treated as a fresh bid.
type PlaceBidCommand struct {
	ItemID       uuid.UUID
	BidderID     uuid.UUID
	Amount       int64
	RequestToken string
}

// BuyNowCommand carries an instant-purchase request
type BuyNowCommand struct {
	ItemID       uuid.UUID
	BidderID     uuid.UUID
	RequestToken string
}

// StandardBidResult is the outcome of an accepted standard bid
type StandardBidResult struct {
	BidID          uuid.UUID
	Amount         int64
	IsWinning      bool
	NextMinimumBid int64
}

// SilentBidResult is the outcome of an accepted silent bid or raise
type SilentBidResult struct {
	BidID  uuid.UUID
	Amount int64
	Rank   int
}

// BuyNowResult is the outcome of a successful buy-now claim
type BuyNowResult struct {
	WinnerID uuid.UUID
	Amount   int64
}

// Engine is the bid acceptance and price-state engine. Every state transition
// runs as a single pgx transaction holding the item row lock, so the lifecycle
// gate, the price floor, the ledger write and the cached price update are one
// atomic unit. Collaborator notifications go through the outbox, never inline.
type Engine struct {
	txManager  database.TransactionManager
	db         database.DBTX
	itemRepo   ItemRepository
	eventRepo  EventRepository
	bidRepo    BidRepository
	silentRepo SilentBidRepository
	outboxRepo OutboxRepository
	idemStore  IdempotencyStore
	logger     *slog.Logger
}

// NewEngine creates the engine. idemStore may be nil, which disables the
// request-token check.
func NewEngine(
	txManager database.TransactionManager,
	db database.DBTX,
	itemRepo ItemRepository,
	eventRepo EventRepository,
	bidRepo BidRepository,
	silentRepo SilentBidRepository,
	outboxRepo OutboxRepository,
	idemStore IdempotencyStore,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		txManager:  txManager,
		db:         db,
		itemRepo:   itemRepo,
		eventRepo:  eventRepo,
		bidRepo:    bidRepo,
		silentRepo: silentRepo,
		outboxRepo: outboxRepo,
		idemStore:  idemStore,
		logger:     logger,
	}
}

// claimToken reserves the request token before any shared state is touched,
// rejecting a retried token as a duplicate.
func (e *Engine) claimToken(ctx context.Context, itemID, bidderID uuid.UUID, token string) error {
	if e.idemStore == nil || token == "" {
		return nil
	}

	ok, err := e.idemStore.Claim(ctx, itemID, bidderID, token)
	if err != nil {
		return fmt.Errorf("failed to claim request token: %w", err)
	}
	if !ok {
		return ErrDuplicateRequest
	}
	return nil
}

// releaseToken frees a claimed token after a rejected bid so a corrected
// retry is not blocked. Best-effort.
func (e *Engine) releaseToken(ctx context.Context, itemID, bidderID uuid.UUID, token string) {
	if e.idemStore == nil || token == "" {
		return
	}
	_ = e.idemStore.Release(ctx, itemID, bidderID, token)
}

// PlaceStandardBid runs the ascending-auction transition: flip the previous
// winning bid off, append the new winning bid, refresh the cached price, all
// against the floor computed from the price read under the item lock.
func (e *Engine) PlaceStandardBid(ctx context.Context, cmd PlaceBidCommand) (*StandardBidResult, error) {
	if cmd.Amount <= 0 {
		return nil, ErrInvalidBidAmount
	}

	if err := e.claimToken(ctx, cmd.ItemID, cmd.BidderID, cmd.RequestToken); err != nil {
		return nil, err
	}
	accepted := false
	defer func() {
		if !accepted {
			e.releaseToken(ctx, cmd.ItemID, cmd.BidderID, cmd.RequestToken)
		}
	}()

	tx, err := e.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Lock the item row; this serializes all writers on the item
	item, err := e.itemRepo.GetItemForUpdate(ctx, tx, cmd.ItemID)
	if err != nil {
		return nil, err
	}

	event, err := e.eventRepo.GetEventByID(ctx, tx, item.EventID)
	if err != nil {
		return nil, err
	}

	if gateErr := checkBiddable(item, event, cmd.BidderID, AuctionTypeStandard, time.Now()); gateErr != nil {
		return nil, gateErr
	}

	// Re-check the floor against the authoritative price. A bid that looked
	// valid when the client fetched the page may have been superseded.
	incType, incValue := item.Increment(event)
	floor := MinimumNextBid(item.LeadingPrice(), item.StartingPrice, incType, incValue)
	if cmd.Amount < floor {
		return nil, ErrBidTooLow
	}

	previousLeader, err := e.bidRepo.ClearWinning(ctx, tx, cmd.ItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to clear winning bid: %w", err)
	}

	bid := &Bid{
		ID:        uuid.New(),
		ItemID:    cmd.ItemID,
		BidderID:  cmd.BidderID,
		Amount:    cmd.Amount,
		IsWinning: true,
	}
	if insertErr := e.bidRepo.InsertBid(ctx, tx, bid); insertErr != nil {
		return nil, fmt.Errorf("failed to save bid: %w", insertErr)
	}

	if updateErr := e.itemRepo.UpdatePriceState(ctx, tx, cmd.ItemID, cmd.Amount, item.BidCount+1); updateErr != nil {
		return nil, fmt.Errorf("failed to update price state: %w", updateErr)
	}

	if countErr := e.eventRepo.IncrementTotalBids(ctx, tx, item.EventID); countErr != nil {
		return nil, fmt.Errorf("failed to update event totals: %w", countErr)
	}

	if outboxErr := e.stageEvent(ctx, tx, EventTypeBidAccepted, BidAcceptedEvent{
		ItemID:           cmd.ItemID,
		BidderID:         cmd.BidderID,
		Amount:           cmd.Amount,
		AuctionType:      AuctionTypeStandard,
		PreviousLeaderID: previousLeader,
		AcceptedAt:       bid.CreatedAt,
	}); outboxErr != nil {
		return nil, outboxErr
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", commitErr)
	}
	accepted = true

	e.logger.Info("standard bid accepted",
		"item_id", cmd.ItemID, "bidder_id", cmd.BidderID, "amount", cmd.Amount)

	return &StandardBidResult{
		BidID:          bid.ID,
		Amount:         bid.Amount,
		IsWinning:      true,
		NextMinimumBid: MinimumNextBid(&bid.Amount, item.StartingPrice, incType, incValue),
	}, nil
}

// PlaceSilentBid runs the blind-auction transition: a bidder's first bid
// inserts their private ceiling, later bids raise it in place. The cached
// current price tracks the maximum ceiling; rank is computed from the same
// transaction snapshot, never stored.
func (e *Engine) PlaceSilentBid(ctx context.Context, cmd PlaceBidCommand) (*SilentBidResult, error) {
	if cmd.Amount <= 0 {
		return nil, ErrInvalidBidAmount
	}

	if err := e.claimToken(ctx, cmd.ItemID, cmd.BidderID, cmd.RequestToken); err != nil {
		return nil, err
	}
	accepted := false
	defer func() {
		if !accepted {
			e.releaseToken(ctx, cmd.ItemID, cmd.BidderID, cmd.RequestToken)
		}
	}()

	tx, err := e.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	item, err := e.itemRepo.GetItemForUpdate(ctx, tx, cmd.ItemID)
	if err != nil {
		return nil, err
	}

	event, err := e.eventRepo.GetEventByID(ctx, tx, item.EventID)
	if err != nil {
		return nil, err
	}

	if gateErr := checkBiddable(item, event, cmd.BidderID, AuctionTypeSilent, time.Now()); gateErr != nil {
		return nil, gateErr
	}

	incType, incValue := item.Increment(event)

	existing, err := e.silentRepo.GetByItemAndBidder(ctx, tx, cmd.ItemID, cmd.BidderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load silent bid: %w", err)
	}

	var (
		bidID      uuid.UUID
		bidCount   = item.BidCount
		acceptedAt time.Time
	)
	if existing == nil {
		floor := MinimumNextBid(item.LeadingPrice(), item.StartingPrice, incType, incValue)
		if cmd.Amount < floor {
			return nil, ErrBidTooLow
		}

		sb := &SilentBid{
			ID:            uuid.New(),
			ItemID:        cmd.ItemID,
			BidderID:      cmd.BidderID,
			Amount:        cmd.Amount,
			InitialAmount: cmd.Amount,
		}
		if insertErr := e.silentRepo.InsertBid(ctx, tx, sb); insertErr != nil {
			return nil, fmt.Errorf("failed to save silent bid: %w", insertErr)
		}
		bidID = sb.ID
		bidCount = item.BidCount + 1
		acceptedAt = sb.CreatedAt

		if countErr := e.eventRepo.IncrementTotalBids(ctx, tx, item.EventID); countErr != nil {
			return nil, fmt.Errorf("failed to update event totals: %w", countErr)
		}
	} else {
		// Raises compete against the bidder's own ceiling, not the leader's
		if cmd.Amount <= existing.Amount {
			return nil, ErrMustExceedOwnBid
		}
		floor := MinimumNextBid(&existing.Amount, item.StartingPrice, incType, incValue)
		if cmd.Amount < floor {
			return nil, ErrBelowMinimumIncrease
		}

		raisedAt, raiseErr := e.silentRepo.RaiseBid(ctx, tx, existing.ID, cmd.Amount)
		if raiseErr != nil {
			return nil, fmt.Errorf("failed to raise silent bid: %w", raiseErr)
		}
		bidID = existing.ID
		acceptedAt = raisedAt
	}

	maxAmount, err := e.silentRepo.MaxAmount(ctx, tx, cmd.ItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute max silent bid: %w", err)
	}

	if updateErr := e.itemRepo.UpdatePriceState(ctx, tx, cmd.ItemID, maxAmount, bidCount); updateErr != nil {
		return nil, fmt.Errorf("failed to update price state: %w", updateErr)
	}

	if outboxErr := e.stageEvent(ctx, tx, EventTypeBidAccepted, BidAcceptedEvent{
		ItemID:      cmd.ItemID,
		BidderID:    cmd.BidderID,
		Amount:      cmd.Amount,
		AuctionType: AuctionTypeSilent,
		AcceptedAt:  acceptedAt,
	}); outboxErr != nil {
		return nil, outboxErr
	}

	// Rank from the same snapshot the write belongs to
	standing, err := e.silentRepo.Standing(ctx, tx, cmd.ItemID, cmd.BidderID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute standing: %w", err)
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", commitErr)
	}
	accepted = true

	e.logger.Info("silent bid accepted",
		"item_id", cmd.ItemID, "bidder_id", cmd.BidderID, "amount", cmd.Amount, "rank", standing.Rank)

	return &SilentBidResult{
		BidID:  bidID,
		Amount: cmd.Amount,
		Rank:   standing.Rank,
	}, nil
}

// ExecuteBuyNow short-circuits an item straight to sold. The sale is a
// compare-and-set on the item status, so of two simultaneous buyers exactly
// one wins and the other sees ErrAlreadySold.
func (e *Engine) ExecuteBuyNow(ctx context.Context, cmd BuyNowCommand) (*BuyNowResult, error) {
	if err := e.claimToken(ctx, cmd.ItemID, cmd.BidderID, cmd.RequestToken); err != nil {
		return nil, err
	}
	accepted := false
	defer func() {
		if !accepted {
			e.releaseToken(ctx, cmd.ItemID, cmd.BidderID, cmd.RequestToken)
		}
	}()

	tx, err := e.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	item, err := e.itemRepo.GetItemForUpdate(ctx, tx, cmd.ItemID)
	if err != nil {
		return nil, err
	}

	if item.Status == ItemStatusSold {
		return nil, ErrAlreadySold
	}

	event, err := e.eventRepo.GetEventByID(ctx, tx, item.EventID)
	if err != nil {
		return nil, err
	}

	// Buy-now is legal for both protocols; skip the auction-type check
	if gateErr := checkBiddable(item, event, cmd.BidderID, "", time.Now()); gateErr != nil {
		return nil, gateErr
	}

	if item.BuyNowPrice == nil {
		return nil, ErrBuyNowUnavailable
	}
	price := *item.BuyNowPrice

	sold, err := e.itemRepo.MarkSold(ctx, tx, cmd.ItemID, cmd.BidderID, price)
	if err != nil {
		return nil, fmt.Errorf("failed to mark item sold: %w", err)
	}
	if !sold {
		return nil, ErrAlreadySold
	}

	if raisedErr := e.eventRepo.AddTotalRaised(ctx, tx, item.EventID, price); raisedErr != nil {
		return nil, fmt.Errorf("failed to update event totals: %w", raisedErr)
	}

	if outboxErr := e.stageEvent(ctx, tx, EventTypeItemSold, ItemSoldEvent{
		ItemID:   cmd.ItemID,
		WinnerID: cmd.BidderID,
		Amount:   price,
		SoldAt:   time.Now(),
	}); outboxErr != nil {
		return nil, outboxErr
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", commitErr)
	}
	accepted = true

	e.logger.Info("buy-now executed",
		"item_id", cmd.ItemID, "winner_id", cmd.BidderID, "amount", price)

	return &BuyNowResult{WinnerID: cmd.BidderID, Amount: price}, nil
}

// GetMyStanding reports a bidder's private position on a silent item
func (e *Engine) GetMyStanding(ctx context.Context, itemID, bidderID uuid.UUID) (*Standing, error) {
	item, err := e.itemRepo.GetItemByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.AuctionType != AuctionTypeSilent {
		return nil, ErrWrongAuctionType
	}

	standing, err := e.silentRepo.Standing(ctx, e.db, itemID, bidderID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute standing: %w", err)
	}
	return standing, nil
}

// GetCurrentPriceInfo reports the public price state of an item. Between
// writes, repeated calls return identical results.
func (e *Engine) GetCurrentPriceInfo(ctx context.Context, itemID uuid.UUID) (*PriceInfo, error) {
	item, err := e.itemRepo.GetItemByID(ctx, itemID)
	if err != nil {
		return nil, err
	}

	event, err := e.eventRepo.GetEventByID(ctx, e.db, item.EventID)
	if err != nil {
		return nil, err
	}

	incType, incValue := item.Increment(event)
	return &PriceInfo{
		CurrentBid:     item.LeadingPrice(),
		MinimumNextBid: MinimumNextBid(item.LeadingPrice(), item.StartingPrice, incType, incValue),
		BidCount:       item.BidCount,
		BuyNowPrice:    item.BuyNowPrice,
	}, nil
}

// GetItemBids returns an item's standard bid history for audit reads
func (e *Engine) GetItemBids(ctx context.Context, itemID uuid.UUID) ([]*Bid, error) {
	return e.bidRepo.ListByItem(ctx, itemID)
}

// FinalizeExpiredEvents closes every active event whose end time has passed
// and persists each item's winner once, so later audit reads of the ledger
// can never change a finalized outcome. Returns the number of events closed.
func (e *Engine) FinalizeExpiredEvents(ctx context.Context) (int, error) {
	eventIDs, err := e.eventRepo.ListExpiredActive(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to list expired events: %w", err)
	}

	closed := 0
	for _, eventID := range eventIDs {
		ok, finErr := e.finalizeEvent(ctx, eventID)
		if finErr != nil {
			e.logger.Error("failed to finalize event", "event_id", eventID, "error", finErr)
			continue
		}
		if ok {
			closed++
		}
	}
	return closed, nil
}

func (e *Engine) finalizeEvent(ctx context.Context, eventID uuid.UUID) (bool, error) {
	tx, err := e.txManager.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Lock the item rows before touching the event row. Bid transactions
	// lock item-then-event, so taking the locks in the same order here means
	// a finalizer and an in-flight bid can never deadlock: any bid holding
	// an item lock commits before this returns.
	items, err := e.itemRepo.ListByEvent(ctx, tx, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to list event items: %w", err)
	}

	// Claim the event; a concurrent worker that claimed it first wins
	claimed, err := e.eventRepo.ClaimEnded(ctx, tx, eventID, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to claim event: %w", err)
	}
	if !claimed {
		return false, nil
	}

	for _, item := range items {
		if item.Status != ItemStatusActive || item.WinnerID != nil {
			continue
		}

		winnerID, finalPrice, found, winErr := e.determineWinner(ctx, tx, item)
		if winErr != nil {
			return false, winErr
		}
		if !found {
			continue // no bids, nothing to finalize
		}

		if setErr := e.itemRepo.SetWinner(ctx, tx, item.ID, winnerID, finalPrice); setErr != nil {
			return false, fmt.Errorf("failed to set winner for item %s: %w", item.ID, setErr)
		}

		if raisedErr := e.eventRepo.AddTotalRaised(ctx, tx, eventID, finalPrice); raisedErr != nil {
			return false, fmt.Errorf("failed to update event totals: %w", raisedErr)
		}

		if outboxErr := e.stageEvent(ctx, tx, EventTypeItemSold, ItemSoldEvent{
			ItemID:   item.ID,
			WinnerID: winnerID,
			Amount:   finalPrice,
			SoldAt:   time.Now(),
		}); outboxErr != nil {
			return false, outboxErr
		}
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", commitErr)
	}

	e.logger.Info("event finalized", "event_id", eventID, "items", len(items))
	return true, nil
}

func (e *Engine) determineWinner(ctx context.Context, tx pgx.Tx, item *Item) (uuid.UUID, int64, bool, error) {
	switch item.AuctionType {
	case AuctionTypeSilent:
		top, err := e.silentRepo.TopBid(ctx, tx, item.ID)
		if err != nil {
			return uuid.Nil, 0, false, fmt.Errorf("failed to load top silent bid: %w", err)
		}
		if top == nil {
			return uuid.Nil, 0, false, nil
		}
		return top.BidderID, top.Amount, true, nil
	default:
		winning, err := e.bidRepo.GetWinningBid(ctx, tx, item.ID)
		if err != nil {
			return uuid.Nil, 0, false, fmt.Errorf("failed to load winning bid: %w", err)
		}
		if winning == nil {
			return uuid.Nil, 0, false, nil
		}
		return winning.BidderID, winning.Amount, true, nil
	}
}

func (e *Engine) stageEvent(ctx context.Context, tx pgx.Tx, eventType string, payload any) error {
	body, err := marshalEvent(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &events.OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   body,
		Status:    events.OutboxStatusPending,
		CreatedAt: time.Now(),
	}
	if saveErr := e.outboxRepo.SaveEvent(ctx, tx, outboxEvent); saveErr != nil {
		return fmt.Errorf("failed to save outbox event: %w", saveErr)
	}
	return nil
}
