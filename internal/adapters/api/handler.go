package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/eviration/very-good-auctions/internal/domain/auction"
	"github.com/eviration/very-good-auctions/pkg/auth"
)

const requestTokenHeader = "X-Request-Id"

// Engine is the part of the bid engine the HTTP layer drives
type Engine interface {
	PlaceStandardBid(ctx context.Context, cmd auction.PlaceBidCommand) (*auction.StandardBidResult, error)
	PlaceSilentBid(ctx context.Context, cmd auction.PlaceBidCommand) (*auction.SilentBidResult, error)
	ExecuteBuyNow(ctx context.Context, cmd auction.BuyNowCommand) (*auction.BuyNowResult, error)
	GetMyStanding(ctx context.Context, itemID, bidderID uuid.UUID) (*auction.Standing, error)
	GetCurrentPriceInfo(ctx context.Context, itemID uuid.UUID) (*auction.PriceInfo, error)
	GetItemBids(ctx context.Context, itemID uuid.UUID) ([]*auction.Bid, error)
}

// Handler exposes the engine over HTTP/JSON
type Handler struct {
	engine Engine
	signer *auth.Signer
	logger *slog.Logger
}

// NewHandler creates the HTTP handler
func NewHandler(engine Engine, signer *auth.Signer, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, signer: signer, logger: logger}
}

// Router builds the route table. Mutating and private routes sit behind the
// auth middleware; price and history reads are public.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/items/{id}/price", h.getPriceInfo).Methods(http.MethodGet)
	v1.HandleFunc("/items/{id}/bids", h.getItemBids).Methods(http.MethodGet)

	private := r.PathPrefix("/v1").Subrouter()
	private.Use(auth.Middleware(h.signer))
	private.HandleFunc("/items/{id}/bids", h.placeStandardBid).Methods(http.MethodPost)
	private.HandleFunc("/items/{id}/silent-bids", h.placeSilentBid).Methods(http.MethodPost)
	private.HandleFunc("/items/{id}/buy-now", h.executeBuyNow).Methods(http.MethodPost)
	private.HandleFunc("/items/{id}/standing", h.getMyStanding).Methods(http.MethodGet)

	return r
}

type placeBidRequest struct {
	Amount int64 `json:"amount"`
}

type standardBidResponse struct {
	BidID          string `json:"bidId"`
	Amount         int64  `json:"amount"`
	IsWinning      bool   `json:"isWinning"`
	NextMinimumBid int64  `json:"nextMinimumBid"`
}

type silentBidResponse struct {
	BidID  string `json:"bidId"`
	Amount int64  `json:"amount"`
	Rank   int    `json:"rank"`
}

type standingResponse struct {
	HasBid       bool   `json:"hasBid"`
	Amount       *int64 `json:"amount,omitempty"`
	Rank         *int   `json:"rank,omitempty"`
	TotalBidders int    `json:"totalBidders"`
}

type priceInfoResponse struct {
	CurrentBid     *int64 `json:"currentBid"`
	MinimumNextBid int64  `json:"minimumNextBid"`
	BidCount       int    `json:"bidCount"`
	BuyNowPrice    *int64 `json:"buyNowPrice,omitempty"`
}

type buyNowResponse struct {
	WinnerID string `json:"winnerId"`
	Amount   int64  `json:"amount"`
}

type bidResponse struct {
	BidID     string    `json:"bidId"`
	BidderID  string    `json:"bidderId"`
	Amount    int64     `json:"amount"`
	IsWinning bool      `json:"isWinning"`
	CreatedAt time.Time `json:"createdAt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) placeStandardBid(w http.ResponseWriter, r *http.Request) {
	itemID, bidderID, ok := h.bidIdentity(w, r)
	if !ok {
		return
	}

	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	result, err := h.engine.PlaceStandardBid(r.Context(), auction.PlaceBidCommand{
		ItemID:       itemID,
		BidderID:     bidderID,
		Amount:       req.Amount,
		RequestToken: r.Header.Get(requestTokenHeader),
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, standardBidResponse{
		BidID:          result.BidID.String(),
		Amount:         result.Amount,
		IsWinning:      result.IsWinning,
		NextMinimumBid: result.NextMinimumBid,
	})
}

func (h *Handler) placeSilentBid(w http.ResponseWriter, r *http.Request) {
	itemID, bidderID, ok := h.bidIdentity(w, r)
	if !ok {
		return
	}

	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	result, err := h.engine.PlaceSilentBid(r.Context(), auction.PlaceBidCommand{
		ItemID:       itemID,
		BidderID:     bidderID,
		Amount:       req.Amount,
		RequestToken: r.Header.Get(requestTokenHeader),
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, silentBidResponse{
		BidID:  result.BidID.String(),
		Amount: result.Amount,
		Rank:   result.Rank,
	})
}

func (h *Handler) executeBuyNow(w http.ResponseWriter, r *http.Request) {
	itemID, bidderID, ok := h.bidIdentity(w, r)
	if !ok {
		return
	}

	result, err := h.engine.ExecuteBuyNow(r.Context(), auction.BuyNowCommand{
		ItemID:       itemID,
		BidderID:     bidderID,
		RequestToken: r.Header.Get(requestTokenHeader),
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, buyNowResponse{
		WinnerID: result.WinnerID.String(),
		Amount:   result.Amount,
	})
}

func (h *Handler) getMyStanding(w http.ResponseWriter, r *http.Request) {
	itemID, bidderID, ok := h.bidIdentity(w, r)
	if !ok {
		return
	}

	standing, err := h.engine.GetMyStanding(r.Context(), itemID, bidderID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	resp := standingResponse{
		HasBid:       standing.HasBid,
		TotalBidders: standing.TotalBidders,
	}
	if standing.HasBid {
		resp.Amount = &standing.Amount
		resp.Rank = &standing.Rank
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getPriceInfo(w http.ResponseWriter, r *http.Request) {
	itemID, err := parseItemID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	info, err := h.engine.GetCurrentPriceInfo(r.Context(), itemID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, priceInfoResponse{
		CurrentBid:     info.CurrentBid,
		MinimumNextBid: info.MinimumNextBid,
		BidCount:       info.BidCount,
		BuyNowPrice:    info.BuyNowPrice,
	})
}

func (h *Handler) getItemBids(w http.ResponseWriter, r *http.Request) {
	itemID, err := parseItemID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	bids, err := h.engine.GetItemBids(r.Context(), itemID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	resp := make([]bidResponse, len(bids))
	for i, bid := range bids {
		resp[i] = bidResponse{
			BidID:     bid.ID.String(),
			BidderID:  bid.BidderID.String(),
			Amount:    bid.Amount,
			IsWinning: bid.IsWinning,
			CreatedAt: bid.CreatedAt,
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// bidIdentity resolves the item from the path and the bidder from the token
// the auth middleware validated
func (h *Handler) bidIdentity(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	itemID, err := parseItemID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return uuid.Nil, uuid.Nil, false
	}

	bidderID, err := uuid.Parse(auth.MustGetUserID(r.Context()))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, errors.New("invalid user id in token"))
		return uuid.Nil, uuid.Nil, false
	}

	return itemID, bidderID, true
}

func parseItemID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, errors.New("invalid item id")
	}
	return id, nil
}

func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auction.ErrItemNotFound), errors.Is(err, auction.ErrEventNotFound):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, auction.ErrInvalidBidAmount):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, auction.ErrSelfBidForbidden), errors.Is(err, auction.ErrEventOwnerForbidden):
		h.writeError(w, http.StatusForbidden, err)
	case errors.Is(err, auction.ErrEventNotActive),
		errors.Is(err, auction.ErrDeadlinePassed),
		errors.Is(err, auction.ErrItemNotAvailable),
		errors.Is(err, auction.ErrWrongAuctionType),
		errors.Is(err, auction.ErrBuyNowUnavailable),
		errors.Is(err, auction.ErrBidTooLow),
		errors.Is(err, auction.ErrMustExceedOwnBid),
		errors.Is(err, auction.ErrBelowMinimumIncrease),
		errors.Is(err, auction.ErrAlreadySold),
		errors.Is(err, auction.ErrDuplicateRequest):
		h.writeError(w, http.StatusConflict, err)
	case isLockTimeout(err):
		// The item row was held past the lock timeout by a concurrent bidder
		h.writeError(w, http.StatusConflict, errors.New("item is busy, retry the bid"))
	default:
		h.logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

// isLockTimeout reports whether the error is Postgres lock_not_available
// (SQLSTATE 55P03), raised when lock_timeout expires
func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "55P03"
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
