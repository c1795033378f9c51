package api_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eviration/very-good-auctions/internal/adapters/api"
	"github.com/eviration/very-good-auctions/internal/domain/auction"
	"github.com/eviration/very-good-auctions/pkg/auth"
)

// MockEngine is a mock implementation of the Engine interface for testing
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) PlaceStandardBid(ctx context.Context, cmd auction.PlaceBidCommand) (*auction.StandardBidResult, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auction.StandardBidResult), args.Error(1)
}

func (m *MockEngine) PlaceSilentBid(ctx context.Context, cmd auction.PlaceBidCommand) (*auction.SilentBidResult, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auction.SilentBidResult), args.Error(1)
}

func (m *MockEngine) ExecuteBuyNow(ctx context.Context, cmd auction.BuyNowCommand) (*auction.BuyNowResult, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auction.BuyNowResult), args.Error(1)
}

func (m *MockEngine) GetMyStanding(ctx context.Context, itemID, bidderID uuid.UUID) (*auction.Standing, error) {
	args := m.Called(ctx, itemID, bidderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auction.Standing), args.Error(1)
}

func (m *MockEngine) GetCurrentPriceInfo(ctx context.Context, itemID uuid.UUID) (*auction.PriceInfo, error) {
	args := m.Called(ctx, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auction.PriceInfo), args.Error(1)
}

func (m *MockEngine) GetItemBids(ctx context.Context, itemID uuid.UUID) ([]*auction.Bid, error) {
	args := m.Called(ctx, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*auction.Bid), args.Error(1)
}

// newTestSigner generates an in-memory RSA keypair so tests can mint tokens
func newTestSigner(t *testing.T) *auth.Signer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubBytes,
	})

	signer, err := auth.NewSigner(privPEM, pubPEM, "test-issuer")
	require.NoError(t, err)
	return signer
}

func setupHandlerTest(t *testing.T) (*MockEngine, *auth.Signer, *httptest.Server) {
	t.Helper()

	engine := new(MockEngine)
	signer := newTestSigner(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	handler := api.NewHandler(engine, signer, logger)
	server := httptest.NewServer(handler.Router())
	t.Cleanup(server.Close)

	return engine, signer, server
}

func bearerToken(t *testing.T, signer *auth.Signer, userID uuid.UUID) string {
	t.Helper()
	token, err := signer.GenerateToken(userID, nil, time.Minute)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHandler_PlaceStandardBid(t *testing.T) {
	itemID := uuid.New()
	bidderID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		engine, signer, server := setupHandlerTest(t)

		bidID := uuid.New()
		engine.On("PlaceStandardBid", mock.Anything, auction.PlaceBidCommand{
			ItemID:   itemID,
			BidderID: bidderID,
			Amount:   1500,
		}).Return(&auction.StandardBidResult{
			BidID:          bidID,
			Amount:         1500,
			IsWinning:      true,
			NextMinimumBid: 2000,
		}, nil)

		body := bytes.NewBufferString(`{"amount": 1500}`)
		req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/items/"+itemID.String()+"/bids", body)
		req.Header.Set("Authorization", bearerToken(t, signer, bidderID))

		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()

		assert.Equal(t, http.StatusCreated, res.StatusCode)

		var got struct {
			BidID          string `json:"bidId"`
			Amount         int64  `json:"amount"`
			IsWinning      bool   `json:"isWinning"`
			NextMinimumBid int64  `json:"nextMinimumBid"`
		}
		require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
		assert.Equal(t, bidID.String(), got.BidID)
		assert.Equal(t, int64(1500), got.Amount)
		assert.True(t, got.IsWinning)
		assert.Equal(t, int64(2000), got.NextMinimumBid)

		engine.AssertExpectations(t)
	})

	t.Run("MissingToken", func(t *testing.T) {
		_, _, server := setupHandlerTest(t)

		body := bytes.NewBufferString(`{"amount": 1500}`)
		res, err := http.Post(server.URL+"/v1/items/"+itemID.String()+"/bids", "application/json", body)
		require.NoError(t, err)
		defer res.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	})

	t.Run("RequestTokenForwarded", func(t *testing.T) {
		engine, signer, server := setupHandlerTest(t)

		engine.On("PlaceStandardBid", mock.Anything, auction.PlaceBidCommand{
			ItemID:       itemID,
			BidderID:     bidderID,
			Amount:       1500,
			RequestToken: "req-abc-123",
		}).Return(&auction.StandardBidResult{BidID: uuid.New(), Amount: 1500, IsWinning: true}, nil)

		body := bytes.NewBufferString(`{"amount": 1500}`)
		req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/items/"+itemID.String()+"/bids", body)
		req.Header.Set("Authorization", bearerToken(t, signer, bidderID))
		req.Header.Set("X-Request-Id", "req-abc-123")

		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()

		assert.Equal(t, http.StatusCreated, res.StatusCode)
		engine.AssertExpectations(t)
	})

	t.Run("ErrorMapping", func(t *testing.T) {
		tests := []struct {
			name       string
			err        error
			wantStatus int
		}{
			{"bid too low", auction.ErrBidTooLow, http.StatusConflict},
			{"duplicate request", auction.ErrDuplicateRequest, http.StatusConflict},
			{"deadline passed", auction.ErrDeadlinePassed, http.StatusConflict},
			{"self bid", auction.ErrSelfBidForbidden, http.StatusForbidden},
			{"owner bid", auction.ErrEventOwnerForbidden, http.StatusForbidden},
			{"invalid amount", auction.ErrInvalidBidAmount, http.StatusBadRequest},
			{"item not found", auction.ErrItemNotFound, http.StatusNotFound},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				engine, signer, server := setupHandlerTest(t)
				engine.On("PlaceStandardBid", mock.Anything, mock.Anything).Return(nil, tt.err)

				body := bytes.NewBufferString(`{"amount": 1500}`)
				req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/items/"+itemID.String()+"/bids", body)
				req.Header.Set("Authorization", bearerToken(t, signer, bidderID))

				res, err := http.DefaultClient.Do(req)
				require.NoError(t, err)
				defer res.Body.Close()

				assert.Equal(t, tt.wantStatus, res.StatusCode)
			})
		}
	})

	t.Run("InvalidItemID", func(t *testing.T) {
		_, signer, server := setupHandlerTest(t)

		body := bytes.NewBufferString(`{"amount": 1500}`)
		req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/items/not-a-uuid/bids", body)
		req.Header.Set("Authorization", bearerToken(t, signer, bidderID))

		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()

		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})
}

func TestHandler_GetPriceInfo(t *testing.T) {
	itemID := uuid.New()

	t.Run("PublicNoTokenRequired", func(t *testing.T) {
		engine, _, server := setupHandlerTest(t)

		current := int64(1200)
		engine.On("GetCurrentPriceInfo", mock.Anything, itemID).Return(&auction.PriceInfo{
			CurrentBid:     &current,
			MinimumNextBid: 1700,
			BidCount:       3,
		}, nil)

		res, err := http.Get(server.URL + "/v1/items/" + itemID.String() + "/price")
		require.NoError(t, err)
		defer res.Body.Close()

		assert.Equal(t, http.StatusOK, res.StatusCode)

		var got struct {
			CurrentBid     *int64 `json:"currentBid"`
			MinimumNextBid int64  `json:"minimumNextBid"`
			BidCount       int    `json:"bidCount"`
		}
		require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
		require.NotNil(t, got.CurrentBid)
		assert.Equal(t, int64(1200), *got.CurrentBid)
		assert.Equal(t, int64(1700), got.MinimumNextBid)
		assert.Equal(t, 3, got.BidCount)
	})

	t.Run("NoBidsYetCurrentBidNull", func(t *testing.T) {
		engine, _, server := setupHandlerTest(t)

		engine.On("GetCurrentPriceInfo", mock.Anything, itemID).Return(&auction.PriceInfo{
			CurrentBid:     nil,
			MinimumNextBid: 1000,
			BidCount:       0,
		}, nil)

		res, err := http.Get(server.URL + "/v1/items/" + itemID.String() + "/price")
		require.NoError(t, err)
		defer res.Body.Close()

		var got map[string]any
		require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
		assert.Nil(t, got["currentBid"])
	})

	t.Run("NotFound", func(t *testing.T) {
		engine, _, server := setupHandlerTest(t)
		engine.On("GetCurrentPriceInfo", mock.Anything, itemID).Return(nil, auction.ErrItemNotFound)

		res, err := http.Get(server.URL + "/v1/items/" + itemID.String() + "/price")
		require.NoError(t, err)
		defer res.Body.Close()

		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	})
}

func TestHandler_GetMyStanding(t *testing.T) {
	itemID := uuid.New()
	bidderID := uuid.New()

	t.Run("WithBid", func(t *testing.T) {
		engine, signer, server := setupHandlerTest(t)

		engine.On("GetMyStanding", mock.Anything, itemID, bidderID).Return(&auction.Standing{
			HasBid:       true,
			Amount:       3000,
			Rank:         2,
			TotalBidders: 5,
		}, nil)

		req, _ := http.NewRequest(http.MethodGet, server.URL+"/v1/items/"+itemID.String()+"/standing", nil)
		req.Header.Set("Authorization", bearerToken(t, signer, bidderID))

		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()

		assert.Equal(t, http.StatusOK, res.StatusCode)

		var got struct {
			HasBid       bool   `json:"hasBid"`
			Amount       *int64 `json:"amount"`
			Rank         *int   `json:"rank"`
			TotalBidders int    `json:"totalBidders"`
		}
		require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
		assert.True(t, got.HasBid)
		require.NotNil(t, got.Amount)
		assert.Equal(t, int64(3000), *got.Amount)
		require.NotNil(t, got.Rank)
		assert.Equal(t, 2, *got.Rank)
		assert.Equal(t, 5, got.TotalBidders)
	})

	t.Run("WrongAuctionType", func(t *testing.T) {
		engine, signer, server := setupHandlerTest(t)
		engine.On("GetMyStanding", mock.Anything, itemID, bidderID).Return(nil, auction.ErrWrongAuctionType)

		req, _ := http.NewRequest(http.MethodGet, server.URL+"/v1/items/"+itemID.String()+"/standing", nil)
		req.Header.Set("Authorization", bearerToken(t, signer, bidderID))

		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()

		assert.Equal(t, http.StatusConflict, res.StatusCode)
	})
}

func TestHandler_ExecuteBuyNow(t *testing.T) {
	itemID := uuid.New()
	bidderID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		engine, signer, server := setupHandlerTest(t)

		engine.On("ExecuteBuyNow", mock.Anything, auction.BuyNowCommand{
			ItemID:   itemID,
			BidderID: bidderID,
		}).Return(&auction.BuyNowResult{WinnerID: bidderID, Amount: 9900}, nil)

		req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/items/"+itemID.String()+"/buy-now", nil)
		req.Header.Set("Authorization", bearerToken(t, signer, bidderID))

		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()

		assert.Equal(t, http.StatusOK, res.StatusCode)
	})

	t.Run("AlreadySold", func(t *testing.T) {
		engine, signer, server := setupHandlerTest(t)
		engine.On("ExecuteBuyNow", mock.Anything, mock.Anything).Return(nil, auction.ErrAlreadySold)

		req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/items/"+itemID.String()+"/buy-now", nil)
		req.Header.Set("Authorization", bearerToken(t, signer, bidderID))

		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()

		assert.Equal(t, http.StatusConflict, res.StatusCode)
	})
}
