package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perkapp/settlement-service/internal/domain"
	"github.com/perkapp/settlement-service/internal/lock"
	"github.com/perkapp/settlement-service/internal/store"
)

type fakeOfferStore struct {
	mu     sync.Mutex
	offers map[string]*domain.Offer
	goods  map[string][]*domain.Good
	orders map[string]*domain.Order
}

func newFakeOfferStore() *fakeOfferStore {
	return &fakeOfferStore{
		offers: make(map[string]*domain.Offer),
		goods:  make(map[string][]*domain.Good),
		orders: make(map[string]*domain.Order),
	}
}

func (f *fakeOfferStore) AddOffer(_ context.Context, offer domain.Offer, setActive bool) (*domain.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	offer.IsActive = setActive
	offer.CreatedAt = time.Now()
	f.offers[offer.ID] = &offer
	return &offer, nil
}

func (f *fakeOfferStore) SetOfferActive(_ context.Context, offerID string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.offers[offerID]; ok {
		o.IsActive = active
		return nil
	}
	return store.ErrOfferInactive
}

func (f *fakeOfferStore) ListActiveOffers(_ context.Context) ([]domain.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Offer
	for _, o := range f.offers {
		if o.IsActive {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOfferStore) AddGood(_ context.Context, offerID, kind, value string) (*domain.Good, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := &domain.Good{ID: uuid.NewString(), OfferID: offerID, Kind: kind, Value: value}
	f.goods[offerID] = append(f.goods[offerID], g)
	return g, nil
}

func (f *fakeOfferStore) CreateOrder(_ context.Context, userID, offerID string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[offerID]
	if !ok || !o.IsActive {
		return nil, store.ErrOfferInactive
	}
	unclaimed := 0
	for _, g := range f.goods[offerID] {
		if g.TxRef == nil {
			unclaimed++
		}
	}
	if unclaimed == 0 {
		return nil, store.ErrNoGoodsLeft
	}
	order := &domain.Order{ID: uuid.NewString(), UserID: userID, OfferID: offerID}
	f.orders[userID] = order
	return order, nil
}

func (f *fakeOfferStore) RedeemOrder(_ context.Context, userID, txRef string) (*domain.Good, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[userID]
	if !ok || order.RedeemedAt != nil {
		return nil, store.ErrNoOpenOrder
	}
	for _, g := range f.goods[order.OfferID] {
		if g.TxRef == nil {
			g.TxRef = &txRef
			now := time.Now()
			order.RedeemedAt = &now
			return g, nil
		}
	}
	return nil, store.ErrNoGoodsLeft
}

func (f *fakeOfferStore) ReleaseUnclaimedGoods(_ context.Context) (int, error) {
	return 0, nil
}

type offerFixture struct {
	handler *OfferHandler
	offers  *fakeOfferStore
	locks   *lock.Service
}

func setupOfferHandler(t *testing.T) *offerFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	offers := newFakeOfferStore()
	locks := lock.NewService(client, 30*time.Second, logger)
	return &offerFixture{
		handler: NewOfferHandler(offers, locks, logger),
		offers:  offers,
		locks:   locks,
	}
}

func (fx *offerFixture) seedOffer(t *testing.T, offerID string, goods int) {
	t.Helper()
	ctx := context.Background()
	_, err := fx.offers.AddOffer(ctx, domain.Offer{ID: offerID, Title: "Gift card", Price: 150}, true)
	require.NoError(t, err)
	for i := 0; i < goods; i++ {
		_, err := fx.offers.AddGood(ctx, offerID, "coupon", "CODE-"+uuid.NewString())
		require.NoError(t, err)
	}
}

func bookReq(t *testing.T, userID, offerID string) *http.Request {
	t.Helper()
	body, err := json.Marshal(map[string]string{"id": offerID})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/offer/book", bytes.NewReader(body))
	req.Header.Set(userIDHeader, userID)
	return req
}

func redeemReq(t *testing.T, userID, txRef string) *http.Request {
	t.Helper()
	body, err := json.Marshal(map[string]string{"tx_hash": txRef})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/offer/redeem", bytes.NewReader(body))
	req.Header.Set(userIDHeader, userID)
	return req
}

func TestBook_OK(t *testing.T) {
	fx := setupOfferHandler(t)
	fx.seedOffer(t, "offer-1", 2)

	rr := httptest.NewRecorder()
	fx.handler.Book(rr, bookReq(t, testUserID, "offer-1"))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.NotEmpty(t, resp["order_id"])
}

func TestBook_InactiveOffer(t *testing.T) {
	fx := setupOfferHandler(t)
	ctx := context.Background()
	_, err := fx.offers.AddOffer(ctx, domain.Offer{ID: "offer-1", Title: "Gift card", Price: 150}, false)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	fx.handler.Book(rr, bookReq(t, testUserID, "offer-1"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "offer not active")
}

func TestBook_OutOfGoods(t *testing.T) {
	fx := setupOfferHandler(t)
	fx.seedOffer(t, "offer-1", 0)

	rr := httptest.NewRecorder()
	fx.handler.Book(rr, bookReq(t, testUserID, "offer-1"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "out of goods")
}

func TestRedeem_DeliversGood(t *testing.T) {
	fx := setupOfferHandler(t)
	fx.seedOffer(t, "offer-1", 1)

	rr := httptest.NewRecorder()
	fx.handler.Book(rr, bookReq(t, testUserID, "offer-1"))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	fx.handler.Redeem(rr, redeemReq(t, testUserID, "txhash-1"))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Goods []domain.Good `json:"goods"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Goods, 1)
	assert.NotEmpty(t, resp.Goods[0].Value)
}

func TestRedeem_SameTransactionTwice(t *testing.T) {
	fx := setupOfferHandler(t)
	fx.seedOffer(t, "offer-1", 1)

	rr := httptest.NewRecorder()
	fx.handler.Book(rr, bookReq(t, testUserID, "offer-1"))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	fx.handler.Redeem(rr, redeemReq(t, testUserID, "txhash-1"))
	require.Equal(t, http.StatusOK, rr.Code)

	// The order is closed now; replaying the same transaction cannot claim
	// a second good.
	rr = httptest.NewRecorder()
	fx.handler.Redeem(rr, redeemReq(t, testUserID, "txhash-1"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRedeem_TransactionLocked_Conflict(t *testing.T) {
	fx := setupOfferHandler(t)
	fx.seedOffer(t, "offer-1", 1)
	ctx := context.Background()

	rr := httptest.NewRecorder()
	fx.handler.Book(rr, bookReq(t, testUserID, "offer-1"))
	require.Equal(t, http.StatusOK, rr.Code)

	l, err := fx.locks.TryAcquire(ctx, "redeem:txhash-1")
	require.NoError(t, err)
	defer l.Release(ctx)

	rr = httptest.NewRecorder()
	fx.handler.Redeem(rr, redeemReq(t, testUserID, "txhash-1"))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRedeem_NoOpenOrder(t *testing.T) {
	fx := setupOfferHandler(t)
	fx.seedOffer(t, "offer-1", 1)

	rr := httptest.NewRecorder()
	fx.handler.Redeem(rr, redeemReq(t, testUserID, "txhash-1"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestList_OnlyActiveOffers(t *testing.T) {
	fx := setupOfferHandler(t)
	ctx := context.Background()
	_, err := fx.offers.AddOffer(ctx, domain.Offer{ID: "offer-1", Title: "Active", Price: 100}, true)
	require.NoError(t, err)
	_, err = fx.offers.AddOffer(ctx, domain.Offer{ID: "offer-2", Title: "Inactive", Price: 100}, false)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/user/offers", nil)
	req.Header.Set(userIDHeader, testUserID)
	rr := httptest.NewRecorder()
	fx.handler.List(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Offers []domain.Offer `json:"offers"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Offers, 1)
	assert.Equal(t, "offer-1", resp.Offers[0].ID)
}
