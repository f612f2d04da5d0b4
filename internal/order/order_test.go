package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/storefront/internal/api"
	"github.com/mmeshcher/storefront/internal/cart"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/notify"
	"github.com/mmeshcher/storefront/internal/validation"
)

type stubSession struct {
	mu      sync.Mutex
	creds   model.Credentials
	user    *model.User
	expired []string
}

func (s *stubSession) Credentials() (model.Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds, s.creds.Token != ""
}

func (s *stubSession) User() (*model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user, s.user != nil
}

func (s *stubSession) Expire(ctx context.Context, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired = append(s.expired, token)
}

type stubCart struct {
	lines  []cart.Line
	resets int
}

func (c *stubCart) Lines() []cart.Line { return c.lines }

func (c *stubCart) Reset(ctx context.Context) error {
	c.resets++
	c.lines = nil
	return nil
}

type stubRemote struct {
	calls    []string
	lastReq  api.OrderRequest
	placeErr error

	redirectURL string
	widget      *model.WidgetOrder
	verify      *api.Verification
	verifyErr   error
	orders      []model.Order
}

func (r *stubRemote) PlaceOrder(ctx context.Context, token string, in api.OrderRequest) (string, error) {
	r.calls = append(r.calls, "cod")
	r.lastReq = in
	return "Order Placed", r.placeErr
}

func (r *stubRemote) PlaceOrderRedirect(ctx context.Context, token string, in api.OrderRequest) (string, error) {
	r.calls = append(r.calls, "redirect")
	r.lastReq = in
	return r.redirectURL, r.placeErr
}

func (r *stubRemote) PlaceOrderWidget(ctx context.Context, token string, in api.OrderRequest) (*model.WidgetOrder, error) {
	r.calls = append(r.calls, "widget")
	r.lastReq = in
	return r.widget, r.placeErr
}

func (r *stubRemote) VerifyRedirect(ctx context.Context, creds model.Credentials, success, orderID string) (*api.Verification, error) {
	r.calls = append(r.calls, "verify-redirect")
	return r.verify, r.verifyErr
}

func (r *stubRemote) VerifyWidget(ctx context.Context, creds model.Credentials, payment model.WidgetPayment) (*api.Verification, error) {
	r.calls = append(r.calls, "verify-widget")
	return r.verify, r.verifyErr
}

func (r *stubRemote) UserOrders(ctx context.Context, creds model.Credentials) ([]model.Order, error) {
	r.calls = append(r.calls, "orders")
	return r.orders, r.verifyErr
}

func validAddress() model.Address {
	return model.Address{
		FirstName: "Ann",
		LastName:  "Lee",
		Email:     "ann@example.com",
		Street:    "1 Main St",
		City:      "Springfield",
		Zipcode:   "12345",
		Country:   "US",
		Phone:     "+15551234567",
	}
}

func p1Line(qty int) cart.Line {
	p := model.Product{ID: "p1", Name: "Shirt", Price: decimal.NewFromInt(100), Images: []string{"a.png"}}
	return cart.Line{ProductID: "p1", Size: "M", Quantity: qty, Product: &p}
}

type fixture struct {
	coord   *Coordinator
	session *stubSession
	cart    *stubCart
	remote  *stubRemote
	feed    *notify.Feed
}

func newFixture(lines ...cart.Line) *fixture {
	f := &fixture{
		session: &stubSession{creds: model.Credentials{Token: "tok", UserID: "u1"}, user: &model.User{ID: "u1"}},
		cart:    &stubCart{lines: lines},
		remote:  &stubRemote{},
		feed:    notify.NewFeed(10, nil),
	}
	f.coord = NewCoordinator(f.remote, f.cart, f.session, f.feed, decimal.NewFromInt(10), nil)
	return f
}

func TestBuild_Totals(t *testing.T) {
	missing := cart.Line{ProductID: "p2", Size: "L", Quantity: 1}
	f := newFixture(p1Line(2), missing)

	draft, err := f.coord.Build(validAddress())
	require.NoError(t, err)

	assert.True(t, draft.Totals.Subtotal.Equal(decimal.NewFromInt(200)))
	assert.True(t, draft.Totals.Total.Equal(decimal.NewFromInt(210)))
	assert.Equal(t, "210", draft.Request.Amount.String())
	require.Len(t, draft.Request.Items, 1, "unresolvable products are not ordered")
	assert.Equal(t, "M", draft.Request.Items[0].Size)
	assert.Equal(t, "u1", draft.Request.UserID)
}

func TestPlace_FailsFastWithoutNetwork(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(f *fixture)
		address model.Address
		wantErr error
	}{
		{
			name:    "no user",
			prepare: func(f *fixture) { f.session.creds = model.Credentials{}; f.session.user = nil },
			address: validAddress(),
			wantErr: ErrNotAuthenticated,
		},
		{
			name:    "empty cart",
			prepare: func(f *fixture) { f.cart.lines = nil },
			address: validAddress(),
			wantErr: ErrEmptyCart,
		},
		{
			name:    "only unresolvable items",
			prepare: func(f *fixture) { f.cart.lines = []cart.Line{{ProductID: "gone", Size: "M", Quantity: 1}} },
			address: validAddress(),
			wantErr: ErrEmptyCart,
		},
		{
			name:    "non-positive quantity",
			prepare: func(f *fixture) { f.cart.lines = []cart.Line{p1Line(0)} },
			address: validAddress(),
			wantErr: ErrInvalidQuantity,
		},
		{
			name:    "invalid address",
			prepare: func(f *fixture) {},
			address: model.Address{FirstName: "Ann"},
			wantErr: validation.ErrInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(p1Line(1))
			tt.prepare(f)

			attempt, err := f.coord.Place(context.Background(), model.PaymentCOD, tt.address)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, StateFailed, attempt.State)
			assert.Empty(t, f.remote.calls)
		})
	}
}

func TestPlace_UnknownMethod(t *testing.T) {
	f := newFixture(p1Line(1))

	_, err := f.coord.Place(context.Background(), model.PaymentMethod("cheque"), validAddress())
	require.ErrorIs(t, err, ErrUnknownMethod)
	assert.Empty(t, f.remote.calls)
}

func TestPlace_COD(t *testing.T) {
	f := newFixture(p1Line(2))

	attempt, err := f.coord.Place(context.Background(), model.PaymentCOD, validAddress())
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, attempt.State)
	assert.Equal(t, NavigateOrders, attempt.Navigate)
	assert.Equal(t, 1, f.cart.resets)
	assert.Equal(t, []string{"cod"}, f.remote.calls)
	assert.Empty(t, f.remote.lastReq.Email)
}

func TestPlace_CODFailureMessage(t *testing.T) {
	t.Run("server message verbatim", func(t *testing.T) {
		f := newFixture(p1Line(1))
		f.remote.placeErr = &api.RemoteError{StatusCode: 200, Message: "Out of stock"}

		attempt, err := f.coord.Place(context.Background(), model.PaymentCOD, validAddress())
		require.Error(t, err)
		assert.Equal(t, StateFailed, attempt.State)
		assert.Equal(t, "Out of stock", attempt.Message)
		assert.Zero(t, f.cart.resets)
	})

	t.Run("generic message", func(t *testing.T) {
		f := newFixture(p1Line(1))
		f.remote.placeErr = errors.New("connection reset")

		attempt, err := f.coord.Place(context.Background(), model.PaymentCOD, validAddress())
		require.Error(t, err)
		assert.Equal(t, GenericFailure, attempt.Message)
	})

	t.Run("unauthorized expires session", func(t *testing.T) {
		f := newFixture(p1Line(1))
		f.remote.placeErr = &api.RemoteError{StatusCode: 401, Err: api.ErrUnauthorized}

		_, err := f.coord.Place(context.Background(), model.PaymentCOD, validAddress())
		require.ErrorIs(t, err, api.ErrUnauthorized)
		assert.Equal(t, []string{"tok"}, f.session.expired)
	})
}

func TestRedirectFlow(t *testing.T) {
	f := newFixture(p1Line(2))
	f.remote.redirectURL = "https://pay.example.com/s/1"
	ctx := context.Background()

	attempt, err := f.coord.Place(ctx, model.PaymentRedirect, validAddress())
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingExternalConfirmation, attempt.State)
	assert.Equal(t, "https://pay.example.com/s/1", attempt.RedirectURL)
	assert.Equal(t, "ann@example.com", f.remote.lastReq.Email)
	assert.Zero(t, f.cart.resets, "cart must survive until payment is verified")

	f.remote.verify = &api.Verification{Success: true}
	attempt, err = f.coord.ConfirmRedirect(ctx, "true", "o1")
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, attempt.State)
	assert.Equal(t, NavigateOrders, attempt.Navigate)
	assert.Equal(t, 1, f.cart.resets)
}

func TestConfirmRedirect_NotConfirmed(t *testing.T) {
	t.Run("mismatch", func(t *testing.T) {
		f := newFixture(p1Line(1))
		f.remote.verify = &api.Verification{Success: false, Message: "Payment failed"}

		attempt, err := f.coord.ConfirmRedirect(context.Background(), "true", "o1")
		require.ErrorIs(t, err, ErrConfirmationMismatch)
		assert.Equal(t, NavigateCart, attempt.Navigate)
		assert.Equal(t, StateFailed, attempt.State)
		assert.Zero(t, f.cart.resets)
	})

	t.Run("cancelled", func(t *testing.T) {
		f := newFixture(p1Line(1))
		f.remote.verify = &api.Verification{Success: false}

		attempt, err := f.coord.ConfirmRedirect(context.Background(), "false", "o1")
		require.ErrorIs(t, err, ErrPaymentNotConfirmed)
		assert.Equal(t, NavigateCart, attempt.Navigate)
		assert.Zero(t, f.cart.resets)
	})

	t.Run("guest", func(t *testing.T) {
		f := newFixture(p1Line(1))
		f.session.creds = model.Credentials{}

		_, err := f.coord.ConfirmRedirect(context.Background(), "true", "o1")
		require.ErrorIs(t, err, ErrNotAuthenticated)
		assert.Empty(t, f.remote.calls)
	})
}

func TestWidgetFlow(t *testing.T) {
	f := newFixture(p1Line(1))
	f.remote.widget = &model.WidgetOrder{ID: "order_1", Amount: 11000, Currency: "INR"}
	ctx := context.Background()

	attempt, err := f.coord.Place(ctx, model.PaymentWidget, validAddress())
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingExternalConfirmation, attempt.State)
	require.NotNil(t, attempt.Widget)
	assert.Equal(t, "order_1", attempt.Widget.ID)

	payment := model.WidgetPayment{OrderID: "order_1", PaymentID: "pay_1", Signature: "sig"}

	f.remote.verify = &api.Verification{Success: false, Message: "Signature mismatch"}
	attempt, err = f.coord.ConfirmWidget(ctx, payment)
	require.ErrorIs(t, err, ErrConfirmationMismatch)
	assert.Equal(t, "Signature mismatch", attempt.Message)
	assert.Empty(t, attempt.Navigate)
	assert.Zero(t, f.cart.resets)
	assert.Len(t, f.cart.lines, 1)

	f.remote.verify = &api.Verification{Success: true, Message: "Payment Successful"}
	attempt, err = f.coord.ConfirmWidget(ctx, payment)
	require.NoError(t, err)
	assert.Equal(t, NavigateOrders, attempt.Navigate)
	assert.Equal(t, 1, f.cart.resets)
}

func TestPlace_NewAttemptRebuilds(t *testing.T) {
	f := newFixture(p1Line(1))
	f.remote.placeErr = errors.New("boom")
	ctx := context.Background()

	first, err := f.coord.Place(ctx, model.PaymentCOD, validAddress())
	require.Error(t, err)

	f.remote.placeErr = nil
	f.cart.lines = []cart.Line{p1Line(3)}
	second, err := f.coord.Place(ctx, model.PaymentCOD, validAddress())
	require.NoError(t, err)

	assert.Greater(t, second.ID, first.ID)
	assert.Equal(t, "310", f.remote.lastReq.Amount.String())
}

func TestOrderLines(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	newer := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	orders := []model.Order{
		{ID: "o1", Date: older, Status: "Delivered", Items: []model.OrderItem{{ProductID: "p1"}, {ProductID: "p2"}}},
		{ID: "o2", Date: newer, Status: "Order Placed", Items: []model.OrderItem{{ProductID: "p3"}}},
	}

	lines := OrderLines(orders)
	require.Len(t, lines, 3)
	assert.Equal(t, "o2", lines[0].OrderID)
	assert.Equal(t, "p1", lines[1].Item.ProductID)
	assert.Equal(t, "p2", lines[2].Item.ProductID)
}

func TestOrders_RequiresSession(t *testing.T) {
	f := newFixture()
	f.session.creds = model.Credentials{}

	_, err := f.coord.Orders(context.Background())
	require.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Empty(t, f.remote.calls)
}
