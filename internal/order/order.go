// Package order собирает заказ из корзины, отправляет его выбранным способом оплаты
// и сверяет результат с сервером.
package order

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/api"
	"github.com/mmeshcher/storefront/internal/cart"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/validation"
)

var (
	ErrNotAuthenticated     = errors.New("user is not authenticated")
	ErrEmptyCart            = errors.New("cart has no orderable items")
	ErrInvalidQuantity      = errors.New("order item quantity must be positive")
	ErrUnknownMethod        = validation.Invalid("paymentMethod", "unsupported")
	ErrInProgress           = errors.New("order attempt already in progress")
	ErrPaymentNotConfirmed  = errors.New("payment was not confirmed")
	ErrConfirmationMismatch = errors.New("gateway reported success but server verification failed")
)

const (
	// GenericFailure показывается, если сервер не вернул текст ошибки.
	GenericFailure = "Order placement failed"

	NavigateOrders = "/orders"
	NavigateCart   = "/cart"
)

// State описывает состояние попытки оформления заказа.
type State string

const (
	StateIdle                         State = "idle"
	StateBuilding                     State = "building"
	StateSubmitting                   State = "submitting"
	StateSucceeded                    State = "succeeded"
	StateAwaitingExternalConfirmation State = "awaiting_external_confirmation"
	StateFailed                       State = "failed"
)

// Attempt содержит снимок текущей попытки оформления.
type Attempt struct {
	ID          uint64              `json:"id"`
	State       State               `json:"state"`
	Method      model.PaymentMethod `json:"method,omitempty"`
	Amount      decimal.Decimal     `json:"amount"`
	RedirectURL string              `json:"redirectUrl,omitempty"`
	Widget      *model.WidgetOrder  `json:"widget,omitempty"`
	Navigate    string              `json:"navigate,omitempty"`
	Message     string              `json:"message,omitempty"`
}

// Session предоставляет проверку сессии, общую с корзиной.
type Session interface {
	Credentials() (model.Credentials, bool)
	User() (*model.User, bool)
	Expire(ctx context.Context, token string)
}

// Cart описывает операции корзины, нужные для заказа.
type Cart interface {
	Lines() []cart.Line
	Reset(ctx context.Context) error
}

// Remote описывает серверные операции с заказами.
type Remote interface {
	PlaceOrder(ctx context.Context, token string, in api.OrderRequest) (string, error)
	PlaceOrderRedirect(ctx context.Context, token string, in api.OrderRequest) (string, error)
	PlaceOrderWidget(ctx context.Context, token string, in api.OrderRequest) (*model.WidgetOrder, error)
	VerifyRedirect(ctx context.Context, creds model.Credentials, success, orderID string) (*api.Verification, error)
	VerifyWidget(ctx context.Context, creds model.Credentials, payment model.WidgetPayment) (*api.Verification, error)
	UserOrders(ctx context.Context, creds model.Credentials) ([]model.Order, error)
}

// Notifier показывает пользователю уведомления.
type Notifier interface {
	Info(msg string)
	Error(msg string)
}

// Coordinator ведёт одну попытку оформления за раз.
type Coordinator struct {
	remote      Remote
	cart        Cart
	session     Session
	notifier    Notifier
	deliveryFee decimal.Decimal
	logger      *zap.Logger

	mu      sync.Mutex
	attempt Attempt
}

// NewCoordinator создаёт координатор с фиксированной стоимостью доставки.
func NewCoordinator(remote Remote, c Cart, s Session, notifier Notifier, deliveryFee decimal.Decimal, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		remote:      remote,
		cart:        c,
		session:     s,
		notifier:    notifier,
		deliveryFee: deliveryFee,
		logger:      logger,
		attempt:     Attempt{State: StateIdle},
	}
}

// Current возвращает снимок текущей попытки.
func (c *Coordinator) Current() Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() Attempt {
	a := c.attempt
	if a.Widget != nil {
		w := *a.Widget
		a.Widget = &w
	}
	return a
}

// Draft содержит собранный заказ до отправки.
type Draft struct {
	Creds   model.Credentials
	Request api.OrderRequest
	Totals  cart.Totals
}

// Build собирает заказ из текущей корзины, каталога, адреса и пользователя.
func (c *Coordinator) Build(address model.Address) (*Draft, error) {
	creds, ok := c.session.Credentials()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	user, ok := c.session.User()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	if err := validation.Address(address); err != nil {
		return nil, err
	}

	var (
		items    []model.OrderItem
		subtotal = decimal.Zero
	)
	for _, l := range c.cart.Lines() {
		if l.Product == nil {
			continue
		}
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: %s/%s", ErrInvalidQuantity, l.ProductID, l.Size)
		}
		items = append(items, model.OrderItem{
			ProductID: l.Product.ID,
			Name:      l.Product.Name,
			Price:     l.Product.Price,
			Images:    l.Product.Images,
			Category:  l.Product.Category,
			Size:      l.Size,
			Quantity:  l.Quantity,
		})
		subtotal = subtotal.Add(l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	totals := cart.ComputeTotals(subtotal, c.deliveryFee)
	userID := creds.UserID
	if userID == "" {
		userID = user.ID
	}
	return &Draft{
		Creds:  creds,
		Totals: totals,
		Request: api.OrderRequest{
			UserID:  userID,
			Items:   items,
			Amount:  totals.Total,
			Address: address,
		},
	}, nil
}

// Place начинает новую попытку: заново собирает заказ и отправляет его выбранным способом.
func (c *Coordinator) Place(ctx context.Context, method model.PaymentMethod, address model.Address) (Attempt, error) {
	if !method.Valid() {
		return c.Current(), ErrUnknownMethod
	}

	c.mu.Lock()
	if c.attempt.State == StateBuilding || c.attempt.State == StateSubmitting {
		c.mu.Unlock()
		return c.Current(), ErrInProgress
	}
	c.attempt = Attempt{ID: c.attempt.ID + 1, State: StateBuilding, Method: method}
	c.mu.Unlock()

	draft, err := c.Build(address)
	if err != nil {
		return c.fail(err, err.Error()), err
	}

	c.mu.Lock()
	c.attempt.State = StateSubmitting
	c.attempt.Amount = draft.Totals.Total
	c.mu.Unlock()

	c.logger.Info("submit order",
		zap.String("method", string(method)),
		zap.String("amount", draft.Request.Amount.String()),
		zap.Int("items", len(draft.Request.Items)),
	)

	switch method {
	case model.PaymentCOD:
		return c.submitCOD(ctx, draft)
	case model.PaymentRedirect:
		return c.submitRedirect(ctx, draft)
	default:
		return c.submitWidget(ctx, draft)
	}
}

func (c *Coordinator) submitCOD(ctx context.Context, d *Draft) (Attempt, error) {
	msg, err := c.remote.PlaceOrder(ctx, d.Creds.Token, d.Request)
	if err != nil {
		return c.remoteFailed(ctx, d.Creds, err), fmt.Errorf("place order: %w", err)
	}
	return c.succeed(ctx, msg), nil
}

func (c *Coordinator) submitRedirect(ctx context.Context, d *Draft) (Attempt, error) {
	d.Request.Email = d.Request.Address.Email
	target, err := c.remote.PlaceOrderRedirect(ctx, d.Creds.Token, d.Request)
	if err != nil {
		return c.remoteFailed(ctx, d.Creds, err), fmt.Errorf("place redirect order: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt.State = StateAwaitingExternalConfirmation
	c.attempt.RedirectURL = target
	return c.snapshotLocked(), nil
}

func (c *Coordinator) submitWidget(ctx context.Context, d *Draft) (Attempt, error) {
	handle, err := c.remote.PlaceOrderWidget(ctx, d.Creds.Token, d.Request)
	if err != nil {
		return c.remoteFailed(ctx, d.Creds, err), fmt.Errorf("place widget order: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt.State = StateAwaitingExternalConfirmation
	c.attempt.Widget = handle
	return c.snapshotLocked(), nil
}

// ConfirmRedirect обрабатывает возврат со страницы оплаты. Корзина сбрасывается
// только после того, как сервер подтвердил оплату.
func (c *Coordinator) ConfirmRedirect(ctx context.Context, success, orderID string) (Attempt, error) {
	creds, ok := c.session.Credentials()
	if !ok {
		return c.Current(), ErrNotAuthenticated
	}

	res, err := c.remote.VerifyRedirect(ctx, creds, success, orderID)
	if err != nil {
		return c.remoteFailed(ctx, creds, err), fmt.Errorf("verify payment: %w", err)
	}
	if res.Success {
		return c.succeed(ctx, res.Message), nil
	}

	failure := ErrPaymentNotConfirmed
	if success == "true" {
		failure = ErrConfirmationMismatch
		c.logger.Warn("payment confirmation mismatch", zap.String("order_id", orderID))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt.State = StateFailed
	c.attempt.Navigate = NavigateCart
	c.attempt.Message = res.Message
	if c.attempt.Message == "" {
		c.attempt.Message = "Payment was not completed"
	}
	return c.snapshotLocked(), failure
}

// ConfirmWidget проверяет на сервере оплату, выполненную в виджете.
// При неудаче корзина не меняется и перехода к заказам нет.
func (c *Coordinator) ConfirmWidget(ctx context.Context, payment model.WidgetPayment) (Attempt, error) {
	creds, ok := c.session.Credentials()
	if !ok {
		return c.Current(), ErrNotAuthenticated
	}
	if payment.OrderID == "" || payment.PaymentID == "" {
		return c.Current(), validation.Invalid("razorpay_order_id", "required")
	}

	res, err := c.remote.VerifyWidget(ctx, creds, payment)
	if err != nil {
		return c.remoteFailed(ctx, creds, err), fmt.Errorf("verify payment: %w", err)
	}
	if !res.Success {
		c.logger.Warn("widget payment not verified", zap.String("order_id", payment.OrderID))
		msg := res.Message
		if msg == "" {
			msg = "Payment verification failed"
		}
		return c.fail(ErrConfirmationMismatch, msg), ErrConfirmationMismatch
	}
	return c.succeed(ctx, res.Message), nil
}

func (c *Coordinator) succeed(ctx context.Context, msg string) Attempt {
	if err := c.cart.Reset(ctx); err != nil {
		c.logger.Error("reset cart after order error", zap.Error(err))
	}
	if msg != "" && c.notifier != nil {
		c.notifier.Info(msg)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt.State = StateSucceeded
	c.attempt.Navigate = NavigateOrders
	c.attempt.Message = msg
	return c.snapshotLocked()
}

func (c *Coordinator) fail(err error, msg string) Attempt {
	c.logger.Info("order attempt failed", zap.Error(err))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt.State = StateFailed
	c.attempt.Message = msg
	c.attempt.Navigate = ""
	return c.snapshotLocked()
}

func (c *Coordinator) remoteFailed(ctx context.Context, creds model.Credentials, err error) Attempt {
	msg := api.Message(err, GenericFailure)
	if c.notifier != nil {
		c.notifier.Error(msg)
	}
	if api.IsUnauthorized(err) {
		c.session.Expire(ctx, creds.Token)
	}
	return c.fail(err, msg)
}
