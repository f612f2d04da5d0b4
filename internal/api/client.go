// Package api предоставляет клиент удалённого API магазина.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"

	"github.com/mmeshcher/storefront/internal/model"
)

const (
	tokenHeader     = "token"
	requestIDHeader = "X-Request-ID"

	breakerFailures = 5
	breakerTimeout  = 10 * time.Second
)

// errServerStatus помечает ответ 5xx как отказ для автомата размыкания.
var errServerStatus = errors.New("server status")

// Client инкапсулирует HTTP-взаимодействие с API магазина.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[response]
}

type response struct {
	status int
	raw    []byte
}

// NewClient создаёт HTTP-клиент API магазина по указанному адресу.
func NewClient(baseURL string, timeout time.Duration) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: gobreaker.NewCircuitBreaker[response](gobreaker.Settings{
			Name:    "storefront-api",
			Timeout: breakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailures
			},
			// Отмена запроса вызывающим не говорит о состоянии сервера.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		}),
	}
}

// send выполняет запрос через автомат размыкания. Ответ 5xx возвращается вместе с errServerStatus.
func (c *Client) send(req *http.Request) (response, error) {
	return c.breaker.Execute(func() (response, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return response{}, fmt.Errorf("do request: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return response{status: resp.StatusCode}, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return response{status: resp.StatusCode, raw: raw}, errServerStatus
		}
		return response{status: resp.StatusCode, raw: raw}, nil
	})
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// call выполняет запрос и декодирует ответ. Ответ success=false ошибкой не считается.
func (c *Client) call(ctx context.Context, method, path, token string, query url.Values, in, out any) (envelope, error) {
	var env envelope

	if c == nil || c.baseURL == "" {
		return env, &RemoteError{Message: "api client not configured"}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return env, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return env, fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(requestIDHeader, uuid.NewString())
	if token != "" {
		req.Header.Set(tokenHeader, token)
	}

	resp, err := c.send(req)
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return env, &RemoteError{Message: "Service temporarily unavailable", Err: err}
	case err != nil && !errors.Is(err, errServerStatus):
		return env, &RemoteError{StatusCode: resp.status, Err: err}
	}
	raw := resp.raw

	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &env)
	}

	if resp.status == http.StatusUnauthorized {
		return env, &RemoteError{StatusCode: resp.status, Message: env.Message, Err: ErrUnauthorized}
	}

	if resp.status < 200 || resp.status >= 300 {
		return env, &RemoteError{StatusCode: resp.status, Message: env.Message}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return env, &RemoteError{StatusCode: resp.status, Err: fmt.Errorf("decode response: %w", err)}
		}
	}

	return env, nil
}

// post выполняет запрос и превращает success=false в RemoteError.
func (c *Client) post(ctx context.Context, path, token string, in, out any) (string, error) {
	env, err := c.call(ctx, http.MethodPost, path, token, nil, in, out)
	if err != nil {
		return "", err
	}
	if !env.Success {
		return "", failure(env)
	}
	return env.Message, nil
}

func failure(env envelope) error {
	remoteErr := &RemoteError{StatusCode: http.StatusOK, Message: env.Message}
	if isAuthFailureMessage(env.Message) {
		remoteErr.Err = ErrUnauthorized
	}
	return remoteErr
}

// ListProducts возвращает полный список товаров каталога.
func (c *Client) ListProducts(ctx context.Context) ([]model.Product, error) {
	var resp struct {
		Products []model.Product `json:"products"`
	}
	env, err := c.call(ctx, http.MethodGet, "/api/product/list", "", nil, nil, &resp)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, failure(env)
	}
	return resp.Products, nil
}

// GetProduct возвращает один товар по идентификатору.
func (c *Client) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	var resp struct {
		Product *model.Product `json:"product"`
	}
	in := map[string]string{"productId": productID}
	if _, err := c.post(ctx, "/api/product/single", "", in, &resp); err != nil {
		return nil, err
	}
	if resp.Product == nil {
		return nil, &RemoteError{StatusCode: http.StatusOK, Message: "product not found", Err: ErrNotFound}
	}
	return resp.Product, nil
}

// GetCart возвращает серверную корзину пользователя.
func (c *Client) GetCart(ctx context.Context, creds model.Credentials) (model.Cart, error) {
	var resp struct {
		CartData model.Cart `json:"cartData"`
	}
	in := map[string]string{"userId": creds.UserID}
	if _, err := c.post(ctx, "/api/cart/get", creds.Token, in, &resp); err != nil {
		return nil, err
	}
	if resp.CartData == nil {
		return model.Cart{}, nil
	}
	return resp.CartData, nil
}

type cartItemRequest struct {
	UserID   string `json:"userId,omitempty"`
	ItemID   string `json:"itemId"`
	Size     string `json:"size"`
	Quantity *int   `json:"quantity,omitempty"`
}

// AddToCart увеличивает количество позиции в серверной корзине на единицу.
func (c *Client) AddToCart(ctx context.Context, creds model.Credentials, productID, size string) (string, error) {
	in := cartItemRequest{UserID: creds.UserID, ItemID: productID, Size: size}
	return c.post(ctx, "/api/cart/add", creds.Token, in, nil)
}

// UpdateCart устанавливает количество позиции в серверной корзине.
func (c *Client) UpdateCart(ctx context.Context, creds model.Credentials, productID, size string, quantity int) (string, error) {
	in := cartItemRequest{UserID: creds.UserID, ItemID: productID, Size: size, Quantity: &quantity}
	return c.post(ctx, "/api/cart/update", creds.Token, in, nil)
}

// AuthResult содержит выданный сервером токен и профиль пользователя.
type AuthResult struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// LoginRequest содержит учётные данные для входа.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest содержит поля профиля для регистрации.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// Login выполняет вход пользователя.
func (c *Client) Login(ctx context.Context, in LoginRequest) (*AuthResult, error) {
	var resp AuthResult
	if _, err := c.post(ctx, "/api/user/login", "", in, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register регистрирует нового пользователя.
func (c *Client) Register(ctx context.Context, in RegisterRequest) (*AuthResult, error) {
	var resp AuthResult
	if _, err := c.post(ctx, "/api/user/register", "", in, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ForgotPassword запрашивает отправку одноразового кода на телефон.
func (c *Client) ForgotPassword(ctx context.Context, phone string) (string, error) {
	return c.post(ctx, "/api/user/forgot-password", "", map[string]string{"phone": phone}, nil)
}

// ResetPasswordRequest содержит данные для смены пароля по коду.
type ResetPasswordRequest struct {
	Phone       string `json:"phone"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

// ResetPassword меняет пароль по одноразовому коду.
func (c *Client) ResetPassword(ctx context.Context, in ResetPasswordRequest) (string, error) {
	return c.post(ctx, "/api/user/reset-password", "", in, nil)
}

// OrderRequest описывает тело запроса на оформление заказа.
type OrderRequest struct {
	UserID  string            `json:"userId"`
	Items   []model.OrderItem `json:"items"`
	Amount  decimal.Decimal   `json:"amount"`
	Address model.Address     `json:"address"`
	Email   string            `json:"email,omitempty"`
}

// MarshalJSON передаёт сумму и цены позиций числами, как их ждёт сервер.
func (r OrderRequest) MarshalJSON() ([]byte, error) {
	type wireItem struct {
		model.OrderItem
		Price json.Number `json:"price"`
	}
	type plain OrderRequest

	items := make([]wireItem, len(r.Items))
	for i, item := range r.Items {
		items[i] = wireItem{OrderItem: item, Price: json.Number(item.Price.String())}
	}

	return json.Marshal(struct {
		plain
		Items  []wireItem  `json:"items"`
		Amount json.Number `json:"amount"`
	}{
		plain:  plain(r),
		Items:  items,
		Amount: json.Number(r.Amount.String()),
	})
}

// PlaceOrder оформляет заказ с оплатой при получении.
func (c *Client) PlaceOrder(ctx context.Context, token string, in OrderRequest) (string, error) {
	return c.post(ctx, "/api/order/place", token, in, nil)
}

// PlaceOrderRedirect создаёт платёжную сессию и возвращает адрес страницы оплаты.
func (c *Client) PlaceOrderRedirect(ctx context.Context, token string, in OrderRequest) (string, error) {
	var resp struct {
		SessionURL string `json:"session_url"`
	}
	if _, err := c.post(ctx, "/api/order/stripe", token, in, &resp); err != nil {
		return "", err
	}
	if resp.SessionURL == "" {
		return "", &RemoteError{StatusCode: http.StatusOK, Message: "payment session url missing"}
	}
	return resp.SessionURL, nil
}

// PlaceOrderWidget создаёт заказ платёжного виджета.
func (c *Client) PlaceOrderWidget(ctx context.Context, token string, in OrderRequest) (*model.WidgetOrder, error) {
	var resp struct {
		Order *model.WidgetOrder `json:"order"`
	}
	if _, err := c.post(ctx, "/api/order/razorpay", token, in, &resp); err != nil {
		return nil, err
	}
	if resp.Order == nil || resp.Order.ID == "" {
		return nil, &RemoteError{StatusCode: http.StatusOK, Message: "payment order missing"}
	}
	return resp.Order, nil
}

// Verification содержит результат серверной проверки оплаты.
type Verification struct {
	Success bool
	Message string
}

// VerifyRedirect подтверждает оплату через страницу платёжного шлюза.
func (c *Client) VerifyRedirect(ctx context.Context, creds model.Credentials, success, orderID string) (*Verification, error) {
	in := map[string]string{"userId": creds.UserID, "success": success, "orderId": orderID}
	return c.verify(ctx, "/api/order/verifyStripe", creds.Token, in)
}

// VerifyWidget подтверждает оплату, выполненную во встраиваемом виджете.
func (c *Client) VerifyWidget(ctx context.Context, creds model.Credentials, payment model.WidgetPayment) (*Verification, error) {
	in := struct {
		UserID string `json:"userId"`
		model.WidgetPayment
	}{UserID: creds.UserID, WidgetPayment: payment}
	return c.verify(ctx, "/api/order/verifyRazorpay", creds.Token, in)
}

func (c *Client) verify(ctx context.Context, path, token string, in any) (*Verification, error) {
	env, err := c.call(ctx, http.MethodPost, path, token, nil, in, nil)
	if err != nil {
		return nil, err
	}
	if !env.Success && isAuthFailureMessage(env.Message) {
		return nil, failure(env)
	}
	return &Verification{Success: env.Success, Message: env.Message}, nil
}

// UserOrders возвращает историю заказов пользователя.
func (c *Client) UserOrders(ctx context.Context, creds model.Credentials) ([]model.Order, error) {
	var resp struct {
		Orders []model.Order `json:"orders"`
	}
	in := map[string]string{"userId": creds.UserID}
	if _, err := c.post(ctx, "/api/order/userorders", creds.Token, in, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// SearchSuggestions запрашивает подсказки AI-поиска по произвольному запросу.
func (c *Client) SearchSuggestions(ctx context.Context, query string) (*model.Suggestions, error) {
	var resp model.Suggestions
	q := url.Values{"query": []string{query}}
	if _, err := c.call(ctx, http.MethodGet, "/api/ai/search-suggestions", "", q, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Source == "" {
		resp.Source = "unknown"
	}
	return &resp, nil
}
