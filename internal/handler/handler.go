// Package handler содержит HTTP-обработчики локального API витрины.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/api"
	"github.com/mmeshcher/storefront/internal/catalog"
	"github.com/mmeshcher/storefront/internal/middleware"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/notify"
	"github.com/mmeshcher/storefront/internal/order"
	"github.com/mmeshcher/storefront/internal/service"
	"github.com/mmeshcher/storefront/internal/session"
	"github.com/mmeshcher/storefront/internal/suggest"
	"github.com/mmeshcher/storefront/internal/validation"
)

// Service определяет операции витрины, используемые HTTP-обработчиками.
type Service interface {
	Products(ctx context.Context, q catalog.Query) ([]model.Product, error)
	Product(ctx context.Context, productID string) (*service.ProductView, error)
	Bestsellers() []model.Product
	Latest() []model.Product

	Cart() service.CartView
	AddToCart(ctx context.Context, productID, size string) error
	SetCartQuantity(ctx context.Context, productID, size string, quantity int) error

	Login(ctx context.Context, email, password string) (*model.User, error)
	Register(ctx context.Context, in session.RegisterInput) (*model.User, error)
	Logout(ctx context.Context) error
	ForgotPassword(ctx context.Context, phone string) (string, error)
	ResetPassword(ctx context.Context, in session.ResetPasswordInput) (string, error)
	CurrentUser() (*model.User, bool)

	PlaceOrder(ctx context.Context, method model.PaymentMethod, address model.Address) (order.Attempt, error)
	CurrentOrder() order.Attempt
	ConfirmRedirect(ctx context.Context, success, orderID string) (order.Attempt, error)
	ConfirmWidget(ctx context.Context, payment model.WidgetPayment) (order.Attempt, error)
	OrderHistory(ctx context.Context) ([]order.Line, error)

	Search(query string)
	Suggestions() suggest.Snapshot
	Notifications(afterID uint64) []notify.Notification
}

// Handler реализует HTTP-обработчики локального API витрины.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func badRequest(w http.ResponseWriter) {
	http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
}

// statusOf сопоставляет ошибку компонента витрины с HTTP-статусом.
func statusOf(err error) int {
	var remoteErr *api.RemoteError
	switch {
	case errors.Is(err, validation.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrNotAuthenticated), errors.Is(err, api.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, api.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrEmptyCart), errors.Is(err, order.ErrInvalidQuantity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, order.ErrInProgress):
		return http.StatusConflict
	case errors.Is(err, order.ErrConfirmationMismatch), errors.Is(err, order.ErrPaymentNotConfirmed):
		return http.StatusPaymentRequired
	case errors.As(err, &remoteErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(status), status)
		return
	}
	if status == http.StatusBadGateway {
		h.logger.Warn(op+" remote error", zap.Error(err))
	}

	msg := api.Message(err, http.StatusText(status))
	var validationErr *validation.Error
	if errors.As(err, &validationErr) {
		msg = validationErr.Error()
	}
	http.Error(w, msg, status)
}

// attempt отвечает состоянием попытки оформления, в том числе неудачной.
func (h *Handler) attempt(w http.ResponseWriter, op string, a order.Attempt, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, a)
		return
	}
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err))
	}
	writeJSON(w, status, a)
}

// ListProducts возвращает каталог с фильтрами search, category, subCategory и sort.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := catalog.Query{
		Search:        q.Get("search"),
		Categories:    q["category"],
		Subcategories: q["subCategory"],
		Sort:          catalog.SortOrder(q.Get("sort")),
	}

	products, err := h.service.Products(r.Context(), query)
	if err != nil {
		h.fail(w, "list products", err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// GetProduct возвращает карточку товара.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	view, err := h.service.Product(r.Context(), id)
	if err != nil {
		h.fail(w, "get product", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Bestsellers возвращает хиты продаж.
func (h *Handler) Bestsellers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Bestsellers())
}

// Latest возвращает последние поступления.
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Latest())
}

// GetCart возвращает корзину с итогами.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Cart())
}

type cartItemRequest struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Quantity  *int   `json:"quantity"`
}

// AddCartItem добавляет единицу товара в корзину.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}

	if err := h.service.AddToCart(r.Context(), req.ProductID, req.Size); err != nil {
		h.fail(w, "add to cart", err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Cart())
}

// UpdateCartItem устанавливает количество позиции корзины.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if err := decode(r, &req); err != nil || req.Quantity == nil {
		badRequest(w)
		return
	}

	if err := h.service.SetCartQuantity(r.Context(), req.ProductID, req.Size, *req.Quantity); err != nil {
		h.fail(w, "update cart", err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Cart())
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login выполняет вход покупателя.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}

	user, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, "login user", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Register регистрирует покупателя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req session.RegisterInput
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}

	user, err := h.service.Register(r.Context(), req)
	if err != nil {
		h.fail(w, "register user", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Logout завершает сессию и очищает корзину.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context()); err != nil {
		h.fail(w, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CurrentUser возвращает профиль покупателя.
func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	user, ok := h.service.CurrentUser()
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type messageResponse struct {
	Message string `json:"message"`
}

// ForgotPassword отправляет одноразовый код на телефон.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}

	msg, err := h.service.ForgotPassword(r.Context(), req.Phone)
	if err != nil {
		h.fail(w, "forgot password", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

// ResetPassword меняет пароль по одноразовому коду.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req session.ResetPasswordInput
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}

	msg, err := h.service.ResetPassword(r.Context(), req)
	if err != nil {
		h.fail(w, "reset password", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

type placeOrderRequest struct {
	PaymentMethod model.PaymentMethod `json:"paymentMethod"`
	Address       model.Address       `json:"address"`
}

// PlaceOrder оформляет заказ выбранным способом оплаты.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}

	a, err := h.service.PlaceOrder(r.Context(), req.PaymentMethod, req.Address)
	h.attempt(w, "place order", a, err)
}

// CurrentOrder возвращает состояние текущей попытки оформления.
func (h *Handler) CurrentOrder(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.CurrentOrder())
}

// GetOrders возвращает историю заказов покупателя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	lines, err := h.service.OrderHistory(r.Context())
	if err != nil {
		h.fail(w, "get orders", err)
		return
	}

	if len(lines) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

// VerifyRedirect принимает возврат со страницы оплаты: /verify?success=true&orderId=...
func (h *Handler) VerifyRedirect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orderID := q.Get("orderId")
	if orderID == "" {
		badRequest(w)
		return
	}

	a, err := h.service.ConfirmRedirect(r.Context(), q.Get("success"), orderID)
	h.attempt(w, "verify redirect payment", a, err)
}

// VerifyWidget принимает результат оплаты из виджета.
func (h *Handler) VerifyWidget(w http.ResponseWriter, r *http.Request) {
	var req model.WidgetPayment
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}

	a, err := h.service.ConfirmWidget(r.Context(), req)
	h.attempt(w, "verify widget payment", a, err)
}

// Search принимает очередное значение строки поиска.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}

	h.service.Search(req.Query)
	w.WriteHeader(http.StatusAccepted)
}

// Suggestions возвращает текущие подсказки поиска.
func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Suggestions())
}

// Notifications возвращает уведомления новее параметра after.
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	var after uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			badRequest(w)
			return
		}
		after = v
	}
	writeJSON(w, http.StatusOK, h.service.Notifications(after))
}
