// Package service собирает состояние витрины в один объект и выполняет его начальную загрузку.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/storefront/internal/api"
	"github.com/mmeshcher/storefront/internal/cart"
	"github.com/mmeshcher/storefront/internal/catalog"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/notify"
	"github.com/mmeshcher/storefront/internal/order"
	"github.com/mmeshcher/storefront/internal/session"
	"github.com/mmeshcher/storefront/internal/store"
	"github.com/mmeshcher/storefront/internal/suggest"
)

// Remote объединяет все удалённые операции, которыми пользуются компоненты витрины.
type Remote interface {
	catalog.Source
	cart.Remote
	session.Remote
	order.Remote
	suggest.Source
}

// Options задаёт параметры витрины.
type Options struct {
	DeliveryFee    decimal.Decimal
	Currency       string
	SearchDebounce time.Duration
}

// Service является явным объектом состояния витрины. Компоненты создаются здесь и
// получают зависимости через конструкторы.
type Service struct {
	catalog *catalog.Cache
	cart    *cart.Manager
	session *session.Manager
	orders  *order.Coordinator
	suggest *suggest.Fetcher
	notes   *notify.Feed

	store    store.Store
	fee      decimal.Decimal
	currency string
	logger   *zap.Logger
}

// NewService создаёт объект состояния витрины.
func NewService(remote Remote, st store.Store, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	notes := notify.NewFeed(0, logger.Named("notify"))
	products := catalog.New(remote)
	sess := session.NewManager(remote, st, notes, logger.Named("session"))
	cartMgr := cart.NewManager(remote, st, products, sess, notes, logger.Named("cart"))
	sess.AttachCart(cartMgr)

	return &Service{
		catalog:  products,
		cart:     cartMgr,
		session:  sess,
		orders:   order.NewCoordinator(remote, cartMgr, sess, notes, opts.DeliveryFee, logger.Named("order")),
		suggest:  suggest.New(remote, opts.SearchDebounce, logger.Named("suggest")),
		notes:    notes,
		store:    st,
		fee:      opts.DeliveryFee,
		currency: opts.Currency,
		logger:   logger,
	}
}

// Bootstrap восстанавливает локальное состояние, затем параллельно загружает
// каталог и, если есть сохранённая сессия, серверную корзину. Ошибки обеих
// загрузок возвращаются вместе.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.cart.Restore(ctx); err != nil {
		return fmt.Errorf("restore cart: %w", err)
	}
	creds, loggedIn, err := s.session.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}

	// Загрузки независимы: отказ одной не отменяет другую.
	var g errgroup.Group
	var catalogErr, syncErr error
	g.Go(func() error {
		if _, catalogErr = s.catalog.LoadAll(ctx); catalogErr != nil {
			s.notes.Error(api.Message(catalogErr, "Failed to load products"))
		}
		return nil
	})
	if loggedIn {
		g.Go(func() error {
			syncErr = s.cart.Sync(ctx, creds)
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(catalogErr, syncErr); err != nil {
		return fmt.Errorf("load remote state: %w", err)
	}

	s.logger.Info("storefront state loaded",
		zap.Bool("logged_in", loggedIn),
		zap.Int("products", len(s.catalog.Products())),
		zap.Int("cart_items", s.cart.Count()),
	)
	return nil
}

// Close дожидается отправки изменений корзины и освобождает ресурсы.
func (s *Service) Close() error {
	s.suggest.Close()
	s.cart.Close()
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// Credentials проверяет сессию для middleware.
func (s *Service) Credentials() (model.Credentials, bool) {
	return s.session.Credentials()
}

// Products возвращает отфильтрованный каталог, загружая его при первом обращении.
func (s *Service) Products(ctx context.Context, q catalog.Query) ([]model.Product, error) {
	if !s.catalog.Loaded() {
		if _, err := s.catalog.LoadAll(ctx); err != nil {
			return nil, err
		}
	}
	return s.catalog.Filter(q), nil
}

// Product возвращает товар из снимка каталога или последнюю открытую карточку,
// а при их отсутствии загружает карточку.
func (s *Service) Product(ctx context.Context, productID string) (*ProductView, error) {
	p, ok := s.catalog.Lookup(productID)
	if !ok {
		if cur, found := s.catalog.Current(); found && cur.ID == productID {
			p, ok = cur, true
		}
	}
	if !ok {
		loaded, err := s.catalog.LoadOne(ctx, productID)
		if err != nil {
			return nil, err
		}
		p = *loaded
	}
	return &ProductView{
		Product: p,
		Related: s.catalog.Related(p.Category, p.SubCategory, catalog.DefaultRelated),
	}, nil
}

// ProductView описывает карточку товара вместе с похожими товарами.
type ProductView struct {
	model.Product
	Related []model.Product `json:"related"`
}

// Bestsellers возвращает хиты продаж.
func (s *Service) Bestsellers() []model.Product {
	return s.catalog.Bestsellers(catalog.DefaultBestsellers)
}

// Latest возвращает последние поступления.
func (s *Service) Latest() []model.Product {
	return s.catalog.Latest(catalog.DefaultLatest)
}

// CartView описывает корзину в виде, готовом для отображения.
type CartView struct {
	Lines    []cart.Line `json:"lines"`
	Count    int         `json:"count"`
	Currency string      `json:"currency"`
	cart.Totals
}

// Cart возвращает позиции и итоги корзины.
func (s *Service) Cart() CartView {
	return CartView{
		Lines:    s.cart.Lines(),
		Count:    s.cart.Count(),
		Currency: s.currency,
		Totals:   s.cart.Totals(s.fee),
	}
}

// AddToCart добавляет единицу товара выбранного размера.
func (s *Service) AddToCart(ctx context.Context, productID, size string) error {
	return s.cart.Add(ctx, productID, size)
}

// SetCartQuantity устанавливает количество позиции.
func (s *Service) SetCartQuantity(ctx context.Context, productID, size string, quantity int) error {
	return s.cart.SetQuantity(ctx, productID, size, quantity)
}

// Login выполняет вход.
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, error) {
	return s.session.Login(ctx, email, password)
}

// Register регистрирует покупателя.
func (s *Service) Register(ctx context.Context, in session.RegisterInput) (*model.User, error) {
	return s.session.Register(ctx, in)
}

// Logout завершает сессию.
func (s *Service) Logout(ctx context.Context) error {
	return s.session.Logout(ctx)
}

// ForgotPassword запрашивает код для смены пароля.
func (s *Service) ForgotPassword(ctx context.Context, phone string) (string, error) {
	return s.session.ForgotPassword(ctx, phone)
}

// ResetPassword меняет пароль по коду.
func (s *Service) ResetPassword(ctx context.Context, in session.ResetPasswordInput) (string, error) {
	return s.session.ResetPassword(ctx, in)
}

// CurrentUser возвращает профиль вошедшего покупателя.
func (s *Service) CurrentUser() (*model.User, bool) {
	return s.session.User()
}

// PlaceOrder начинает новую попытку оформления.
func (s *Service) PlaceOrder(ctx context.Context, method model.PaymentMethod, address model.Address) (order.Attempt, error) {
	return s.orders.Place(ctx, method, address)
}

// CurrentOrder возвращает состояние текущей попытки оформления.
func (s *Service) CurrentOrder() order.Attempt {
	return s.orders.Current()
}

// ConfirmRedirect обрабатывает возврат с платёжной страницы.
func (s *Service) ConfirmRedirect(ctx context.Context, success, orderID string) (order.Attempt, error) {
	return s.orders.ConfirmRedirect(ctx, success, orderID)
}

// ConfirmWidget проверяет оплату из виджета.
func (s *Service) ConfirmWidget(ctx context.Context, payment model.WidgetPayment) (order.Attempt, error) {
	return s.orders.ConfirmWidget(ctx, payment)
}

// OrderHistory возвращает позиции всех заказов покупателя, новые сначала.
func (s *Service) OrderHistory(ctx context.Context) ([]order.Line, error) {
	orders, err := s.orders.Orders(ctx)
	if err != nil {
		return nil, err
	}
	return order.OrderLines(orders), nil
}

// Search передаёт очередное значение строки поиска.
func (s *Service) Search(query string) {
	s.suggest.Query(query)
}

// Suggestions возвращает текущие подсказки поиска.
func (s *Service) Suggestions() suggest.Snapshot {
	return s.suggest.Snapshot()
}

// Notifications возвращает уведомления после указанного идентификатора.
func (s *Service) Notifications(afterID uint64) []notify.Notification {
	return s.notes.Since(afterID)
}
