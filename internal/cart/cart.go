// Package cart управляет локальной корзиной покупателя и её зеркалом на сервере.
//
// Локальное состояние первично: изменения применяются сразу, затем при наличии
// сессии асинхронно повторяются на сервере. Ошибка сервера изменение не откатывает.
package cart

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/api"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/validation"
)

var (
	// ErrMissingSize возвращается при добавлении или изменении позиции без размера.
	ErrMissingSize = validation.Invalid("size", "select product size")
	// ErrMissingProduct возвращается при пустом идентификаторе товара.
	ErrMissingProduct = validation.Invalid("productId", "required")
	// ErrNegativeQuantity возвращается при попытке установить отрицательное количество.
	ErrNegativeQuantity = validation.Invalid("quantity", "must not be negative")
)

// Guard предоставляет учётные данные активной сессии.
type Guard interface {
	Credentials() (model.Credentials, bool)
	Expire(ctx context.Context, token string)
}

// Remote описывает серверные операции с корзиной.
type Remote interface {
	GetCart(ctx context.Context, creds model.Credentials) (model.Cart, error)
	AddToCart(ctx context.Context, creds model.Credentials, productID, size string) (string, error)
	UpdateCart(ctx context.Context, creds model.Credentials, productID, size string, quantity int) (string, error)
}

// Store хранит локальную копию корзины. Писать в неё может только Manager.
type Store interface {
	LoadCart(ctx context.Context) (model.Cart, error)
	SaveCart(ctx context.Context, cart model.Cart) error
}

// Catalog разрешает товар по идентификатору.
type Catalog interface {
	Lookup(productID string) (model.Product, bool)
}

// Notifier показывает пользователю неблокирующие предупреждения.
type Notifier interface {
	Warn(msg string)
}

// Manager владеет корзиной: отображением (товар, размер) → количество.
type Manager struct {
	remote   Remote
	store    Store
	catalog  Catalog
	guard    Guard
	notifier Notifier
	logger   *zap.Logger

	mu         sync.Mutex
	items      model.Cart
	generation uint64

	mirror *mirror
}

// NewManager создаёт менеджер корзины с пустым состоянием.
func NewManager(remote Remote, store Store, catalog Catalog, guard Guard, notifier Notifier, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		remote:   remote,
		store:    store,
		catalog:  catalog,
		guard:    guard,
		notifier: notifier,
		logger:   logger,
		items:    model.Cart{},
	}
	m.mirror = newMirror(m.runMirror)
	return m
}

// Restore загружает сохранённую локальную копию корзины.
func (m *Manager) Restore(ctx context.Context) error {
	saved, err := m.store.LoadCart(ctx)
	if err != nil {
		return fmt.Errorf("load cart: %w", err)
	}

	m.mu.Lock()
	m.items = saved.Clone()
	m.mu.Unlock()
	return nil
}

// Add увеличивает количество позиции на единицу.
func (m *Manager) Add(ctx context.Context, productID, size string) error {
	if strings.TrimSpace(productID) == "" {
		return ErrMissingProduct
	}
	if strings.TrimSpace(size) == "" {
		return ErrMissingSize
	}

	m.mu.Lock()
	sizes := m.items[productID]
	if sizes == nil {
		sizes = map[string]int{}
		m.items[productID] = sizes
	}
	sizes[size] = max(sizes[size], 0) + 1
	m.persistLocked(ctx)
	m.mu.Unlock()

	if creds, ok := m.guard.Credentials(); ok {
		m.mirrorChange(ctx, mirrorOp{creds: creds, productID: productID, size: size, add: true})
	}
	return nil
}

// SetQuantity устанавливает количество позиции. Ноль удаляет позицию.
func (m *Manager) SetQuantity(ctx context.Context, productID, size string, quantity int) error {
	if strings.TrimSpace(productID) == "" {
		return ErrMissingProduct
	}
	if strings.TrimSpace(size) == "" {
		return ErrMissingSize
	}
	if quantity < 0 {
		return ErrNegativeQuantity
	}

	m.mu.Lock()
	if quantity == 0 {
		if sizes, ok := m.items[productID]; ok {
			delete(sizes, size)
			if len(sizes) == 0 {
				delete(m.items, productID)
			}
		}
	} else {
		if m.items[productID] == nil {
			m.items[productID] = map[string]int{}
		}
		m.items[productID][size] = quantity
	}
	m.persistLocked(ctx)
	m.mu.Unlock()

	if creds, ok := m.guard.Credentials(); ok {
		m.mirrorChange(ctx, mirrorOp{creds: creds, productID: productID, size: size, quantity: quantity})
	}
	return nil
}

// Reset безусловно очищает корзину в памяти и в локальной копии.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = model.Cart{}
	m.generation++
	if err := m.store.SaveCart(ctx, model.Cart{}); err != nil {
		m.logger.Error("clear persisted cart error", zap.Error(err))
		return fmt.Errorf("clear persisted cart: %w", err)
	}
	return nil
}

// Sync загружает серверную корзину и полностью заменяет ею локальную. Без токена ничего не делает.
func (m *Manager) Sync(ctx context.Context, creds model.Credentials) error {
	if creds.Token == "" {
		return nil
	}

	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()

	server, err := m.remote.GetCart(ctx, creds)
	if err != nil {
		m.remoteFailed(ctx, creds, "fetch cart", err, "Failed to fetch cart")
		return fmt.Errorf("fetch cart: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Корзину сбросили, пока шёл запрос: ответ устарел.
	if m.generation != gen {
		m.logger.Debug("discard stale cart sync")
		return nil
	}
	m.items = server.Clone()
	m.persistLocked(ctx)
	return nil
}

// Items возвращает копию корзины без нулевых позиций.
func (m *Manager) Items() model.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items.Clone()
}

// Amount возвращает сумму цена × количество по всем разрешимым позициям.
func (m *Manager) Amount() decimal.Decimal {
	total := decimal.Zero
	for _, l := range m.Lines() {
		if l.Product == nil {
			continue
		}
		total = total.Add(l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}

// Count возвращает общее количество единиц товара в корзине.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, sizes := range m.items {
		for _, qty := range sizes {
			if qty > 0 {
				count += qty
			}
		}
	}
	return count
}

// Line описывает позицию корзины, разрешённую по текущему каталогу. Product равен nil для снятого с продажи товара.
type Line struct {
	ProductID string         `json:"productId"`
	Size      string         `json:"size"`
	Quantity  int            `json:"quantity"`
	Product   *model.Product `json:"product,omitempty"`
}

// Lines возвращает позиции с положительным количеством в детерминированном порядке.
func (m *Manager) Lines() []Line {
	items := m.Items()

	lines := make([]Line, 0, len(items))
	for id, sizes := range items {
		var product *model.Product
		if p, ok := m.catalog.Lookup(id); ok {
			product = &p
		}
		for size, qty := range sizes {
			lines = append(lines, Line{ProductID: id, Size: size, Quantity: qty, Product: product})
		}
	}

	sort.Slice(lines, func(i, j int) bool {
		if lines[i].ProductID != lines[j].ProductID {
			return lines[i].ProductID < lines[j].ProductID
		}
		return lines[i].Size < lines[j].Size
	})
	return lines
}

// Totals содержит итоги корзины.
type Totals struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	DeliveryFee decimal.Decimal `json:"deliveryFee"`
	Total       decimal.Decimal `json:"total"`
}

// ComputeTotals добавляет стоимость доставки один раз. Пустая корзина даёт итог 0.
func ComputeTotals(subtotal, deliveryFee decimal.Decimal) Totals {
	t := Totals{Subtotal: subtotal, DeliveryFee: deliveryFee, Total: decimal.Zero}
	if subtotal.IsPositive() {
		t.Total = subtotal.Add(deliveryFee)
	}
	return t
}

// Totals возвращает итоги текущей корзины.
func (m *Manager) Totals(deliveryFee decimal.Decimal) Totals {
	return ComputeTotals(m.Amount(), deliveryFee)
}

// Wait дожидается отправки всех поставленных в очередь серверных изменений.
func (m *Manager) Wait() {
	m.mirror.wait()
}

// Close перестаёт принимать серверные изменения и дожидается отправки уже поставленных.
// Локальные изменения после Close продолжают работать.
func (m *Manager) Close() {
	m.mirror.close()
}

func (m *Manager) mirrorChange(ctx context.Context, op mirrorOp) {
	if !m.mirror.enqueue(ctx, op) {
		m.logger.Warn("cart closed, change not mirrored",
			zap.String("product_id", op.productID),
			zap.String("size", op.size),
		)
	}
}

func (m *Manager) persistLocked(ctx context.Context) {
	if err := m.store.SaveCart(ctx, m.items.Clone()); err != nil {
		m.logger.Error("persist cart error", zap.Error(err))
	}
}

func (m *Manager) runMirror(ctx context.Context, op mirrorOp) {
	var err error
	if op.add {
		_, err = m.remote.AddToCart(ctx, op.creds, op.productID, op.size)
	} else {
		_, err = m.remote.UpdateCart(ctx, op.creds, op.productID, op.size, op.quantity)
	}
	if err != nil {
		m.remoteFailed(ctx, op.creds, "mirror cart change", err, "Failed to update cart")
	}
}

func (m *Manager) remoteFailed(ctx context.Context, creds model.Credentials, op string, err error, fallback string) {
	m.logger.Warn("remote cart error", zap.String("op", op), zap.Error(err))
	if m.notifier != nil {
		m.notifier.Warn(api.Message(err, fallback))
	}
	if api.IsUnauthorized(err) {
		m.guard.Expire(ctx, creds.Token)
	}
}
