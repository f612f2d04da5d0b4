// Package catalog содержит кэш каталога товаров и производные от него представления.
package catalog

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/mmeshcher/storefront/internal/model"
)

// Source описывает удалённый источник данных каталога.
type Source interface {
	ListProducts(ctx context.Context) ([]model.Product, error)
	GetProduct(ctx context.Context, productID string) (*model.Product, error)
}

// Cache хранит снимок каталога. Полное обновление заменяет весь список целиком.
type Cache struct {
	source Source

	mu       sync.RWMutex
	products []model.Product
	index    map[string]int
	loaded   bool
	current  *model.Product
}

// New создаёт пустой кэш каталога.
func New(source Source) *Cache {
	return &Cache{
		source: source,
		index:  map[string]int{},
	}
}

// LoadAll загружает полный список товаров и заменяет им снимок.
func (c *Cache) LoadAll(ctx context.Context) ([]model.Product, error) {
	products, err := c.source.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	snapshot := slices.Clone(products)
	index := make(map[string]int, len(snapshot))
	for i, p := range snapshot {
		index[p.ID] = i
	}

	c.mu.Lock()
	c.products = snapshot
	c.index = index
	c.loaded = true
	c.mu.Unlock()

	return slices.Clone(snapshot), nil
}

// LoadOne загружает карточку одного товара.
func (c *Cache) LoadOne(ctx context.Context, productID string) (*model.Product, error) {
	p, err := c.source.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", productID, err)
	}

	c.mu.Lock()
	c.current = p
	c.mu.Unlock()

	out := *p
	return &out, nil
}

// Loaded сообщает, есть ли в кэше список товаров.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Lookup ищет товар по идентификатору в текущем снимке. Отсутствие товара ошибкой не является.
func (c *Cache) Lookup(productID string) (model.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if i, ok := c.index[productID]; ok {
		return c.products[i], true
	}
	return model.Product{}, false
}

// Current возвращает последнюю загруженную карточку товара.
func (c *Cache) Current() (model.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.current == nil {
		return model.Product{}, false
	}
	return *c.current, true
}

// Products возвращает копию текущего снимка.
func (c *Cache) Products() []model.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.products)
}

const (
	DefaultBestsellers = 5
	DefaultLatest      = 10
	DefaultRelated     = 5
)

// Bestsellers возвращает первые n товаров с отметкой бестселлера.
func (c *Cache) Bestsellers(n int) []model.Product {
	return c.take(n, func(p model.Product) bool { return p.Bestseller })
}

// Latest возвращает первые n товаров снимка.
func (c *Cache) Latest(n int) []model.Product {
	return c.take(n, func(model.Product) bool { return true })
}

// Related возвращает первые n товаров той же категории и подкатегории.
func (c *Cache) Related(category, subCategory string, n int) []model.Product {
	return c.take(n, func(p model.Product) bool {
		return p.Category == category && p.SubCategory == subCategory
	})
}

func (c *Cache) take(n int, keep func(model.Product) bool) []model.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.Product, 0, n)
	for _, p := range c.products {
		if len(out) >= n {
			break
		}
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// SortOrder задаёт порядок сортировки витрины.
type SortOrder string

const (
	SortRelevant SortOrder = "relevant"
	SortLowHigh  SortOrder = "low-high"
	SortHighLow  SortOrder = "high-low"
)

// Query описывает фильтр витрины коллекции.
type Query struct {
	Search        string
	Categories    []string
	Subcategories []string
	Sort          SortOrder
}

// Filter применяет фильтры и сортировку к текущему снимку.
func (c *Cache) Filter(q Query) []model.Product {
	search := strings.ToLower(strings.TrimSpace(q.Search))

	filtered := make([]model.Product, 0)
	for _, p := range c.Products() {
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) {
			continue
		}
		if len(q.Categories) > 0 && !slices.Contains(q.Categories, p.Category) {
			continue
		}
		if len(q.Subcategories) > 0 && !slices.Contains(q.Subcategories, p.SubCategory) {
			continue
		}
		filtered = append(filtered, p)
	}

	switch q.Sort {
	case SortLowHigh:
		slices.SortStableFunc(filtered, func(a, b model.Product) int { return a.Price.Cmp(b.Price) })
	case SortHighLow:
		slices.SortStableFunc(filtered, func(a, b model.Product) int { return b.Price.Cmp(a.Price) })
	}

	return filtered
}
