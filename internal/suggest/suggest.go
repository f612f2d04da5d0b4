// Package suggest запрашивает подсказки AI-поиска с задержкой ввода.
//
// Каждый выпущенный запрос получает порядковый номер; состояние обновляет только
// ответ на последний выпущенный запрос.
package suggest

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/api"
	"github.com/mmeshcher/storefront/internal/model"
)

// DefaultDebounce задаёт задержку между последним нажатием и запросом.
const DefaultDebounce = 500 * time.Millisecond

// Source выполняет запрос подсказок.
type Source interface {
	SearchSuggestions(ctx context.Context, query string) (*model.Suggestions, error)
}

// Snapshot описывает текущее состояние подсказок.
type Snapshot struct {
	Query         string          `json:"query"`
	Products      []model.Product `json:"products"`
	Categories    []string        `json:"categories"`
	Subcategories []string        `json:"subcategories"`
	Source        string          `json:"source,omitempty"`
	Loading       bool            `json:"loading"`
	Error         string          `json:"error,omitempty"`
}

// Fetcher держит не больше одного актуального запроса.
type Fetcher struct {
	source   Source
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	timer    *time.Timer
	cancel   context.CancelFunc
	seq      uint64
	pending  string
	state    Snapshot
	closed   bool
	inflight sync.WaitGroup
}

// New создаёт Fetcher. Неположительная задержка заменяется DefaultDebounce.
func New(source Source, debounce time.Duration, logger *zap.Logger) *Fetcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		source:   source,
		debounce: debounce,
		logger:   logger,
	}
}

// Query принимает очередное значение строки поиска. Пустая строка очищает подсказки без запроса.
func (f *Fetcher) Query(q string) {
	q = strings.TrimSpace(q)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.stopLocked()

	if q == "" {
		f.state = Snapshot{}
		return
	}

	f.pending = q
	f.state.Query = q
	gen := f.seq
	f.timer = time.AfterFunc(f.debounce, func() { f.fire(gen) })
}

// Clear очищает подсказки и отменяет запланированный и выполняющийся запросы.
func (f *Fetcher) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopLocked()
	f.state = Snapshot{}
}

// Close останавливает Fetcher и дожидается завершения запроса.
func (f *Fetcher) Close() {
	f.mu.Lock()
	f.closed = true
	f.stopLocked()
	f.mu.Unlock()

	f.inflight.Wait()
}

// Snapshot возвращает копию текущего состояния.
func (f *Fetcher) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := f.state
	s.Products = append([]model.Product(nil), s.Products...)
	s.Categories = append([]string(nil), s.Categories...)
	s.Subcategories = append([]string(nil), s.Subcategories...)
	return s
}

// stopLocked останавливает таймер и делает устаревшим текущий запрос.
func (f *Fetcher) stopLocked() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.seq++
	f.state.Loading = false
}

func (f *Fetcher) fire(gen uint64) {
	f.mu.Lock()
	// Таймер сработал, но его уже заменил более новый ввод.
	if f.closed || gen != f.seq || f.pending == "" {
		f.mu.Unlock()
		return
	}
	f.seq++
	seq := f.seq
	query := f.pending
	f.pending = ""
	f.timer = nil

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.state.Loading = true
	f.state.Error = ""
	f.inflight.Add(1)
	f.mu.Unlock()

	defer f.inflight.Done()
	defer cancel()

	res, err := f.source.SearchSuggestions(ctx, query)

	f.mu.Lock()
	defer f.mu.Unlock()

	if seq != f.seq {
		f.logger.Debug("discard stale suggestions", zap.String("query", query))
		return
	}
	f.cancel = nil
	f.state.Loading = false

	if err != nil {
		f.logger.Warn("search suggestions error", zap.String("query", query), zap.Error(err))
		f.state.Products = nil
		f.state.Categories = nil
		f.state.Subcategories = nil
		f.state.Error = api.Message(err, "Failed to load suggestions")
		return
	}

	f.state = Snapshot{
		Query:         query,
		Products:      res.Products,
		Categories:    res.Categories,
		Subcategories: res.Subcategories,
		Source:        res.Source,
	}
}
