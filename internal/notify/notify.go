// Package notify содержит ленту неблокирующих уведомлений для пользователя.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Level описывает важность уведомления.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification описывает одно уведомление ленты.
type Notification struct {
	ID        uint64    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

const defaultCapacity = 50

// Feed хранит последние уведомления в кольцевом буфере фиксированного размера.
type Feed struct {
	mu     sync.Mutex
	items  []Notification
	limit  int
	nextID uint64
	logger *zap.Logger
}

// NewFeed создаёт ленту уведомлений. При capacity <= 0 используется размер по умолчанию.
func NewFeed(capacity int, logger *zap.Logger) *Feed {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		limit:  capacity,
		logger: logger,
	}
}

func (f *Feed) push(level Level, msg string) {
	f.mu.Lock()
	f.nextID++
	n := Notification{ID: f.nextID, Level: level, Message: msg, CreatedAt: time.Now().UTC()}
	f.items = append(f.items, n)
	if len(f.items) > f.limit {
		f.items = f.items[len(f.items)-f.limit:]
	}
	f.mu.Unlock()

	f.logger.Debug("notification", zap.String("level", string(level)), zap.String("message", msg))
}

// Info добавляет информационное уведомление.
func (f *Feed) Info(msg string) { f.push(LevelInfo, msg) }

// Warn добавляет предупреждение.
func (f *Feed) Warn(msg string) { f.push(LevelWarning, msg) }

// Error добавляет уведомление об ошибке.
func (f *Feed) Error(msg string) { f.push(LevelError, msg) }

// Since возвращает уведомления с идентификатором больше afterID.
func (f *Feed) Since(afterID uint64) []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Notification, 0, len(f.items))
	for _, n := range f.items {
		if n.ID > afterID {
			out = append(out, n)
		}
	}
	return out
}
