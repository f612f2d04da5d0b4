// Package store содержит хранилища локального состояния клиента: учётные данные, профиль и копию корзины.
package store

import (
	"context"
	"errors"

	"github.com/mmeshcher/storefront/internal/model"
)

// ErrNotFound возвращается, если сохранённой сессии нет.
var ErrNotFound = errors.New("not found")

// Session содержит сохранённые учётные данные и профиль пользователя.
type Session struct {
	Token string      `json:"token"`
	User  *model.User `json:"user,omitempty"`
}

// Store описывает долговременное локальное хранилище одного профиля клиента.
type Store interface {
	LoadCart(ctx context.Context) (model.Cart, error)
	SaveCart(ctx context.Context, cart model.Cart) error
	LoadSession(ctx context.Context) (*Session, error)
	SaveSession(ctx context.Context, s Session) error
	ClearSession(ctx context.Context) error
	Close() error
}
