package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/storefront/internal/model"
)

// RedisStore хранит локальное состояние профиля в Redis без срока жизни ключей.
type RedisStore struct {
	client  *redis.Client
	profile string
}

// NewRedisStore создаёт хранилище поверх готового клиента Redis.
func NewRedisStore(client *redis.Client, profile string) *RedisStore {
	return &RedisStore{client: client, profile: profile}
}

func (r *RedisStore) cartKey() string    { return fmt.Sprintf("storefront:%s:cart", r.profile) }
func (r *RedisStore) sessionKey() string { return fmt.Sprintf("storefront:%s:session", r.profile) }

func (r *RedisStore) LoadCart(ctx context.Context) (model.Cart, error) {
	data, err := r.client.Get(ctx, r.cartKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Cart{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	var cart model.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	return cart.Clone(), nil
}

func (r *RedisStore) SaveCart(ctx context.Context, cart model.Cart) error {
	data, err := json.Marshal(cart.Clone())
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}
	if err := r.client.Set(ctx, r.cartKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set cart: %w", err)
	}
	return nil
}

func (r *RedisStore) LoadSession(ctx context.Context) (*Session, error) {
	data, err := r.client.Get(ctx, r.sessionKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) SaveSession(ctx context.Context, s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := r.client.Set(ctx, r.sessionKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (r *RedisStore) ClearSession(ctx context.Context) error {
	if err := r.client.Del(ctx, r.sessionKey()).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

// Close закрывает клиент Redis.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
