package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/storefront/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore хранит локальное состояние профиля в PostgreSQL.
type PostgresStore struct {
	pool    *pgxpool.Pool
	profile string
}

// NewPostgresStore создаёт хранилище и инициализирует схему БД через миграции.
func NewPostgresStore(dsn, profile string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool, profile: profile}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

var retryDelays = []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 1 * time.Second}

func withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(retryDelays) {
			break
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// LoadCart возвращает сохранённую копию корзины. Отсутствие записи означает пустую корзину.
func (s *PostgresStore) LoadCart(ctx context.Context) (model.Cart, error) {
	var raw []byte
	err := withRetry(ctx, func() error {
		return s.pool.QueryRow(ctx,
			`SELECT items FROM carts WHERE profile = $1`,
			s.profile,
		).Scan(&raw)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Cart{}, nil
		}
		return nil, fmt.Errorf("select cart: %w", err)
	}

	var cart model.Cart
	if err := json.Unmarshal(raw, &cart); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return cart.Clone(), nil
}

// SaveCart перезаписывает копию корзины.
func (s *PostgresStore) SaveCart(ctx context.Context, cart model.Cart) error {
	raw, err := json.Marshal(cart.Clone())
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}

	err = withRetry(ctx, func() error {
		_, execErr := s.pool.Exec(ctx,
			`INSERT INTO carts (profile, items, updated_at) VALUES ($1, $2, now())
			 ON CONFLICT (profile) DO UPDATE SET items = EXCLUDED.items, updated_at = now()`,
			s.profile, raw,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("upsert cart: %w", err)
	}
	return nil
}

// LoadSession возвращает сохранённую сессию или ErrNotFound.
func (s *PostgresStore) LoadSession(ctx context.Context) (*Session, error) {
	var (
		token   string
		rawUser []byte
	)
	err := withRetry(ctx, func() error {
		return s.pool.QueryRow(ctx,
			`SELECT token, user_data FROM sessions WHERE profile = $1`,
			s.profile,
		).Scan(&token, &rawUser)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select session: %w", err)
	}

	sess := &Session{Token: token}
	if len(rawUser) > 0 {
		var u model.User
		if err := json.Unmarshal(rawUser, &u); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		sess.User = &u
	}
	return sess, nil
}

// SaveSession сохраняет токен и профиль пользователя.
func (s *PostgresStore) SaveSession(ctx context.Context, sess Session) error {
	var rawUser []byte
	if sess.User != nil {
		var err error
		rawUser, err = json.Marshal(sess.User)
		if err != nil {
			return fmt.Errorf("encode user: %w", err)
		}
	}

	err := withRetry(ctx, func() error {
		_, execErr := s.pool.Exec(ctx,
			`INSERT INTO sessions (profile, token, user_data, updated_at) VALUES ($1, $2, $3, now())
			 ON CONFLICT (profile) DO UPDATE SET token = EXCLUDED.token, user_data = EXCLUDED.user_data, updated_at = now()`,
			s.profile, sess.Token, rawUser,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// ClearSession удаляет токен и профиль пользователя одной операцией.
func (s *PostgresStore) ClearSession(ctx context.Context) error {
	err := withRetry(ctx, func() error {
		_, execErr := s.pool.Exec(ctx, `DELETE FROM sessions WHERE profile = $1`, s.profile)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
