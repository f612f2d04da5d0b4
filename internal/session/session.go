// Package session управляет учётными данными и профилем покупателя.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/api"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/store"
	"github.com/mmeshcher/storefront/internal/validation"
)

// ErrNoResetPhone возвращается при смене пароля без указанного и ранее запрошенного телефона.
var ErrNoResetPhone = validation.Invalid("phone", "request a code first")

// errMissingToken возвращается, если сервер подтвердил вход, но не выдал токен.
var errMissingToken = errors.New("server returned no credential")

// Remote описывает серверные операции аутентификации.
type Remote interface {
	Login(ctx context.Context, in api.LoginRequest) (*api.AuthResult, error)
	Register(ctx context.Context, in api.RegisterRequest) (*api.AuthResult, error)
	ForgotPassword(ctx context.Context, phone string) (string, error)
	ResetPassword(ctx context.Context, in api.ResetPasswordRequest) (string, error)
}

// Store хранит учётные данные. Писать в него может только Manager.
type Store interface {
	LoadSession(ctx context.Context) (*store.Session, error)
	SaveSession(ctx context.Context, s store.Session) error
	ClearSession(ctx context.Context) error
}

// Cart описывает операции корзины, которые запускает смена сессии.
type Cart interface {
	Reset(ctx context.Context) error
	Sync(ctx context.Context, creds model.Credentials) error
}

// Notifier показывает пользователю неблокирующие уведомления.
type Notifier interface {
	Warn(msg string)
}

// Manager хранит токен и профиль. Сессию меняют только Login, Register и Logout.
type Manager struct {
	remote   Remote
	store    Store
	notifier Notifier
	logger   *zap.Logger

	mu         sync.Mutex
	token      string
	user       *model.User
	resetPhone string
	cart       Cart
}

// NewManager создаёт менеджер гостевой сессии.
func NewManager(remote Remote, st Store, notifier Notifier, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		remote:   remote,
		store:    st,
		notifier: notifier,
		logger:   logger,
	}
}

// AttachCart связывает сессию с корзиной, которую нужно сбрасывать при выходе и синхронизировать при входе.
func (m *Manager) AttachCart(c Cart) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cart = c
}

// Credentials выполняет единственную проверку «пользователь вошёл». Без токена возвращает false: это гостевой режим.
func (m *Manager) Credentials() (model.Credentials, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credentialsLocked()
}

func (m *Manager) credentialsLocked() (model.Credentials, bool) {
	if m.token == "" {
		return model.Credentials{}, false
	}
	creds := model.Credentials{Token: m.token}
	if m.user != nil {
		creds.UserID = m.user.ID
	}
	return creds, true
}

// User возвращает копию профиля текущего пользователя.
func (m *Manager) User() (*model.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" || m.user == nil {
		return nil, false
	}
	u := *m.user
	return &u, true
}

// Restore загружает сохранённую сессию. Отсутствие сессии означает гостевой режим.
func (m *Manager) Restore(ctx context.Context) (model.Credentials, bool, error) {
	saved, err := m.store.LoadSession(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Credentials{}, false, nil
		}
		return model.Credentials{}, false, fmt.Errorf("load session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = saved.Token
	m.user = saved.User
	creds, ok := m.credentialsLocked()
	return creds, ok, nil
}

// Login выполняет вход и заменяет локальную корзину серверной.
func (m *Manager) Login(ctx context.Context, email, password string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if err := validation.Login(email, password); err != nil {
		return nil, err
	}

	res, err := m.remote.Login(ctx, api.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return m.establish(ctx, res)
}

// RegisterInput содержит поля регистрации.
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// Register регистрирует пользователя и открывает для него сессию.
func (m *Manager) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.Email = strings.TrimSpace(in.Email)
	if err := validation.Registration(in.Name, in.Email, in.Phone, in.Password); err != nil {
		return nil, err
	}

	res, err := m.remote.Register(ctx, api.RegisterRequest{
		Name:     in.Name,
		Email:    in.Email,
		Phone:    in.Phone,
		Password: in.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return m.establish(ctx, res)
}

func (m *Manager) establish(ctx context.Context, res *api.AuthResult) (*model.User, error) {
	if res == nil || res.Token == "" {
		return nil, errMissingToken
	}

	user := res.User
	if user == nil {
		user = &model.User{}
	}

	if err := m.store.SaveSession(ctx, store.Session{Token: res.Token, User: user}); err != nil {
		m.logger.Error("persist session error", zap.Error(err))
	}

	m.mu.Lock()
	m.token = res.Token
	m.user = user
	creds, _ := m.credentialsLocked()
	c := m.cart
	m.mu.Unlock()

	// Серверная корзина побеждает: гостевая корзина не объединяется с ней.
	if c != nil {
		if err := c.Sync(ctx, creds); err != nil {
			m.logger.Warn("cart sync after login error", zap.Error(err))
		}
	}

	out := *user
	return &out, nil
}

// Logout удаляет учётные данные, профиль и корзину вместе.
// Если сохранённую сессию удалить не удалось, состояние не меняется.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logoutLocked(ctx)
}

func (m *Manager) logoutLocked(ctx context.Context) error {
	if err := m.store.ClearSession(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}

	m.token = ""
	m.user = nil
	m.resetPhone = ""

	if m.cart != nil {
		if err := m.cart.Reset(ctx); err != nil {
			m.logger.Error("cart reset on logout error", zap.Error(err))
		}
	}
	return nil
}

// Expire завершает сессию, если сервер отклонил именно текущий токен.
func (m *Manager) Expire(ctx context.Context, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == "" || m.token != token {
		return
	}

	m.logger.Info("session credential expired")
	if err := m.logoutLocked(ctx); err != nil {
		m.logger.Error("expire session error", zap.Error(err))
		return
	}
	if m.notifier != nil {
		m.notifier.Warn("Session expired, please log in again")
	}
}

// ForgotPassword запрашивает одноразовый код и запоминает телефон для смены пароля.
func (m *Manager) ForgotPassword(ctx context.Context, phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if !validation.IsValidPhone(phone) {
		return "", validation.Invalid("phone", "malformed")
	}

	msg, err := m.remote.ForgotPassword(ctx, phone)
	if err != nil {
		return "", fmt.Errorf("forgot password: %w", err)
	}

	m.mu.Lock()
	m.resetPhone = phone
	m.mu.Unlock()
	return msg, nil
}

// ResetPasswordInput содержит данные смены пароля. Пустой телефон заменяется ранее запрошенным.
type ResetPasswordInput struct {
	Phone       string `json:"phone"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

// ResetPassword меняет пароль по одноразовому коду.
func (m *Manager) ResetPassword(ctx context.Context, in ResetPasswordInput) (string, error) {
	phone := strings.TrimSpace(in.Phone)
	if phone == "" {
		phone = m.pendingResetPhone()
	}
	if phone == "" {
		return "", ErrNoResetPhone
	}
	if !validation.IsValidOTP(in.OTP) {
		return "", validation.Invalid("otp", "malformed")
	}
	if len(in.NewPassword) < validation.MinPasswordLength {
		return "", validation.Invalid("newPassword", fmt.Sprintf("must be at least %d characters", validation.MinPasswordLength))
	}

	msg, err := m.remote.ResetPassword(ctx, api.ResetPasswordRequest{Phone: phone, OTP: in.OTP, NewPassword: in.NewPassword})
	if err != nil {
		return "", fmt.Errorf("reset password: %w", err)
	}

	m.mu.Lock()
	m.resetPhone = ""
	m.mu.Unlock()
	return msg, nil
}

// pendingResetPhone возвращает телефон, для которого запрошен код сброса пароля.
func (m *Manager) pendingResetPhone() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetPhone
}
