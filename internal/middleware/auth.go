// Package middleware содержит HTTP middleware локального API витрины.
package middleware

import (
	"context"
	"net/http"

	"github.com/mmeshcher/storefront/internal/model"
)

type contextKey string

const credentialsKey contextKey = "credentials"

// Guard сообщает учётные данные текущей сессии.
type Guard interface {
	Credentials() (model.Credentials, bool)
}

// AuthMiddleware пропускает запрос только при активной сессии покупателя.
type AuthMiddleware struct {
	guard Guard
}

// NewAuthMiddleware создаёт AuthMiddleware поверх проверки сессии.
func NewAuthMiddleware(guard Guard) *AuthMiddleware {
	return &AuthMiddleware{guard: guard}
}

// Middleware отвечает 401 в гостевом режиме и добавляет учётные данные в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creds, ok := a.guard.Credentials()
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), credentialsKey, creds)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CredentialsFromContext извлекает учётные данные сессии из контекста запроса.
func CredentialsFromContext(ctx context.Context) (model.Credentials, bool) {
	creds, ok := ctx.Value(credentialsKey).(model.Credentials)
	return creds, ok
}
