package api

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthorized возвращается, если сервер отклонил учётные данные сессии.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound возвращается, если сервер не знает запрошенный товар.
	ErrNotFound = errors.New("not found")
)

// RemoteError описывает отказ удалённого API: ответ не 2xx, success=false или сбой транспорта.
type RemoteError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	switch {
	case e.Message != "" && e.StatusCode != 0:
		return fmt.Sprintf("remote error: status %d: %s", e.StatusCode, e.Message)
	case e.Message != "":
		return "remote error: " + e.Message
	case e.Err != nil:
		return fmt.Sprintf("remote error: %v", e.Err)
	default:
		return fmt.Sprintf("remote error: status %d", e.StatusCode)
	}
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Message возвращает сообщение сервера из ошибки, если оно есть, иначе fallback.
func Message(err error, fallback string) string {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) && remoteErr.Message != "" {
		return remoteErr.Message
	}
	return fallback
}

// IsUnauthorized сообщает, что ошибка означает истёкшие или отозванные учётные данные.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// Сервер витрины сообщает о невалидном токене ответом 200 с success=false.
func isAuthFailureMessage(msg string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(msg)), "not authorized")
}
