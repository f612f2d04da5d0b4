// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	"github.com/mmeshcher/storefront/internal/model"
)

// ErrInvalid служит общим признаком ошибки валидации, проверяется через errors.Is.
var ErrInvalid = errors.New("validation failed")

// Error описывает некорректное значение конкретного поля.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *Error) Unwrap() error {
	return ErrInvalid
}

// Invalid создаёт ошибку валидации поля.
func Invalid(field, reason string) error {
	return &Error{Field: field, Reason: reason}
}

// IsValidPhone проверяет номер телефона: необязательный «+» и от 7 до 15 цифр.
func IsValidPhone(phone string) bool {
	phone = strings.TrimPrefix(strings.TrimSpace(phone), "+")
	if len(phone) < 7 || len(phone) > 15 {
		return false
	}
	for _, ch := range phone {
		if !unicode.IsDigit(ch) {
			return false
		}
	}
	return true
}

// IsValidEmail проверяет адрес электронной почты.
func IsValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// IsValidOTP проверяет одноразовый код: от 4 до 8 цифр.
func IsValidOTP(otp string) bool {
	if len(otp) < 4 || len(otp) > 8 {
		return false
	}
	for _, ch := range otp {
		if !unicode.IsDigit(ch) {
			return false
		}
	}
	return true
}

// MinPasswordLength задаёт минимальную длину пароля.
const MinPasswordLength = 8

// Address проверяет адрес доставки. Поле State необязательно.
func Address(a model.Address) error {
	required := []struct {
		field string
		value string
	}{
		{"firstName", a.FirstName},
		{"lastName", a.LastName},
		{"email", a.Email},
		{"street", a.Street},
		{"city", a.City},
		{"zipcode", a.Zipcode},
		{"country", a.Country},
		{"phone", a.Phone},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return Invalid(r.field, "required")
		}
	}
	if !IsValidEmail(a.Email) {
		return Invalid("email", "malformed")
	}
	if !IsValidPhone(a.Phone) {
		return Invalid("phone", "malformed")
	}
	return nil
}

// Login проверяет учётные данные для входа.
func Login(email, password string) error {
	if !IsValidEmail(email) {
		return Invalid("email", "malformed")
	}
	if password == "" {
		return Invalid("password", "required")
	}
	return nil
}

// Registration проверяет поля регистрации.
func Registration(name, email, phone, password string) error {
	if strings.TrimSpace(name) == "" {
		return Invalid("name", "required")
	}
	if !IsValidEmail(email) {
		return Invalid("email", "malformed")
	}
	if !IsValidPhone(phone) {
		return Invalid("phone", "malformed")
	}
	if len(password) < MinPasswordLength {
		return Invalid("password", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	return nil
}
