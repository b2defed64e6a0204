package domain

import (
	"errors"
	"fmt"
)

// Kind — стабильный код ошибки на проводе.
type Kind string

const (
	KindUnauthorized     Kind = "UNAUTHORIZED"
	KindRateLimited      Kind = "RATE_LIMITED"
	KindInvalidArgument  Kind = "INVALID_ARGUMENT"
	KindDeadlineExceeded Kind = "DEADLINE_EXCEEDED"
	KindInternal         Kind = "INTERNAL"
	KindUnavailable      Kind = "UNAVAILABLE"
)

// Error несёт код для клиента и человекочитаемое описание.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap возвращает обёрнутую причину.
func (e *Error) Unwrap() error {
	return e.cause
}

// E создаёт ошибку с кодом.
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Ef создаёт ошибку с кодом и форматированным описанием.
func Ef(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapE оборачивает причину, сохраняя код и описание для клиента.
func WrapE(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf извлекает код из цепочки ошибок; для посторонних ошибок — INTERNAL.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// MessageOf извлекает описание для клиента из цепочки ошибок.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "внутренняя ошибка"
}
