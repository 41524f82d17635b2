package handshake

import (
	"errors"
	"fmt"
	"net/http"
)

// Status classes.
var (
	ErrNotFound           = errors.New("subscription not found")
	ErrConflict           = errors.New("device already bound")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// StatusError is a non-201 subscribe response.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("subscribe rejected %d: %s", e.StatusCode, e.class())
}

// Is matches the status class sentinel.
func (e *StatusError) Is(target error) bool {
	return target == e.class()
}

func (e *StatusError) class() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	default:
		return ErrInvalidCredentials
	}
}

// IsRecoverable reports whether a handshake may simply be retried later.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsFatal reports whether the relay rejected the subscription outright.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidCredentials)
}
