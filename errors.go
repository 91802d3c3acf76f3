package chatsync

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a ChatError.
type ErrorKind string

const (
	KindNetwork          ErrorKind = "NetworkError"
	KindServer           ErrorKind = "ServerError"
	KindValidation       ErrorKind = "ValidationError"
	KindNotAuthenticated ErrorKind = "NotAuthenticated"
)

// ChatError is the error type surfaced by gateways, stores and the send
// pipeline.
type ChatError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *ChatError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, msg)
	}
	return string(e.Kind) + ": " + msg
}

func (e *ChatError) Unwrap() error { return e.Err }

// Is matches any ChatError of the same kind, so the sentinels below work with
// errors.Is.
func (e *ChatError) Is(target error) bool {
	t, ok := target.(*ChatError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Status == 0 && t.Err == nil
}

var (
	ErrNetwork          = &ChatError{Kind: KindNetwork}
	ErrServer           = &ChatError{Kind: KindServer}
	ErrValidation       = &ChatError{Kind: KindValidation}
	ErrNotAuthenticated = &ChatError{Kind: KindNotAuthenticated}
)

func networkError(err error) *ChatError {
	return &ChatError{Kind: KindNetwork, Message: "request failed", Err: err}
}

func serverError(status int, message string) *ChatError {
	if message == "" {
		message = "unexpected server response"
	}
	return &ChatError{Kind: KindServer, Status: status, Message: message}
}

func validationError(message string) *ChatError {
	return &ChatError{Kind: KindValidation, Message: message}
}

func notAuthenticated(action string) *ChatError {
	return &ChatError{Kind: KindNotAuthenticated, Message: action + " requires a signed-in user"}
}

// normalizeError turns anything a gateway returns into a ChatError. Errors that
// are already typed pass through; deadlines and transport failures become
// network errors; the rest are treated as server errors.
func normalizeError(err error) *ChatError {
	if err == nil {
		return nil
	}
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &ne) {
		return networkError(err)
	}
	return &ChatError{Kind: KindServer, Message: err.Error(), Err: err}
}
