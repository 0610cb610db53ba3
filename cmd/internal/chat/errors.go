package chat

import (
	"context"
	"errors"
	"fmt"

	"courier/cmd/identity"
)

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	// ErrInvalidArgument: malformed id, cursor or limit. Fails before any store access.
	ErrInvalidArgument = identity.ErrInvalidArgument
	// ErrNotFound: a single-conversation lookup for a conversation that was never created.
	ErrNotFound = errors.New("not_found")
	// ErrStoreUnavailable: transient backend failure. The whole operation may be retried.
	ErrStoreUnavailable = errors.New("store_unavailable")
)

// OpError is a typed operation error with a stable Op + Kind contract.
// Err (optional) is the backend cause; both Kind and Err are reachable via errors.Is/As.
type OpError struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e OpError) Error() string {
	s := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// PartialWriteError reports a send whose message is durable but whose per-user
// index rows and/or conversation metadata could not be written.
// It is not a failure of the send: Message is valid and must not be re-sent.
type PartialWriteError struct {
	Message Message
	Err     error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("chat.SendMessage: partial write for message %s: %v", e.Message.ID, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

func invalidArgument(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidArgument, Msg: msg}
}

// storeError classifies a backend error. Context errors are returned unchanged so
// callers can tell their own cancellation apart from a store outage.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var oe OpError
	if errors.As(err, &oe) {
		return err
	}
	return OpError{Op: op, Kind: ErrStoreUnavailable, Err: err}
}

// IsInvalidArgument reports whether err represents ErrInvalidArgument.
func IsInvalidArgument(err error) bool { return errors.Is(err, ErrInvalidArgument) }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsStoreUnavailable reports whether err represents ErrStoreUnavailable.
func IsStoreUnavailable(err error) bool { return errors.Is(err, ErrStoreUnavailable) }

// IsPartialWrite reports whether err is a PartialWriteError and returns it.
func IsPartialWrite(err error) (*PartialWriteError, bool) {
	var pe *PartialWriteError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
