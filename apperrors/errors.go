package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for boundary handling. Validation, Auth and
// Conflict errors are client-fixable; Integrity errors are fatal to the
// affected flow; External errors are retryable.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuth
	KindConflict
	KindNotFound
	KindIntegrity
	KindExternal
)

// Error is the application error type carried across service boundaries.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on code so sentinel errors below work with errors.Is even
// after wrapping with additional context.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(err error, kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Validationf creates a validation error with a formatted message.
func Validationf(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Conflictf creates a state-conflict error with a formatted message.
func Conflictf(code, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Sentinel errors for the settlement flows. Compare with errors.Is.
var (
	ErrInsufficientBalance = New(KindConflict, "insufficient_balance", "insufficient balance")
	ErrNoActiveEpoch       = New(KindConflict, "no_active_epoch", "no active epoch")
	ErrSeedReuse           = New(KindConflict, "seed_reuse", "nonce already used for this epoch")
	ErrAlreadyClaimed      = New(KindConflict, "already_claimed", "position already claimed")
	ErrStillLocked         = New(KindConflict, "still_locked", "position is still locked")
	ErrEpochOpen           = New(KindConflict, "epoch_open", "bonus positions are claimable after the epoch closes")
	ErrNotFound            = New(KindNotFound, "not_found", "not found")
	ErrNotYetRevealable    = New(KindConflict, "not_yet_revealable", "seed is not revealable until the epoch closes")
	ErrActiveEpochExists   = New(KindConflict, "active_epoch_exists", "an active epoch already exists")

	ErrBadSignature     = New(KindAuth, "bad_signature", "signature verification failed")
	ErrExpiredSignature = New(KindAuth, "expired_signature", "signed message timestamp outside allowed window")

	ErrSeedHashMismatch = New(KindIntegrity, "seed_hash_mismatch", "revealed seed does not match its commitment")

	ErrChainUnavailable = New(KindExternal, "chain_unavailable", "chain RPC unavailable")
)

// KindOf returns the Kind of err, or KindExternal for unclassified errors
// so that unknown failures surface as retryable 500s rather than 400s.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindExternal
}

// CodeOf returns the machine-readable code of err, or "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// HTTPStatus maps an error kind to the status the API boundary returns.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindConflict:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindIntegrity:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
