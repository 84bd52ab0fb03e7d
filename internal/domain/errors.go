package domain

import "errors"

// Kind classifies rejections so callers can discriminate causes without
// string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindTiming
	KindMarketCondition
	KindReplay
	KindInfrastructure
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindTiming:
		return "timing"
	case KindMarketCondition:
		return "market_condition"
	case KindReplay:
		return "replay"
	case KindInfrastructure:
		return "infrastructure"
	default:
		return "unknown"
	}
}

// RetriableError defines an interface for errors that can be retried by the caller.
// The engine itself never retries.
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// Error is a rejection with a stable code. Values are sentinels: compare with errors.Is.
type Error struct {
	Kind Kind
	Code string
}

func (e *Error) Error() string {
	return e.Code
}

// IsRetriable reports whether resubmitting later may succeed.
func (e *Error) IsRetriable() bool {
	return e.Kind == KindTiming || e.Kind == KindMarketCondition
}

func newError(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

var (
	// Validation: bad creation parameters.
	ErrInvalidSize       = newError(KindValidation, "invalid size")
	ErrSliceTooLarge     = newError(KindValidation, "slice too large")
	ErrIntervalTooShort  = newError(KindValidation, "interval too short")
	ErrTooManySlices     = newError(KindValidation, "too many slices")
	ErrInvalidPriceRange = newError(KindValidation, "invalid price range")
	ErrEmptyBatch        = newError(KindValidation, "empty batch")
	ErrBatchNotFound     = newError(KindValidation, "batch not found")

	// Authorization: messages never reveal which sub-check failed.
	ErrInvalidSecret = newError(KindAuthorization, "invalid secret")
	ErrNotOwner      = newError(KindAuthorization, "not owner")
	ErrInvalidProof  = newError(KindAuthorization, "invalid proof")

	// Terminal state: the order was completed or cancelled.
	ErrNotActive = newError(KindValidation, "order not active")

	// Timing
	ErrTooEarly       = newError(KindTiming, "too early")
	ErrRevealTooEarly = newError(KindTiming, "reveal too early")
	ErrRevealExpired  = newError(KindTiming, "reveal expired")
	ErrInvalidReveal  = newError(KindAuthorization, "invalid reveal")

	// Market conditions: the order stays pending.
	ErrPriceOutOfRange    = newError(KindMarketCondition, "price out of range")
	ErrInsufficientMargin = newError(KindMarketCondition, "insufficient margin")

	// Replay
	ErrAlreadyCommitted = newError(KindReplay, "already committed")
	ErrNullifierReused  = newError(KindReplay, "nullifier reused")
	ErrAlreadyCompleted = newError(KindReplay, "already completed")
)

// CollaboratorError wraps a failure of an external collaborator
// (oracle, margin, venue, proof verifier). Propagated as-is, never retried inside the core.
type CollaboratorError struct {
	Collaborator string // "oracle", "margin", "venue", "verifier", "conditions"
	Op           string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return e.Collaborator + " " + e.Op + ": " + e.Err.Error()
}

func (e *CollaboratorError) IsRetriable() bool {
	return true
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// NewCollaboratorError creates an infrastructure error for collaborator c.
func NewCollaboratorError(c, op string, err error) *CollaboratorError {
	return &CollaboratorError{Collaborator: c, Op: op, Err: err}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// KindOf returns the rejection kind of err.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return KindInfrastructure
	}
	var cfg *ConfigError
	if errors.As(err, &cfg) {
		return KindValidation
	}
	return KindUnknown
}
