package identity

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Every error returned by a Store wraps one of them.
var (
	ErrInvalidInput = errors.New("identity: invalid input")
	ErrNotFound     = errors.New("identity: not found")
	ErrConflict     = errors.New("identity: already in use")
)

// OpError carries the failing operation and a sentinel kind. Msg never
// carries secrets.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

// describe renders "op: kind[: detail]".
func describe(op string, kind error, detail string) string {
	if detail == "" {
		return fmt.Sprintf("%s: %v", op, kind)
	}
	return fmt.Sprintf("%s: %v: %s", op, kind, detail)
}

func (e OpError) Error() string { return describe(e.Op, e.Kind, e.Msg) }

func (e OpError) Unwrap() error { return e.Kind }

// ConflictError reports a uniqueness conflict on a logical field:
// "email", "phone" or "identity".
type ConflictError struct {
	Op    string
	Field string
}

func (e ConflictError) Error() string { return describe(e.Op, ErrConflict, e.Field) }

func (e ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports a missing user, device or identity.
type NotFoundError struct {
	Op       string
	Resource string
}

func (e NotFoundError) Error() string { return describe(e.Op, ErrNotFound, e.Resource) }

func (e NotFoundError) Unwrap() error { return ErrNotFound }

func invalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool { return errors.As(err, new(ConflictError)) }

// ConflictField returns the conflicting field, if err is a ConflictError.
func ConflictField(err error) string {
	var ce ConflictError
	if errors.As(err, &ce) {
		return ce.Field
	}
	return ""
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidInput reports whether err wraps ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }
