package ledger

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every store implementation and the coordinator.
// Stores wrap these with context; callers match with errors.Is.
var (
	ErrValidation        = errors.New("invalid input")
	ErrAuthentication    = errors.New("user not logged in")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotFound          = errors.New("not found")
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrAlreadySold       = errors.New("already sold")
	ErrPersistence       = errors.New("storage unavailable")
)

// Category groups errors by what the caller can do about them.
type Category int

const (
	CategoryInternal Category = iota // try again later
	CategoryInvalid                  // fix your input
	CategoryUnauthenticated
	CategoryNotFound
	CategoryConflict // not possible in the current state
)

// Classify maps an error onto a Category. Unknown errors are internal.
func Classify(err error) Category {
	switch {
	case err == nil:
		return CategoryInternal
	case errors.Is(err, ErrValidation):
		return CategoryInvalid
	case errors.Is(err, ErrAuthentication):
		return CategoryUnauthenticated
	case errors.Is(err, ErrNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrAlreadySold),
		errors.Is(err, ErrDuplicateKey):
		return CategoryConflict
	default:
		return CategoryInternal
	}
}

// IsBusiness reports whether err is a rule rejection rather than a storage fault.
func IsBusiness(err error) bool {
	return Classify(err) != CategoryInternal
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Persistence wraps a storage driver error so it classifies as internal while
// keeping the driver error reachable through errors.Is/As.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsBusiness(err) || errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
