package db

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

var (
	ErrNotFound               = errors.New("document not found")
	ErrConcurrentModification = errors.New("document changed since it was read")
	ErrTransient              = errors.New("transient store error")
	ErrPermanent              = errors.New("permanent store error")
)

// Classify maps a driver error onto the store error taxonomy. Errors that
// already carry a class are returned unchanged.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConcurrentModification),
		errors.Is(err, ErrTransient),
		errors.Is(err, ErrPermanent):
		return err
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrPermanent, err)
	case errors.Is(err, context.DeadlineExceeded),
		mongo.IsTimeout(err),
		mongo.IsNetworkError(err),
		hasLabel(err, "RetryableWriteError"),
		hasLabel(err, "TransientTransactionError"):
		return fmt.Errorf("%w: %w", ErrTransient, err)
	default:
		return fmt.Errorf("%w: %w", ErrPermanent, err)
	}
}

// Retryable reports whether an operation that failed with err may succeed
// when attempted again.
func Retryable(err error) bool {
	err = Classify(err)
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrConcurrentModification)
}

func hasLabel(err error, label string) bool {
	var labeled mongo.LabeledError
	return errors.As(err, &labeled) && labeled.HasErrorLabel(label)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
