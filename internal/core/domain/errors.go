package domain

import (
	"errors"
	"fmt"
)

// Failure taxonomy for the pipeline. Only embedding, retrieval-store, and
// generation failures may fail an overall request; cache and interaction-log
// failures are recovered locally by their adapters.
var (
	ErrEmbedding      = errors.New("embedding provider failure")
	ErrRetrievalStore = errors.New("retrieval store failure")
	ErrGeneration     = errors.New("generation failure")
	ErrCache          = errors.New("cache failure")
	ErrInvalidInput   = errors.New("invalid input")
	ErrTemporary      = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
