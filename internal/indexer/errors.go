package indexer

import (
	"errors"
	"fmt"
)

// ErrStateStore marks a state store failure. The engine cannot keep its
// bookkeeping consistent after one, so callers must stop.
var ErrStateStore = errors.New("state store failure")

func stateErr(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrStateStore, op, path, err)
}
