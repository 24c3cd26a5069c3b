package osmdoc

import (
	"errors"
	"fmt"
)

var (
	// ErrNoActiveWay is returned by way-mutating calls made outside a
	// BeginWay/EndWay pair.
	ErrNoActiveWay = errors.New("osmdoc: no active way")

	// ErrUnknownNode is returned when a way references a node that is not
	// in the registry.
	ErrUnknownNode = errors.New("osmdoc: unknown node")

	// ErrNoRoot is returned when a parsed document has no root element.
	ErrNoRoot = errors.New("osmdoc: document has no root element")
)

// PreconditionError reports a builder operation invoked in the wrong state.
// The document is left unchanged when it is returned.
type PreconditionError struct {
	Op string
}

// Error implements the error interface.
func (e *PreconditionError) Error() string {
	return fmt.Sprintf("osmdoc: %s called outside BeginWay/EndWay", e.Op)
}

// Unwrap makes errors.Is(err, ErrNoActiveWay) hold.
func (e *PreconditionError) Unwrap() error {
	return ErrNoActiveWay
}
