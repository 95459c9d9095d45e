package kapton

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrInvalidDocument is matched by every *InvalidDocumentError.
	ErrInvalidDocument = errors.New("kapton: invalid document")

	// ErrInvalidOptions is returned when a value cannot be decoded into Options.
	ErrInvalidOptions = errors.New("kapton: invalid options")

	// ErrNoWatcher is returned by Init when options are read from a path but
	// the host cannot report changes on it.
	ErrNoWatcher = errors.New("kapton: host does not support watching option paths")

	// ErrOverlappingPath is returned by Init when the options path is related
	// to the property the binding publishes onto.
	ErrOverlappingPath = errors.New("kapton: options path overlaps the published property")
)

// InvalidDocumentError reports a document that cannot be bound: it is absent,
// malformed, or does not hold exactly one operation.
type InvalidDocumentError struct {
	Reason string

	Queries       int
	Mutations     int
	Subscriptions int
	Fragments     int

	// Err is the parser error, when the document failed to parse.
	Err error
}

func (e *InvalidDocumentError) Error() string {
	var b strings.Builder
	b.WriteString("kapton: invalid document: ")
	b.WriteString(e.Reason)
	if e.Queries+e.Mutations+e.Subscriptions+e.Fragments > 0 {
		fmt.Fprintf(&b, " (%d queries, %d mutations, %d subscriptions, %d fragments)",
			e.Queries, e.Mutations, e.Subscriptions, e.Fragments)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *InvalidDocumentError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrInvalidDocument) hold for any InvalidDocumentError.
func (e *InvalidDocumentError) Is(target error) bool {
	return target == ErrInvalidDocument
}

// StreamError is an error emitted by a live subscription. It never stops the
// binding; it is logged and handed to the configured error handler and channel.
type StreamError struct {
	Binding   uuid.UUID
	Operation string
	Type      OperationType
	Err       error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("kapton: %s %s: stream error: %v", e.Type, e.Operation, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
