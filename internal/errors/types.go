package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind is the closed set of error classifications used across the pipeline.
// Collaborator boundaries return a tagged kind directly; nothing in the
// system infers a category from free-text messages.
type Kind string

const (
	// KindInvalidInput - malformed or missing request input
	KindInvalidInput Kind = "invalid_input"
	// KindSourceNotFound - a task references an object that does not exist in storage
	KindSourceNotFound Kind = "source_not_found"
	// KindTimeout - an external call exceeded its configured bound
	KindTimeout Kind = "timeout"
	// KindNetwork - transport-level failure before a response was received
	KindNetwork Kind = "network"
	// KindRejected - the storage backend refused a credential (expired, wrong scope)
	KindRejected Kind = "rejected"
	// KindProvider - an AI collaborator returned an error response
	KindProvider Kind = "provider"
	// KindStorage - the storage backend failed while handling a valid request
	KindStorage Kind = "storage"
	// KindTaskNotFound - unknown or evicted task id
	KindTaskNotFound Kind = "task_not_found"
	// KindTaskTerminal - mutation attempted on a completed or failed task
	KindTaskTerminal Kind = "task_terminal"
	// KindInternal - invariant violation or unclassified failure
	KindInternal Kind = "internal"
)

// E carries a kind, the operation that failed, and the underlying cause.
type E struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *E) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, string(e.Kind))
	}
}

func (e *E) Unwrap() error {
	return e.Err
}

// New creates a tagged error without an underlying cause.
func New(kind Kind, op string, message string) *E {
	return &E{Kind: kind, Op: op, Message: message}
}

// Wrap tags an underlying error with a kind and operation.
func Wrap(kind Kind, op string, err error) *E {
	return &E{Kind: kind, Op: op, Err: err}
}

// Wrapf tags an underlying error and attaches a formatted message.
func Wrapf(kind Kind, op string, err error, format string, args ...any) *E {
	return &E{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf classifies err. Context deadline expiry and net timeouts map to
// KindTimeout, other transport errors to KindNetwork; anything untagged is
// KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetwork
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Detail returns the message a client should see: the tagged message when
// present, otherwise the underlying error text.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var e *E
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		if e.Err != nil {
			return e.Err.Error()
		}
		return string(e.Kind)
	}
	return err.Error()
}
