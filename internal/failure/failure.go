// Package failure classifies errors raised while talking to external
// collaborators (media hosts, generative models, the blog, the chat
// platform). Callers branch on the Kind to decide between retrying, falling
// back, absorbing, or failing a window.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind is the error taxonomy shared by the pipeline.
type Kind int

const (
	// Unknown is any error that has not been classified.
	Unknown Kind = iota
	// TransientExternal is a network, timeout or 5xx-equivalent failure.
	TransientExternal
	// RejectedByProvider is a validation or quota (4xx-equivalent) failure.
	RejectedByProvider
	// FatalCompose means no article can be produced for the window.
	FatalCompose
	// PartialMediaLoss is a non-fatal loss of one or more media items.
	PartialMediaLoss
	// FileUnreadable means a staged media file could not be opened.
	FileUnreadable
)

func (k Kind) String() string {
	switch k {
	case TransientExternal:
		return "transient_external"
	case RejectedByProvider:
		return "rejected_by_provider"
	case FatalCompose:
		return "fatal_compose"
	case PartialMediaLoss:
		return "partial_media_loss"
	case FileUnreadable:
		return "file_unreadable"
	default:
		return "unknown"
	}
}

// Error is a classified error. Op names the failing operation, e.g.
// "imgur.upload" or "analyzer.compose".
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind and op. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Transient wraps err as TransientExternal.
func Transient(op string, err error) error { return New(TransientExternal, op, err) }

// Rejected wraps err as RejectedByProvider.
func Rejected(op string, err error) error { return New(RejectedByProvider, op, err) }

// KindOf returns the outermost classified kind in err's chain. Unclassified
// timeouts and network errors count as TransientExternal.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TransientExternal
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return TransientExternal
	}
	return Unknown
}

// IsRetryable reports whether err may succeed on a later attempt.
func IsRetryable(err error) bool {
	return KindOf(err) == TransientExternal
}

// FromStatus classifies an HTTP status code returned by a provider:
// 5xx is transient, 4xx (validation, auth, quota) is a rejection.
func FromStatus(op string, status int, err error) error {
	switch {
	case status >= 500:
		return Transient(op, err)
	case status >= 400:
		return Rejected(op, err)
	default:
		return New(Unknown, op, err)
	}
}
