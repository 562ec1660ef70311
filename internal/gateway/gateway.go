// Package gateway is the single network boundary of the extraction
// pipeline: it sends one chunk plus the fixed extraction instruction to a
// language-model provider and returns the raw reply text.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/sells-group/concept-cli/internal/model"
	"github.com/sells-group/concept-cli/internal/resilience"
)

// Gateway returns the raw model reply for one chunk.
type Gateway interface {
	Extract(ctx context.Context, req Request) (*Reply, error)
}

// Metadata is optional document context added to the prompt.
type Metadata struct {
	Title    string
	Abstract string
	Keywords []string
}

// Request is one chunk to extract from.
type Request struct {
	DocumentID string
	ChunkIndex int
	Text       string
	Metadata   Metadata
}

// Reply is the untrusted raw text returned by the model.
type Reply struct {
	Text   string
	Model  string
	Usage  model.TokenUsage
	Cached bool
}

// Kind classifies gateway failures.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindUpstream    Kind = "upstream"
	KindRateLimited Kind = "rate_limited"
	KindCircuitOpen Kind = "circuit_open"
	KindCanceled    Kind = "canceled"
)

// Error is the only error type returned by Gateway implementations.
type Error struct {
	Provider string
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway: %s %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a gateway *Error of kind k.
func IsKind(err error, k Kind) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == k
}

// classify maps a provider call failure to a typed *Error. ctx is the
// caller's context, used to tell cancellation apart from call timeouts.
func classify(ctx context.Context, provider string, err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}

	kind := KindUpstream
	var te *resilience.TransientError
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		kind = KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, resilience.ErrCircuitOpen):
		kind = KindCircuitOpen
	case errors.As(err, &te) && te.StatusCode == 429:
		kind = KindRateLimited
	case errors.Is(err, context.Canceled):
		kind = KindCanceled
	}
	return &Error{Provider: provider, Kind: kind, Err: err}
}
