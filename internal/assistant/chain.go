// Package assistant wraps the chat-completion providers behind an ordered
// fallback chain and implements the AI features built on it.
package assistant

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a completion request.
type Request struct {
	Messages    []Message
	Temperature float64
	// JSON asks the provider for a JSON object response.
	JSON bool
	// Validate, when set, rejects a response. A rejected response is a hard
	// failure and stops the chain.
	Validate func(text string) error
}

// Result is a completion and the provider that produced it.
type Result struct {
	Text     string
	Provider string
}

// Provider is one chat-completion backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// FailureKind classifies a provider error.
type FailureKind int

const (
	// FailureHard aborts the chain.
	FailureHard FailureKind = iota
	// FailureRateLimited and FailureUnavailable move on to the next provider.
	FailureRateLimited
	FailureUnavailable
)

func (k FailureKind) String() string {
	switch k {
	case FailureRateLimited:
		return "rate_limited"
	case FailureUnavailable:
		return "unavailable"
	}
	return "hard"
}

// ProviderError is returned by providers to classify failures.
type ProviderError struct {
	Provider string
	Kind     FailureKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Classify returns the failure kind of err. Unclassified errors are hard
// failures, except context deadlines which count as unavailability.
func Classify(err error) FailureKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureUnavailable
	}
	return FailureHard
}

// ErrNoProvider is returned when no provider could answer.
var ErrNoProvider = errors.New("no assistant provider available")

// Chain tries providers in order.
type Chain struct {
	providers []Provider
	log       *logrus.Logger
}

func NewChain(log *logrus.Logger, providers ...Provider) *Chain {
	return &Chain{providers: providers, log: log}
}

// Len returns the number of configured providers.
func (c *Chain) Len() int { return len(c.providers) }

// Complete returns the first acceptable completion. Rate limits and outages
// fall through to the next provider; any other failure is returned at once.
func (c *Chain) Complete(ctx context.Context, req Request) (*Result, error) {
	var errs []error
	for _, p := range c.providers {
		text, err := p.Complete(ctx, req)
		if err == nil && req.Validate != nil {
			if verr := req.Validate(text); verr != nil {
				err = &ProviderError{Provider: p.Name(), Kind: FailureHard, Err: fmt.Errorf("invalid response: %w", verr)}
			}
		}
		if err == nil {
			return &Result{Text: text, Provider: p.Name()}, nil
		}

		kind := Classify(err)
		c.log.WithFields(logrus.Fields{
			"provider": p.Name(),
			"failure":  kind.String(),
			"error":    err,
		}).Warn("assistant provider failed")
		if kind == FailureHard {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrNoProvider
	}
	return nil, fmt.Errorf("%w: %w", ErrNoProvider, errors.Join(errs...))
}
