// Package strategy runs ordered, named fallbacks.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrExhausted is returned when every strategy in a chain failed.
var ErrExhausted = errors.New("all strategies exhausted")

// ErrSkip lets a strategy decline without it counting as a failure.
var ErrSkip = errors.New("strategy not applicable")

// Strategy is one named attempt at producing a T.
type Strategy[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Result carries the value and the name of the strategy that produced it.
type Result[T any] struct {
	Value  T
	Source string
}

// Chain is an ordered list of strategies tried until one succeeds.
type Chain[T any] []Strategy[T]

// Run tries each strategy in order. It stops early when ctx is done.
// On exhaustion the error wraps ErrExhausted and every strategy error.
func (c Chain[T]) Run(ctx context.Context) (Result[T], error) {
	errs := []error{ErrExhausted}
	for _, s := range c {
		if err := ctx.Err(); err != nil {
			return Result[T]{}, err
		}
		v, err := s.Run(ctx)
		if err == nil {
			return Result[T]{Value: v, Source: s.Name}, nil
		}
		if errors.Is(err, ErrSkip) {
			continue
		}
		slog.Debug("strategy failed", "strategy", s.Name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
	}
	return Result[T]{}, errors.Join(errs...)
}

// Names lists the strategy names in order.
func (c Chain[T]) Names() []string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = s.Name
	}
	return names
}
