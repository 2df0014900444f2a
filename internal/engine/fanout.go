package engine

import (
	"context"
	"errors"

	"nodeflow/internal/core/ports"
	"nodeflow/internal/domain"
)

// FanoutSink forwards transition events to several sinks. Every sink gets
// every event; errors are joined so the caller can log them all.
type FanoutSink []ports.EventSink

func (f FanoutSink) TaskTransition(ctx context.Context, ev domain.TaskTransitionEvent) error {
	var errs []error
	for _, s := range f {
		if err := s.TaskTransition(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f FanoutSink) RunTransition(ctx context.Context, ev domain.RunTransitionEvent) error {
	var errs []error
	for _, s := range f {
		if err := s.RunTransition(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
