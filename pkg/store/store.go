// Package store persists reconstruction output.
package store

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/timeline/pkg/history"
)

// Writer receives the output of a run.
type Writer interface {
	WriteStates(ctx context.Context, states []history.State) error
	WriteUnmatched(ctx context.Context, events []history.Event) error
}

// Multi fans output out to several writers, stopping at the first error.
type Multi []Writer

func (m Multi) WriteStates(ctx context.Context, states []history.State) error {
	for _, w := range m {
		if err := w.WriteStates(ctx, states); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) WriteUnmatched(ctx context.Context, events []history.Event) error {
	for _, w := range m {
		if err := w.WriteUnmatched(ctx, events); err != nil {
			return err
		}
	}
	return nil
}

// Write sends a full run output to w.
func Write(ctx context.Context, w Writer, states []history.State, unmatched []history.Event) error {
	return errors.Join(w.WriteStates(ctx, states), w.WriteUnmatched(ctx, unmatched))
}
