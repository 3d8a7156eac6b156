package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/Mindburn-Labs/timeline/pkg/history"
)

// JSONLWriter writes one JSON object per line.
type JSONLWriter struct {
	mu        sync.Mutex
	states    io.Writer
	unmatched io.Writer
}

// NewJSONLWriter writes states to states and unmatched events to
// unmatched. A nil unmatched writer drops them.
func NewJSONLWriter(states, unmatched io.Writer) *JSONLWriter {
	if unmatched == nil {
		unmatched = io.Discard
	}
	return &JSONLWriter{states: states, unmatched: unmatched}
}

func (w *JSONLWriter) WriteStates(ctx context.Context, states []history.State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return writeLines(ctx, w.states, states)
}

func (w *JSONLWriter) WriteUnmatched(ctx context.Context, events []history.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return writeLines(ctx, w.unmatched, events)
}

func writeLines[T any](ctx context.Context, w io.Writer, records []T) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i, r := range records {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return bw.Flush()
}
