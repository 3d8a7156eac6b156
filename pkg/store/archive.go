package store

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/timeline/pkg/artifacts"
	"github.com/Mindburn-Labs/timeline/pkg/history"
)

// Archive describes one blob written by an ArchiveWriter.
type Archive struct {
	Kind    string `json:"kind"`
	Hash    string `json:"hash"`
	Records int    `json:"records"`
}

// ArchiveWriter stores each output batch as a JSONL blob in an artifact
// store and records the content hashes.
type ArchiveWriter struct {
	store artifacts.Store

	mu       sync.Mutex
	archives []Archive
}

// NewArchiveWriter creates a writer on top of store.
func NewArchiveWriter(store artifacts.Store) *ArchiveWriter {
	return &ArchiveWriter{store: store}
}

func (w *ArchiveWriter) WriteStates(ctx context.Context, states []history.State) error {
	return archive(ctx, w, "states", states)
}

func (w *ArchiveWriter) WriteUnmatched(ctx context.Context, events []history.Event) error {
	return archive(ctx, w, "unmatched", events)
}

// Archives returns the blobs written so far, in write order.
func (w *ArchiveWriter) Archives() []Archive {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Archive(nil), w.archives...)
}

func archive[T any](ctx context.Context, w *ArchiveWriter, kind string, records []T) error {
	var buf bytes.Buffer
	if err := writeLines(ctx, &buf, records); err != nil {
		return err
	}
	hash, err := w.store.Store(ctx, buf.Bytes())
	if err != nil {
		return fmt.Errorf("archive %s: %w", kind, err)
	}

	w.mu.Lock()
	w.archives = append(w.archives, Archive{Kind: kind, Hash: hash, Records: len(records)})
	w.mu.Unlock()
	return nil
}
