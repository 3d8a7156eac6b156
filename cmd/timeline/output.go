package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Mindburn-Labs/timeline/pkg/artifacts"
	"github.com/Mindburn-Labs/timeline/pkg/config"
	"github.com/Mindburn-Labs/timeline/pkg/store"
)

// applyOut points the output at --out: a database URL or a .db file selects
// the sql driver, anything else is a JSONL directory.
func applyOut(cfg *config.Config, out string) {
	if out == "" {
		return
	}
	lower := strings.ToLower(out)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"),
		strings.HasPrefix(lower, "sqlite://"), strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"):
		cfg.Output.Driver = config.DriverSQL
		cfg.Output.DSN = out
	default:
		cfg.Output.Driver = config.DriverJSONL
		cfg.Output.Dir = out
	}
}

// sink is an opened output with the resources to release afterwards.
type sink struct {
	writer   store.Writer
	archive  *store.ArchiveWriter
	location string
	closers  []func() error
}

func (s *sink) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func openSink(ctx context.Context, cfg *config.Config, runID string) (*sink, error) {
	s := &sink{}
	var writers store.Multi

	switch cfg.Output.Driver {
	case config.DriverSQL:
		db, err := store.Open(ctx, cfg.Output.DSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		writers = append(writers, db.WithRunID(runID))
		dialect, _ := store.ParseDSN(cfg.Output.DSN)
		s.location = string(dialect)
	case config.DriverJSONL:
		//nolint:gosec // G301: output is meant to be shared
		if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
		states, err := os.Create(filepath.Join(cfg.Output.Dir, "states.jsonl"))
		if err != nil {
			return nil, fmt.Errorf("create states output: %w", err)
		}
		s.closers = append(s.closers, states.Close)
		unmatched, err := os.Create(filepath.Join(cfg.Output.Dir, "unmatched.jsonl"))
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("create unmatched output: %w", err)
		}
		s.closers = append(s.closers, unmatched.Close)
		writers = append(writers, store.NewJSONLWriter(states, unmatched))
		s.location = cfg.Output.Dir
	default:
		return nil, fmt.Errorf("unknown output driver %q", cfg.Output.Driver)
	}

	if cfg.Output.Archive {
		blobs, err := artifacts.NewStore(ctx, cfg.Artifacts)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("open artifact store: %w", err)
		}
		s.archive = store.NewArchiveWriter(blobs)
		writers = append(writers, s.archive)
	}

	s.writer = writers
	return s, nil
}
