package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Mindburn-Labs/timeline/pkg/history"
	"github.com/Mindburn-Labs/timeline/pkg/source"
)

type inputs struct {
	events      []history.Event
	states      []history.State
	stateErrors []*source.LineError
}

func readInputs(ctx context.Context, eventsPath, statesPath string) (*inputs, error) {
	reader, err := source.NewReader()
	if err != nil {
		return nil, err
	}

	ef, err := os.Open(eventsPath) //nolint:gosec // path supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("open events: %w", err)
	}
	defer func() { _ = ef.Close() }()
	events, err := reader.ReadEvents(ctx, ef)
	if err != nil {
		return nil, fmt.Errorf("read events %s: %w", eventsPath, err)
	}

	sf, err := os.Open(statesPath) //nolint:gosec // path supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("open states: %w", err)
	}
	defer func() { _ = sf.Close() }()
	states, bad, err := reader.ReadStates(ctx, sf)
	if err != nil {
		return nil, fmt.Errorf("read states %s: %w", statesPath, err)
	}

	return &inputs{events: events, states: states, stateErrors: bad}, nil
}
