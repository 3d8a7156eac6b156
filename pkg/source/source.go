// Package source reads lifecycle events and snapshots from JSON Lines.
//
// Every line is validated against a JSON Schema before it is decoded. An
// event line that fails becomes an Event carrying ParsingErrors, so callers
// can report it alongside the rest of the run; a state line that fails is
// returned as a LineError.
package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/timeline/pkg/history"
)

const maxLineBytes = 4 << 20

// LineError describes an input line that could not be used.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Reader decodes event and state records.
type Reader struct {
	events *jsonschema.Schema
	states *jsonschema.Schema
	logger *slog.Logger
}

// NewReader compiles the record schemas.
func NewReader() (*Reader, error) {
	events, err := compile("event", eventSchema)
	if err != nil {
		return nil, err
	}
	states, err := compile("state", stateSchema)
	if err != nil {
		return nil, err
	}
	return &Reader{
		events: events,
		states: states,
		logger: slog.Default().With("component", "source"),
	}, nil
}

func compile(name, schema string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://timeline.schemas.local/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("%s schema load failed: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("%s schema compile failed: %w", name, err)
	}
	return compiled, nil
}

// ReadEvents decodes every event line of r.
func (r *Reader) ReadEvents(ctx context.Context, in io.Reader) ([]history.Event, error) {
	var events []history.Event
	err := eachLine(ctx, in, func(n int, line []byte) {
		var rec eventRecord
		if err := r.decode(r.events, line, &rec); err != nil {
			events = append(events, rec.partial(n, err))
			return
		}
		events = append(events, rec.event(n))
	})
	if err != nil {
		return nil, err
	}

	var broken int
	for _, e := range events {
		if e.HasParsingErrors() {
			broken++
		}
	}
	r.logger.DebugContext(ctx, "events read", "events", len(events), "parse_errors", broken)
	return events, nil
}

// ReadStates decodes every state line of r. Lines that fail are returned
// separately and do not stop reading.
func (r *Reader) ReadStates(ctx context.Context, in io.Reader) ([]history.State, []*LineError, error) {
	var (
		states []history.State
		bad    []*LineError
	)
	err := eachLine(ctx, in, func(n int, line []byte) {
		var rec stateRecord
		if err := r.decode(r.states, line, &rec); err != nil {
			bad = append(bad, &LineError{Line: n, Err: err})
			return
		}
		st, err := rec.state()
		if err != nil {
			bad = append(bad, &LineError{Line: n, Err: err})
			return
		}
		states = append(states, st)
	})
	if err != nil {
		return nil, nil, err
	}
	r.logger.DebugContext(ctx, "states read", "states", len(states), "errors", len(bad))
	return states, bad, nil
}

// decode validates line against schema and unmarshals it into v. When the
// line is valid JSON but fails validation, v is still filled in as far as
// possible.
func (r *Reader) decode(schema *jsonschema.Schema, line []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if dec.More() {
		return errors.New("invalid json: trailing data after object")
	}

	if err := schema.Validate(doc); err != nil {
		_ = json.Unmarshal(line, v) // best effort, for error reporting
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("schema validation failed: %s", describe(verr))
		}
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

// describe flattens a validation error into its leaf messages.
func describe(verr *jsonschema.ValidationError) string {
	if len(verr.Causes) == 0 {
		loc := verr.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return fmt.Sprintf("%s: %s", loc, verr.Message)
	}
	msgs := make([]string, 0, len(verr.Causes))
	for _, c := range verr.Causes {
		msgs = append(msgs, describe(c))
	}
	return strings.Join(msgs, "; ")
}

func eachLine(ctx context.Context, in io.Reader, fn func(n int, line []byte)) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	n := 0
	for scanner.Scan() {
		n++
		if n%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		fn(n, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read line %d: %w", n+1, err)
	}
	return ctx.Err()
}
