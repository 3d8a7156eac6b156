package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
)

type validationReport struct {
	Events      int      `json:"events"`
	States      int      `json:"states"`
	EventErrors []string `json:"event_errors"`
	StateErrors []string `json:"state_errors"`
	Valid       bool     `json:"valid"`
}

// runValidateCmd implements `timeline validate`: it parses both inputs and
// reports the records that could not be parsed, without reconstructing.
func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		eventsPath string
		statesPath string
		jsonOutput bool
	)
	cmd.StringVar(&eventsPath, "events", "", "Path to the events JSONL file (REQUIRED)")
	cmd.StringVar(&statesPath, "states", "", "Path to the states JSONL file (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if eventsPath == "" || statesPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --events and --states are required")
		return 2
	}

	in, err := readInputs(context.Background(), eventsPath, statesPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	report := validationReport{
		Events:      len(in.events),
		States:      len(in.states) + len(in.stateErrors),
		EventErrors: []string{},
		StateErrors: []string{},
	}
	for _, e := range in.events {
		report.EventErrors = append(report.EventErrors, e.ParsingErrors...)
	}
	for _, e := range in.stateErrors {
		report.StateErrors = append(report.StateErrors, e.Error())
	}
	report.Valid = len(report.EventErrors) == 0 && len(report.StateErrors) == 0

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
	} else {
		for _, msg := range report.EventErrors {
			_, _ = fmt.Fprintf(stdout, "events: %s\n", msg)
		}
		for _, msg := range report.StateErrors {
			_, _ = fmt.Fprintf(stdout, "states: %s\n", msg)
		}
		_, _ = fmt.Fprintf(stdout, "%d events, %d states, %d errors\n",
			report.Events, report.States, len(report.EventErrors)+len(report.StateErrors))
	}

	if !report.Valid {
		return 1
	}
	return 0
}
