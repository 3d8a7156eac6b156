package source

import (
	"fmt"
	"slices"
	"time"

	"github.com/Mindburn-Labs/timeline/pkg/history"
)

type eventRecord struct {
	Timestamp       string   `json:"timestamp"`
	Type            string   `json:"type"`
	Domain          string   `json:"domain"`
	OldName         string   `json:"old_name"`
	NewName         string   `json:"new_name"`
	ActorID         *int64   `json:"actor_id"`
	Groups          []string `json:"groups"`
	Blocks          []string `json:"blocks"`
	BlockExpiration *string  `json:"block_expiration"`
	CreatedBy       *string  `json:"created_by"`
	SourceID        int64    `json:"source_id"`
}

// event converts a schema-valid record. Values the schema cannot check,
// such as timestamps, still turn into parsing errors.
func (r eventRecord) event(line int) history.Event {
	e, problems := r.convert()
	for _, p := range problems {
		e.ParsingErrors = append(e.ParsingErrors, fmt.Sprintf("line %d: %s", line, p))
	}
	return e
}

// partial converts a record that failed validation, keeping whatever could
// be read so the error report can identify the event.
func (r eventRecord) partial(line int, err error) history.Event {
	e, _ := r.convert()
	e.ParsingErrors = []string{fmt.Sprintf("line %d: %v", line, err)}
	return e
}

func (r eventRecord) convert() (history.Event, []string) {
	var problems []string

	typ, err := history.ParseEventType(r.Type)
	if err != nil {
		problems = append(problems, err.Error())
	}

	e := history.Event{
		Type:     typ,
		OldKey:   history.NewKey(r.Domain, r.OldName),
		NewKey:   history.NewKey(r.Domain, r.OldName),
		Groups:   slices.Clone(r.Groups),
		Blocks:   slices.Clone(r.Blocks),
		SourceID: r.SourceID,
	}
	if typ.ChangesIdentity() && r.NewName != "" {
		e.NewKey = history.NewKey(r.Domain, r.NewName)
	}
	if r.ActorID != nil {
		id := *r.ActorID
		e.ActorID = &id
	}

	if ts := history.ParseTimestamp(r.Timestamp); ts != nil {
		e.Timestamp = *ts
	} else {
		problems = append(problems, fmt.Sprintf("invalid timestamp %q", r.Timestamp))
	}

	if r.BlockExpiration != nil && !e.Timestamp.IsZero() {
		e.BlockExpiration = history.ParseExpiration(*r.BlockExpiration, e.Timestamp)
	}

	if r.CreatedBy != nil {
		switch *r.CreatedBy {
		case "self":
			e.CreatedBySelf = true
		case "system":
			e.CreatedBySystem = true
		case "peer":
			e.CreatedByPeer = true
		case "":
		default:
			problems = append(problems, fmt.Sprintf("unknown created_by %q", *r.CreatedBy))
		}
	}
	return e, problems
}

type stateRecord struct {
	EntityID     int64    `json:"entity_id"`
	Domain       string   `json:"domain"`
	Name         string   `json:"name"`
	Registration *string  `json:"registration"`
	Groups       []string `json:"groups"`
	Blocks       []string `json:"blocks"`
}

func (r stateRecord) state() (history.State, error) {
	var registration *time.Time
	if r.Registration != nil && *r.Registration != "" {
		registration = history.ParseTimestamp(*r.Registration)
		if registration == nil {
			return history.State{}, fmt.Errorf("invalid registration %q", *r.Registration)
		}
	}
	s := history.NewSnapshot(r.EntityID, history.NewKey(r.Domain, r.Name), registration)
	s.GroupsHistorical = slices.Clone(r.Groups)
	s.BlocksHistorical = slices.Clone(r.Blocks)
	return s, nil
}
