package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownEventType is returned when an event type name is not recognised.
var ErrUnknownEventType = errors.New("history: unknown event type")

// EventType is the closed set of lifecycle event kinds.
type EventType uint8

const (
	// EventUnknown is the zero value and never valid on an event.
	EventUnknown EventType = iota
	EventCreate
	EventRename
	EventMove
	EventAlterGroups
	EventAlterBlocks
	EventDelete
	EventRestore
)

var eventTypeNames = [...]string{
	EventUnknown:     "",
	EventCreate:      "create",
	EventRename:      "rename",
	EventMove:        "move",
	EventAlterGroups: "altergroups",
	EventAlterBlocks: "alterblocks",
	EventDelete:      "delete",
	EventRestore:     "restore",
}

// EventTypes lists every valid event type.
func EventTypes() []EventType {
	return []EventType{
		EventCreate, EventRename, EventMove,
		EventAlterGroups, EventAlterBlocks,
		EventDelete, EventRestore,
	}
}

// ParseEventType maps a wire name to its EventType.
func ParseEventType(name string) (EventType, error) {
	for _, t := range EventTypes() {
		if eventTypeNames[t] == name {
			return t, nil
		}
	}
	return EventUnknown, fmt.Errorf("%w: %q", ErrUnknownEventType, name)
}

func (t EventType) String() string {
	if int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return fmt.Sprintf("EventType(%d)", uint8(t))
}

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	return t > EventUnknown && int(t) < len(eventTypeNames)
}

// ChangesIdentity reports whether events of this type move an entity from
// one key to another.
func (t EventType) ChangesIdentity() bool {
	switch t {
	case EventRename, EventMove:
		return true
	case EventUnknown, EventCreate, EventAlterGroups, EventAlterBlocks, EventDelete, EventRestore:
		return false
	}
	return false
}

func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *EventType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if name == "" {
		*t = EventUnknown
		return nil
	}
	parsed, err := ParseEventType(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Event is an immutable lifecycle fact about one entity.
//
// For events that do not change identity OldKey and NewKey are equal.
// Groups, Blocks and BlockExpiration are only meaningful for the
// altergroups and alterblocks types; the CreatedBy flags only for create.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	OldKey    Key       `json:"old_key"`
	NewKey    Key       `json:"new_key"`
	ActorID   *int64    `json:"actor_id,omitempty"`

	Groups          []string   `json:"groups,omitempty"`
	Blocks          []string   `json:"blocks,omitempty"`
	BlockExpiration *time.Time `json:"block_expiration,omitempty"`

	CreatedBySelf   bool `json:"created_by_self,omitempty"`
	CreatedBySystem bool `json:"created_by_system,omitempty"`
	CreatedByPeer   bool `json:"created_by_peer,omitempty"`

	// SourceID is the upstream log id, kept for inspection only.
	SourceID int64 `json:"source_id,omitempty"`

	// ParsingErrors is non-empty when the upstream record could not be
	// turned into a trustworthy event. Such events never reach the engine.
	ParsingErrors []string `json:"parsing_errors,omitempty"`
}

// HasParsingErrors reports whether the event carries a parse-error marker.
func (e Event) HasParsingErrors() bool {
	return len(e.ParsingErrors) > 0
}

// Domain returns the entity domain the event belongs to.
func (e Event) Domain() string {
	if e.NewKey.Domain != "" {
		return e.NewKey.Domain
	}
	return e.OldKey.Domain
}

// Keys returns the distinct identity keys the event references.
func (e Event) Keys() []Key {
	if e.OldKey == e.NewKey {
		return []Key{e.OldKey}
	}
	return []Key{e.OldKey, e.NewKey}
}
