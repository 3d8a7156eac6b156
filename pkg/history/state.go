package history

import (
	"slices"
	"time"
)

// Inference tags a state that was synthesized rather than observed.
type Inference string

const (
	InferredNone     Inference = ""
	InferredUnclosed Inference = "unclosed"
	InferredConflict Inference = "conflict"
	InferredUnblock  Inference = "unblock"
)

// State is one validity interval of an entity.
//
// Snapshot inputs only populate the identity fields and the observed
// attributes; Start, End and the causal fields are filled in by
// reconstruction, and Groups, Blocks and the creation flags by the
// propagation passes.
type State struct {
	EntityID   int64 `json:"entity_id"`
	Key        Key   `json:"key"`
	CurrentKey Key   `json:"current_key"`

	Registration     *time.Time `json:"registration,omitempty"`
	GroupsHistorical []string   `json:"groups_historical,omitempty"`
	BlocksHistorical []string   `json:"blocks_historical,omitempty"`
	BlockExpiration  *time.Time `json:"block_expiration,omitempty"`

	Start           *time.Time `json:"start,omitempty"`
	End             *time.Time `json:"end,omitempty"`
	CausedBy        EventType  `json:"caused_by"`
	CausedByActorID *int64     `json:"caused_by_actor_id,omitempty"`
	InferredFrom    Inference  `json:"inferred_from,omitempty"`
	SourceID        int64      `json:"source_id,omitempty"`

	Groups          []string `json:"groups,omitempty"`
	Blocks          []string `json:"blocks,omitempty"`
	CreatedBySelf   bool     `json:"created_by_self,omitempty"`
	CreatedBySystem bool     `json:"created_by_system,omitempty"`
	CreatedByPeer   bool     `json:"created_by_peer,omitempty"`

	Anonymous bool `json:"anonymous"`
	BotByName bool `json:"bot_by_name"`
}

// NewSnapshot builds a State as observed today: the historical and current
// keys are the same and no timeline fields are set.
func NewSnapshot(entityID int64, key Key, registration *time.Time) State {
	return State{
		EntityID:     entityID,
		Key:          key,
		CurrentKey:   key,
		Registration: registration,
	}
}

// Clone returns a deep copy so callers can derive a new state without
// aliasing slices or pointers of the original.
func (s State) Clone() State {
	c := s
	c.Registration = cloneTime(s.Registration)
	c.BlockExpiration = cloneTime(s.BlockExpiration)
	c.Start = cloneTime(s.Start)
	c.End = cloneTime(s.End)
	if s.CausedByActorID != nil {
		id := *s.CausedByActorID
		c.CausedByActorID = &id
	}
	c.GroupsHistorical = slices.Clone(s.GroupsHistorical)
	c.BlocksHistorical = slices.Clone(s.BlocksHistorical)
	c.Groups = slices.Clone(s.Groups)
	c.Blocks = slices.Clone(s.Blocks)
	return c
}

// Synthesized reports whether the state was inferred rather than observed.
func (s State) Synthesized() bool {
	return s.InferredFrom != InferredNone
}

// StartsBefore orders states by start time, a nil start sorting first.
func (s State) StartsBefore(other State) bool {
	switch {
	case s.Start == nil:
		return other.Start != nil
	case other.Start == nil:
		return false
	default:
		return s.Start.Before(*other.Start)
	}
}

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time {
	return &t
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
