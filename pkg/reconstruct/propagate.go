package reconstruct

import (
	"slices"
	"time"

	"github.com/Mindburn-Labs/timeline/pkg/history"
)

// Every pass takes one entity's states in ascending start order and returns
// a new slice; inputs are never modified.

// propagateBlocks carries the effective block set forward, adopting the
// values of states opened by a block alteration. A block whose expiration
// passed before now and before the end of the state carrying it splits that
// state: the remainder starts at the expiration with no blocks. The last
// effective block set is then broadcast to every state.
func propagateBlocks(states []history.State, now time.Time) []history.State {
	if len(states) == 0 {
		return nil
	}
	out := make([]history.State, 0, len(states))

	blocks := slices.Clone(states[0].BlocksHistorical)
	expiration := states[0].BlockExpiration

	for i, in := range states {
		s := in.Clone()
		if i > 0 && s.CausedBy == history.EventAlterBlocks && !s.Synthesized() {
			blocks = slices.Clone(s.BlocksHistorical)
			expiration = s.BlockExpiration
		}
		s.BlocksHistorical = slices.Clone(blocks)
		s.BlockExpiration = cloneTimePtr(expiration)

		if !expiresWithin(expiration, s, now) {
			out = append(out, s)
			continue
		}

		at := *expiration
		blocks, expiration = nil, nil

		if s.Start != nil && !at.After(*s.Start) {
			// Expired before this state opened; nothing is left to split.
			s.BlocksHistorical = nil
			s.BlockExpiration = nil
			out = append(out, s)
			continue
		}

		head := s
		head.End = history.TimePtr(at)
		out = append(out, head)

		tail := s.Clone()
		tail.Start = history.TimePtr(at)
		tail.End = cloneTimePtr(s.End)
		tail.BlocksHistorical = nil
		tail.BlockExpiration = nil
		tail.CausedBy = history.EventAlterBlocks
		tail.CausedByActorID = nil
		tail.SourceID = 0
		tail.InferredFrom = history.InferredUnblock
		out = append(out, tail)
	}

	last := out[len(out)-1].BlocksHistorical
	for i := range out {
		out[i].Blocks = slices.Clone(last)
	}
	return out
}

// expiresWithin reports whether a concrete expiration already passed at now
// and falls no later than the end of s.
func expiresWithin(expiration *time.Time, s history.State, now time.Time) bool {
	if expiration == nil || !expiration.Before(now) {
		return false
	}
	return s.End == nil || !expiration.After(*s.End)
}

// propagateGroups carries the effective group set forward from states opened
// by a group alteration and broadcasts the last one to every state.
func propagateGroups(states []history.State) []history.State {
	if len(states) == 0 {
		return nil
	}
	out := make([]history.State, len(states))
	groups := slices.Clone(states[0].GroupsHistorical)
	for i, in := range states {
		s := in.Clone()
		if i > 0 && s.CausedBy == history.EventAlterGroups && !s.Synthesized() {
			groups = slices.Clone(s.GroupsHistorical)
		}
		s.GroupsHistorical = slices.Clone(groups)
		out[i] = s
	}
	last := out[len(out)-1].GroupsHistorical
	for i := range out {
		out[i].Groups = slices.Clone(last)
	}
	return out
}

// propagateRegistration broadcasts the registration and creation method of
// the entity's first state.
func propagateRegistration(states []history.State) []history.State {
	if len(states) == 0 {
		return nil
	}
	first := states[0]
	out := make([]history.State, len(states))
	for i, in := range states {
		s := in.Clone()
		s.Registration = cloneTimePtr(first.Registration)
		s.CreatedBySelf = first.CreatedBySelf
		s.CreatedBySystem = first.CreatedBySystem
		s.CreatedByPeer = first.CreatedByPeer
		out[i] = s
	}
	return out
}

// deriveFlags sets the flags computed from a single state.
func (e *Engine) deriveFlags(states []history.State) []history.State {
	out := make([]history.State, len(states))
	for i, in := range states {
		s := in.Clone()
		s.Anonymous = s.EntityID == 0
		s.BotByName = e.classifier != nil && e.classifier.IsBotByName(s.Key.Name)
		out[i] = s
	}
	return out
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return history.TimePtr(*t)
}
