package reconstruct

import (
	"slices"

	"github.com/Mindburn-Labs/timeline/pkg/history"
	"github.com/Mindburn-Labs/timeline/pkg/stats"
)

// status is the accumulator of the backward matching fold over one
// partition. It is owned by a single goroutine, so its maps are mutated in
// place; nothing outside the fold ever sees them.
type status struct {
	// todayToCurrent maps a key as observed today to the key the lineage
	// had at the point in time the fold has reached. currentToToday is its
	// inverse.
	todayToCurrent map[history.Key]history.Key
	currentToToday map[history.Key]history.Key

	potential map[history.Key]history.State
	known     []history.State
	unmatched []history.Event
	counts    stats.Counts
}

// newStatus seeds the potential states with the snapshots. When two
// snapshots share a key the first one owns it and the others are closed
// right away.
func newStatus(states []history.State) *status {
	s := &status{
		todayToCurrent: make(map[history.Key]history.Key),
		currentToToday: make(map[history.Key]history.Key),
		potential:      make(map[history.Key]history.State, len(states)),
		counts:         make(stats.Counts),
	}
	for _, st := range states {
		if _, taken := s.potential[st.Key]; taken {
			s.counts.Inc(st.Key.Domain, stats.MetricDuplicate, 1)
			s.closeUnclosed(st)
			continue
		}
		s.potential[st.Key] = st.Clone()
	}
	return s
}

// process folds one event into the status. Events arrive most recent first.
func (s *status) process(e history.Event) {
	from, to := s.resolve(e)
	if from != to {
		s.redirect(from, to)
	}
	s.expire(to, e)
	if e.Type.ChangesIdentity() && from != to {
		s.resolveConflict(from, e)
	}
	s.join(from, to, e)
}

// resolve returns the keys the event moves the lineage from and to. Events
// that keep identity may reference the entity by its name as of today, so
// they are translated to the key currently being tracked.
func (s *status) resolve(e history.Event) (from, to history.Key) {
	if e.Type.ChangesIdentity() {
		return e.OldKey, e.NewKey
	}
	k := e.OldKey
	if current, ok := s.todayToCurrent[k]; ok {
		k = current
	}
	return k, k
}

// redirect records that the lineage tracked at `to` was called `from`
// before the event.
func (s *status) redirect(from, to history.Key) {
	today, ok := s.currentToToday[to]
	if !ok {
		today = to
	}
	delete(s.currentToToday, to)
	// A lineage already parked on `from` loses its translation; its state
	// is closed as a conflict right after.
	if other, ok := s.currentToToday[from]; ok && other != today {
		delete(s.todayToCurrent, other)
	}
	s.currentToToday[from] = today
	s.todayToCurrent[today] = from
}

// expire closes the potential state at key when its entity was registered
// after the event, which means the event cannot belong to it.
func (s *status) expire(key history.Key, e history.Event) {
	st, ok := s.potential[key]
	if !ok || st.Registration == nil || !st.Registration.After(e.Timestamp) {
		return
	}
	delete(s.potential, key)
	s.counts.Inc(key.Domain, stats.MetricExpired, 1)
	s.closeUnclosed(st)
}

// resolveConflict closes a potential state that already sits on the key a
// rename or move is about to move a lineage back to. That key belonged to
// another, later lineage, which therefore starts at this event.
func (s *status) resolveConflict(from history.Key, e history.Event) {
	st, ok := s.potential[from]
	if !ok {
		return
	}
	delete(s.potential, from)
	closed := st.Clone()
	closed.Start = history.TimePtr(e.Timestamp)
	closed.CausedBy = history.EventCreate
	closed.CausedByActorID = nil
	closed.InferredFrom = history.InferredConflict
	s.known = append(s.known, closed)
	s.counts.Inc(from.Domain, stats.MetricConflict, 1)
}

// join attaches the event to the potential state at `to`. Unless the event
// is the creation, the lineage continues backwards at `from`.
func (s *status) join(from, to history.Key, e history.Event) {
	st, ok := s.potential[to]
	if !ok {
		s.unmatched = append(s.unmatched, e)
		s.counts.Inc(e.Domain(), stats.MetricUnmatched, 1)
		return
	}
	delete(s.potential, to)
	s.counts.Inc(e.Domain(), stats.MetricMatched, 1)

	s.known = append(s.known, applyEvent(st, e))
	if e.Type == history.EventCreate {
		return
	}

	prev := st.Clone()
	prev.Key = from
	prev.Start = nil
	prev.End = history.TimePtr(e.Timestamp)
	prev.CausedBy = history.EventUnknown
	prev.CausedByActorID = nil
	prev.InferredFrom = history.InferredNone
	prev.SourceID = 0
	// The observed attributes still hold before the event, except the one
	// the event replaced, whose earlier value is unknown.
	switch e.Type {
	case history.EventAlterGroups:
		prev.GroupsHistorical = nil
	case history.EventAlterBlocks:
		prev.BlocksHistorical = nil
		prev.BlockExpiration = nil
	case history.EventCreate, history.EventRename, history.EventMove, history.EventDelete, history.EventRestore, history.EventUnknown:
	}
	s.potential[from] = prev
}

// applyEvent returns st opened by e.
func applyEvent(st history.State, e history.Event) history.State {
	out := st.Clone()
	out.Start = history.TimePtr(e.Timestamp)
	out.CausedBy = e.Type
	out.CausedByActorID = nil
	if e.ActorID != nil {
		id := *e.ActorID
		out.CausedByActorID = &id
	}
	out.SourceID = e.SourceID
	out.InferredFrom = history.InferredNone

	switch e.Type {
	case history.EventAlterGroups:
		out.GroupsHistorical = slices.Clone(e.Groups)
	case history.EventAlterBlocks:
		out.BlocksHistorical = slices.Clone(e.Blocks)
		out.BlockExpiration = nil
		if e.BlockExpiration != nil {
			out.BlockExpiration = history.TimePtr(*e.BlockExpiration)
		}
	case history.EventCreate:
		out.CreatedBySelf = e.CreatedBySelf
		out.CreatedBySystem = e.CreatedBySystem
		out.CreatedByPeer = e.CreatedByPeer
	case history.EventRename, history.EventMove, history.EventDelete, history.EventRestore, history.EventUnknown:
	}
	return out
}

// closeUnclosed records st as having existed since its registration.
func (s *status) closeUnclosed(st history.State) {
	closed := st.Clone()
	closed.Start = nil
	if st.Registration != nil {
		closed.Start = history.TimePtr(*st.Registration)
	}
	closed.CausedBy = history.EventCreate
	closed.CausedByActorID = nil
	closed.InferredFrom = history.InferredUnclosed
	s.known = append(s.known, closed)
	s.counts.Inc(st.Key.Domain, stats.MetricUnclosed, 1)
}

// finish closes every remaining potential state and returns all closed
// states. Remaining keys are visited in sorted order so output is
// deterministic.
func (s *status) finish() []history.State {
	keys := make([]history.Key, 0, len(s.potential))
	for k := range s.potential {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b history.Key) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	for _, k := range keys {
		s.closeUnclosed(s.potential[k])
		delete(s.potential, k)
	}
	return s.known
}
