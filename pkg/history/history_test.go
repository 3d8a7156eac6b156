package history

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventType(t *testing.T) {
	for _, typ := range EventTypes() {
		parsed, err := ParseEventType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}

	_, err := ParseEventType("merge")
	require.ErrorIs(t, err, ErrUnknownEventType)
}

func TestEventType_ChangesIdentity(t *testing.T) {
	assert.True(t, EventRename.ChangesIdentity())
	assert.True(t, EventMove.ChangesIdentity())
	assert.False(t, EventCreate.ChangesIdentity())
	assert.False(t, EventAlterBlocks.ChangesIdentity())
	assert.False(t, EventUnknown.Valid())
}

func TestEventType_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Type EventType `json:"type"`
	}{EventAlterGroups})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"altergroups"}`, string(data))

	var decoded struct {
		Type EventType `json:"type"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"type":"move"}`), &decoded))
	assert.Equal(t, EventMove, decoded.Type)

	require.Error(t, json.Unmarshal([]byte(`{"type":"bogus"}`), &decoded))
}

func TestEvent_Keys(t *testing.T) {
	a, b := NewKey("enwiki", "A"), NewKey("enwiki", "B")
	assert.Equal(t, []Key{a}, Event{OldKey: a, NewKey: a}.Keys())
	assert.Equal(t, []Key{a, b}, Event{OldKey: a, NewKey: b}.Keys())
	assert.Equal(t, "enwiki", Event{OldKey: a, NewKey: b}.Domain())
}

func TestState_CloneDoesNotAlias(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s := State{Start: &start, Groups: []string{"sysop"}}

	c := s.Clone()
	*c.Start = start.Add(time.Hour)
	c.Groups[0] = "bot"

	assert.Equal(t, start, *s.Start)
	assert.Equal(t, "sysop", s.Groups[0])
}

func TestState_StartsBefore(t *testing.T) {
	early := TimePtr(time.Unix(10, 0))
	late := TimePtr(time.Unix(20, 0))

	assert.True(t, State{}.StartsBefore(State{Start: early}))
	assert.False(t, State{Start: early}.StartsBefore(State{}))
	assert.False(t, State{}.StartsBefore(State{}))
	assert.True(t, State{Start: early}.StartsBefore(State{Start: late}))
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2017, 3, 4, 5, 6, 7, 0, time.UTC)

	for _, raw := range []string{
		"20170304050607",
		"2017-03-04T05:06:07Z",
		"2017-03-04 05:06:07",
		"Sat, 04 Mar 2017 05:06:07 UTC",
	} {
		got := ParseTimestamp(raw)
		require.NotNil(t, got, raw)
		assert.True(t, want.Equal(*got), raw)
	}

	for _, raw := range []string{"", "infinity", "Indefinite", "never", "garbage"} {
		assert.Nil(t, ParseTimestamp(raw), raw)
	}
}

func TestParseExpiration_Relative(t *testing.T) {
	at := time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)

	got := ParseExpiration("3 days", at)
	require.NotNil(t, got)
	assert.Equal(t, at.AddDate(0, 0, 3), *got)

	got = ParseExpiration("1 week", at)
	require.NotNil(t, got)
	assert.Equal(t, at.AddDate(0, 0, 7), *got)

	assert.Nil(t, ParseExpiration("infinite", at))
	assert.Nil(t, ParseExpiration("3 fortnights", at))
	assert.Nil(t, ParseExpiration("soon", at))
}
