package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type light string

func TestMachine(t *testing.T) {
	m := New("light", map[light][]light{
		"red":    {"green"},
		"green":  {"yellow", "off"},
		"yellow": {"red", "off"},
	})

	assert.NoError(t, m.Transition("red", "green"))
	assert.ErrorIs(t, m.Transition("red", "yellow"), ErrInvalidStatusTransition)
	assert.ErrorIs(t, m.Transition("off", "red"), ErrInvalidStatusTransition)
	assert.ErrorIs(t, m.Transition("unknown", "red"), ErrInvalidStatusTransition)

	assert.True(t, m.IsTerminal("off"))
	assert.False(t, m.IsTerminal("green"))
	assert.False(t, m.IsTerminal("unknown"))
	assert.True(t, m.Known("off"))
	assert.Equal(t, "light", m.Entity())
}

func TestTransitionErrorNamesEntity(t *testing.T) {
	m := New("route", map[light][]light{"planned": {"in_progress"}})
	err := m.Transition("in_progress", "planned")
	assert.EqualError(t, err, "invalid_status_transition: route in_progress -> planned")
}

func TestPath(t *testing.T) {
	m := New("delivery", map[light][]light{
		"scheduled":  {"picked_up", "failed", "cancelled"},
		"picked_up":  {"in_transit", "failed"},
		"in_transit": {"delivered", "failed"},
	})

	path, ok := m.Path("scheduled", "delivered")
	assert.True(t, ok)
	assert.Equal(t, []light{"picked_up", "in_transit", "delivered"}, path)

	path, ok = m.Path("picked_up", "failed")
	assert.True(t, ok)
	assert.Equal(t, []light{"failed"}, path)

	path, ok = m.Path("in_transit", "in_transit")
	assert.True(t, ok)
	assert.Empty(t, path)

	_, ok = m.Path("delivered", "scheduled")
	assert.False(t, ok)
}
