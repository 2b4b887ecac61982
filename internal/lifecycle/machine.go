// Package lifecycle validates status changes against a fixed transition table.
package lifecycle

import (
	"errors"
	"fmt"
	"slices"
)

var ErrInvalidStatusTransition = errors.New("invalid_status_transition")

// Machine holds the allowed transitions for one entity's status.
type Machine[S ~string] struct {
	entity string
	edges  map[S]map[S]struct{}
	states map[S]struct{}
}

// New builds a machine from an adjacency list. States with no outgoing edges are terminal.
func New[S ~string](entity string, edges map[S][]S) *Machine[S] {
	m := &Machine[S]{
		entity: entity,
		edges:  make(map[S]map[S]struct{}, len(edges)),
		states: make(map[S]struct{}),
	}
	for from, targets := range edges {
		m.states[from] = struct{}{}
		set := make(map[S]struct{}, len(targets))
		for _, to := range targets {
			set[to] = struct{}{}
			m.states[to] = struct{}{}
		}
		m.edges[from] = set
	}
	return m
}

func (m *Machine[S]) Entity() string { return m.entity }

// Known reports whether s appears anywhere in the table.
func (m *Machine[S]) Known(s S) bool {
	_, ok := m.states[s]
	return ok
}

func (m *Machine[S]) Can(from, to S) bool {
	targets, ok := m.edges[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

func (m *Machine[S]) IsTerminal(s S) bool {
	return m.Known(s) && len(m.edges[s]) == 0
}

// Transition returns ErrInvalidStatusTransition, wrapped with context, when from→to is not allowed.
func (m *Machine[S]) Transition(from, to S) error {
	if m.Can(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidStatusTransition, m.entity, from, to)
}

// Path returns the shortest chain of legal steps from from to to, excluding
// from itself. It returns false when to is unreachable.
func (m *Machine[S]) Path(from, to S) ([]S, bool) {
	if from == to {
		return nil, true
	}
	prev := map[S]S{from: from}
	queue := []S{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range m.sortedTargets(cur) {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == to {
				var path []S
				for s := to; s != from; s = prev[s] {
					path = append([]S{s}, path...)
				}
				return path, true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}

func (m *Machine[S]) sortedTargets(s S) []S {
	targets := make([]S, 0, len(m.edges[s]))
	for t := range m.edges[s] {
		targets = append(targets, t)
	}
	slices.Sort(targets)
	return targets
}
