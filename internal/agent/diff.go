package agent

import (
	"reflect"
	"time"
)

// ChangeKind classifies how an agent definition differs between two loads.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeUpdated ChangeKind = "updated"
)

// Change records one agent whose definition differs between two loaded sets.
type Change struct {
	Name string
	Kind ChangeKind
}

// Diff compares two agent sets by name and reports removed, updated and
// added definitions, in that order. Changes apply to new sessions only;
// running calls keep the agent they started with.
func Diff(old, new []*Agent) []Change {
	oldByName := make(map[string]*Agent, len(old))
	for _, a := range old {
		oldByName[a.Name] = a
	}
	newByName := make(map[string]*Agent, len(new))
	for _, a := range new {
		newByName[a.Name] = a
	}

	var changes []Change
	for _, a := range old {
		updated, exists := newByName[a.Name]
		if !exists {
			changes = append(changes, Change{Name: a.Name, Kind: ChangeRemoved})
			continue
		}
		if !definitionEqual(a, updated) {
			changes = append(changes, Change{Name: a.Name, Kind: ChangeUpdated})
		}
	}
	for _, a := range new {
		if _, exists := oldByName[a.Name]; !exists {
			changes = append(changes, Change{Name: a.Name, Kind: ChangeAdded})
		}
	}
	return changes
}

// definitionEqual compares everything the YAML definition carries.
// Timestamps are repository bookkeeping, not definition content.
func definitionEqual(a, b *Agent) bool {
	ca, cb := *a, *b
	ca.CreatedAt, cb.CreatedAt = time.Time{}, time.Time{}
	ca.UpdatedAt, cb.UpdatedAt = time.Time{}, time.Time{}
	return reflect.DeepEqual(ca, cb)
}
