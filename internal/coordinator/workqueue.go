package coordinator

import (
	"sort"

	"yqhp/test-scheduler/internal/scope"
	"yqhp/test-scheduler/pkg/types"
)

// workQueue holds the scopes not yet assigned, largest first.
type workQueue struct {
	units []*types.WorkUnit
}

// buildWorkQueue groups items by scope. Scopes keep their first-appearance
// order among equal sizes and items keep collection order within a scope.
func buildWorkQueue(items []*types.Item, extractor scope.Extractor) (*workQueue, map[string]*types.WorkUnit) {
	byScope := make(map[string]*types.WorkUnit)
	units := make([]*types.WorkUnit, 0)

	for _, item := range items {
		key := extractor.ScopeOf(item.ID)
		unit, ok := byScope[key]
		if !ok {
			unit = &types.WorkUnit{Scope: key}
			byScope[key] = unit
			units = append(units, unit)
		}
		unit.Items = append(unit.Items, item)
	}

	sort.SliceStable(units, func(i, j int) bool {
		return len(units[i].Items) > len(units[j].Items)
	})

	return &workQueue{units: units}, byScope
}

// Len returns the number of unassigned scopes.
func (q *workQueue) Len() int {
	return len(q.units)
}

// Pop removes and returns the next scope.
func (q *workQueue) Pop() *types.WorkUnit {
	if len(q.units) == 0 {
		return nil
	}
	unit := q.units[0]
	q.units = q.units[1:]
	return unit
}

// PushFront returns scopes to the head of the queue, keeping their order.
func (q *workQueue) PushFront(units ...*types.WorkUnit) {
	if len(units) == 0 {
		return
	}
	q.units = append(append(make([]*types.WorkUnit, 0, len(units)+len(q.units)), units...), q.units...)
}

// Scopes lists the pending scope keys in assignment order.
func (q *workQueue) Scopes() []string {
	out := make([]string, len(q.units))
	for i, u := range q.units {
		out[i] = u.Scope
	}
	return out
}
