package coordinator

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"yqhp/test-scheduler/pkg/types"
)

// simulate drives a run to completion with every worker completing each
// scope as soon as it is fetched. It returns the worker of every fetched
// scope and how often each item was handed out.
func simulate(sizes []int, workers int) (map[string]string, map[*types.Item]int, *ScopeScheduler, error) {
	s, _, _ := setupSchedulerTest(nil)
	ctx := context.Background()

	var items []*types.Item
	for i, n := range sizes {
		items = append(items, scopeItems(fmt.Sprintf("mod_%d.py", i), "TestCase", n)...)
	}

	ids := make([]string, workers)
	for i := range ids {
		ids[i] = fmt.Sprintf("w%d", i)
		if _, err := s.Register(ctx, &types.WorkerInfo{ID: ids[i]}); err != nil {
			return nil, nil, nil, err
		}
	}
	if err := s.Collect(ctx, items); err != nil {
		return nil, nil, nil, err
	}

	owners := make(map[string]string)
	handed := make(map[*types.Item]int)
	for round := 0; round < 1000 && s.Phase() != types.PhaseDone; round++ {
		for _, id := range ids {
			a, err := s.NextAssignment(pollContext(), id)
			if err != nil {
				continue
			}
			if prev, ok := owners[a.Scope]; ok {
				return nil, nil, nil, fmt.Errorf("scope %s assigned to %s and %s", a.Scope, prev, id)
			}
			owners[a.Scope] = id
			for _, item := range a.Items {
				handed[item]++
			}
			if err := s.ReportCompletion(ctx, id, a.Scope); err != nil {
				return nil, nil, nil, err
			}
		}
	}
	return owners, handed, s, nil
}

// TestScopeAssignmentProperty checks that every scope is assigned exactly
// once to a single worker and every item is handed out exactly once.
func TestScopeAssignmentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("every scope runs once on one worker", prop.ForAll(
		func(sizes []int, workers int) bool {
			owners, handed, s, err := simulate(sizes, workers)
			if err != nil {
				return false
			}
			if len(owners) != len(sizes) {
				return false
			}
			total := 0
			for _, n := range sizes {
				total += n
			}
			if len(handed) != total {
				return false
			}
			for _, count := range handed {
				if count != 1 {
					return false
				}
			}
			return s.Phase() == types.PhaseDone
		},
		gen.SliceOf(gen.IntRange(1, 6)),
		gen.IntRange(1, 5),
	))

	properties.Property("load never goes negative", prop.ForAll(
		func(sizes []int, workers int) bool {
			_, _, s, err := simulate(sizes, workers)
			if err != nil {
				return false
			}
			for _, w := range s.Snapshot().Workers {
				if w.Load != 0 || len(w.Outstanding) != 0 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(1, 6)),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}
