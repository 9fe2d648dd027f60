package coordinator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"yqhp/test-scheduler/internal/scope"
	"yqhp/test-scheduler/pkg/types"
)

func TestBuildWorkQueueOrdersBySize(t *testing.T) {
	var items []*types.Item
	items = append(items, scopeItems("m.py", "TestSmall", 1)...)
	items = append(items, scopeItems("m.py", "TestBig", 3)...)
	items = append(items, scopeItems("m.py", "TestMid", 1)...)

	queue, units := buildWorkQueue(items, scope.LoadScope)

	assert.Equal(t, []string{"m.py::TestBig", "m.py::TestSmall", "m.py::TestMid"}, queue.Scopes())
	assert.Len(t, units, 3)
	assert.Equal(t, items[1:4], units["m.py::TestBig"].Items)
}

func TestBuildWorkQueueParameterScopes(t *testing.T) {
	items := []*types.Item{
		{ID: "t.py::test_f[A]"},
		{ID: "t.py::test_g[A]"},
		{ID: "t.py::test_h[B]"},
	}

	queue, units := buildWorkQueue(items, scope.NewParameter(nil, nil))

	assert.Equal(t, []string{"A", "B"}, queue.Scopes())
	assert.Equal(t, items[:2], units["A"].Items)
}

func TestBuildWorkQueueDuplicateItems(t *testing.T) {
	item := &types.Item{ID: "m.py::TestX::test_a"}
	queue, units := buildWorkQueue([]*types.Item{item, item}, scope.LoadScope)

	assert.Equal(t, 1, queue.Len())
	assert.Equal(t, []*types.Item{item, item}, units["m.py::TestX"].Items)
}

func TestWorkQueuePopAndPushFront(t *testing.T) {
	a := &types.WorkUnit{Scope: "a"}
	b := &types.WorkUnit{Scope: "b"}
	c := &types.WorkUnit{Scope: "c"}
	q := &workQueue{units: []*types.WorkUnit{a, b, c}}

	assert.Equal(t, a, q.Pop())
	assert.Equal(t, b, q.Pop())
	q.PushFront(a, b)
	assert.Equal(t, []string{"a", "b", "c"}, q.Scopes())

	q = &workQueue{}
	assert.Nil(t, q.Pop())
	q.PushFront()
	assert.Equal(t, 0, q.Len())
}

// Every item lands in exactly one unit and units are sorted largest first.
func TestBuildWorkQueueProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sizes := rapid.SliceOfN(rapid.IntRange(1, 6), 0, 10).Draw(t, "sizes")

		var items []*types.Item
		for i, n := range sizes {
			for j := 0; j < n; j++ {
				items = append(items, &types.Item{ID: fmt.Sprintf("m.py::TestC%d::test_%d", i, j)})
			}
		}

		queue, _ := buildWorkQueue(items, scope.LoadScope)
		if queue.Len() != len(sizes) {
			t.Fatalf("expected %d units, got %d", len(sizes), queue.Len())
		}

		total := 0
		prev := -1
		for queue.Len() > 0 {
			unit := queue.Pop()
			if prev >= 0 && len(unit.Items) > prev {
				t.Fatalf("unit %s larger than its predecessor", unit.Scope)
			}
			prev = len(unit.Items)
			total += len(unit.Items)
		}
		if total != len(items) {
			t.Fatalf("expected %d items, got %d", len(items), total)
		}
	})
}
