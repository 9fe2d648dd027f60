package selection

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"yqhp/test-scheduler/pkg/types"
)

func ids(items []*types.Item) []string { return types.ItemIDs(items) }

func TestSelectTopsUpByPriority(t *testing.T) {
	t1 := newItem("t1", "m", "net", 1)
	t2 := newItem("t2", "m", "net", 2)
	t3 := newItem("t3", "m", "disk", 1)

	res := newTestEngine().Select([]*types.Item{t1, t2, t3}, []types.Criteria{
		{Priority: intPtr(1), Times: 2},
	})

	if diff := cmp.Diff([]string{"t1", "t1", "t3", "t3"}, ids(res.Selected)); diff != "" {
		t.Errorf("selected mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, res.Fallback)
}

func TestSelectExcludeArea(t *testing.T) {
	items := []*types.Item{
		newItem("a", "m", "net", 1),
		newItem("x1", "m", "xdp", 1),
		newItem("b", "m", "disk", 2),
		newItem("x2", "m", "XDP", 0),
		newItem("c", "m", "core", 3),
	}

	res := newTestEngine().Select(items, []types.Criteria{{Area: "xdp", Times: 1, Exclude: true}})

	assert.True(t, res.Fallback)
	assert.Equal(t, []string{"a", "b", "c"}, ids(res.Selected))
	assert.Equal(t, []string{"x1", "x2"}, ids(res.Excluded))
}

func TestSelectEmptyCriteriaFallsBack(t *testing.T) {
	items := []*types.Item{newItem("a", "m", "net", 1), {ID: "lint"}}

	res := newTestEngine().Select(items, nil)
	assert.True(t, res.Fallback)
	assert.Equal(t, []string{"a", "lint"}, ids(res.Selected))

	res = newTestEngine().SelectPlaybook(items, nil)
	assert.Equal(t, []string{"a", "lint"}, ids(res.Selected))
}

func TestSelectUnmatchedCriteriaFallsBack(t *testing.T) {
	items := []*types.Item{newItem("a", "m", "net", 1), newItem("b", "m", "disk", 2)}

	res := newTestEngine().Select(items, []types.Criteria{{Area: "gpu", Times: 3}})
	assert.True(t, res.Fallback)
	assert.Equal(t, []string{"a", "b"}, ids(res.Selected))
}

func TestSelectTimesIsMaxNotSum(t *testing.T) {
	a := newItem("a", "m", "net", 1, "smoke")

	res := newTestEngine().Select([]*types.Item{a}, []types.Criteria{
		{Area: "net", Times: 2},
		{Tags: []string{"smoke"}, Times: 3},
		{Priority: intPtr(1), Times: 1},
	})
	assert.Len(t, res.Selected, 3)
}

func TestSelectLaterTopUpAppendsAtEnd(t *testing.T) {
	a := newItem("a", "m", "net", 1)
	b := newItem("b", "m", "disk", 2)

	res := newTestEngine().Select([]*types.Item{a, b}, []types.Criteria{
		{Area: "net", Times: 1},
		{Area: "disk", Times: 1},
		{Area: "net", Times: 2},
	})
	assert.Equal(t, []string{"a", "b", "a"}, ids(res.Selected))
}

func TestSelectExclusionWinsRegardlessOfOrder(t *testing.T) {
	a := newItem("a", "m", "net", 1)
	b := newItem("b", "m", "net", 2)

	res := newTestEngine().Select([]*types.Item{a, b}, []types.Criteria{
		{Priority: intPtr(1), Exclude: true, Times: 1},
		{Area: "net", Times: 4},
	})
	assert.Equal(t, []string{"b", "b", "b", "b"}, ids(res.Selected))
	assert.Len(t, res.Included, 8)
}

func TestSelectExcludeEverythingYieldsEmpty(t *testing.T) {
	a := newItem("a", "m", "net", 1)

	res := newTestEngine().Select([]*types.Item{a}, []types.Criteria{
		{Area: "net", Times: 1},
		{Area: "net", Exclude: true, Times: 1},
	})
	require.NotNil(t, res.Selected)
	assert.Empty(t, res.Selected)
	assert.False(t, res.Fallback)
}

func TestSelectDuplicateIdentifiersAreDistinctItems(t *testing.T) {
	a1 := newItem("same", "m", "net", 1)
	a2 := newItem("same", "m", "net", 1)

	res := newTestEngine().Select([]*types.Item{a1, a2}, []types.Criteria{{Area: "net", Times: 2}})
	require.Len(t, res.Selected, 4)
	assert.Same(t, a1, res.Selected[0])
	assert.Same(t, a1, res.Selected[1])
	assert.Same(t, a2, res.Selected[2])
}

func TestSelectUnannotatedItemsOnlyViaFallback(t *testing.T) {
	lint := &types.Item{ID: "lint::flake8"}
	a := newItem("a", "m", "net", 1)

	res := newTestEngine().Select([]*types.Item{lint, a}, []types.Criteria{{Area: "net", Times: 1}})
	assert.Equal(t, []string{"a"}, ids(res.Selected))
}

func TestSelectTimesBelowOneCountsAsOnce(t *testing.T) {
	net := newItem("t1", "m", "net", 1)
	disk := newItem("t2", "m", "disk", 1)

	res := newTestEngine().Select([]*types.Item{net, disk}, []types.Criteria{
		{Area: "net"},
		{Area: "disk", Times: -2},
	})

	assert.Equal(t, []string{"t1", "t2"}, ids(res.Selected))
	assert.False(t, res.Fallback)
}

func TestSelectSkipsUnconstrainedRecords(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	engine := NewEngine(zap.New(core))

	t1 := newItem("t1", "m", "net", 1)
	t2 := newItem("t2", "m", "disk", 2)

	res := engine.Select([]*types.Item{t1, t2}, []types.Criteria{
		{Times: 3},
		{Area: "disk", Times: 2},
	})

	assert.Equal(t, []string{"t2", "t2"}, ids(res.Selected))

	warnings := logs.FilterMessage("criteria record constrains no field and matches nothing").All()
	require.Len(t, warnings, 1)
	assert.EqualValues(t, 0, warnings[0].ContextMap()["index"])
}
