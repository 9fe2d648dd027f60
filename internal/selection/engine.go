package selection

import (
	"github.com/duke-git/lancet/v2/slice"
	"go.uber.org/zap"

	"yqhp/test-scheduler/pkg/logger"
	"yqhp/test-scheduler/pkg/types"
)

// Result is the outcome of a selection.
type Result struct {
	// Selected is the final ordered list handed back to the collector.
	Selected []*types.Item
	// Included is the ordered inclusion list before exclusion, with repeats.
	Included []*types.Item
	// Excluded lists every excluded item once, in first-exclusion order.
	Excluded []*types.Item
	// Fallback is set when no criteria included anything and every
	// collected item was selected once.
	Fallback bool
}

// Engine applies playbook criteria to collected items.
type Engine struct {
	log *zap.Logger
}

// NewEngine creates a selection engine. A nil logger uses the global one.
func NewEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = logger.L()
	}
	return &Engine{log: log.Named("selection")}
}

// Select runs every criteria record in declaration order over the items in
// collection order.
//
// An included item is topped up to the record's Times, so the final count of
// an item is the largest Times among the records matching it; a Times below
// 1 counts as 1. Exclusion always wins. When nothing is included, every item is selected once.
func (e *Engine) Select(items []*types.Item, criteria []types.Criteria) *Result {
	included := make([]*types.Item, 0)
	counts := make(map[*types.Item]int)
	excluded := make([]*types.Item, 0)
	excludedSet := make(map[*types.Item]struct{})

	for idx := range criteria {
		c := &criteria[idx]
		if !c.Constrained() {
			e.log.Warn("criteria record constrains no field and matches nothing", zap.Int("index", idx))
			continue
		}
		times := max(c.Times, 1)
		matched := 0
		for _, item := range items {
			if !Matches(c, item) {
				continue
			}
			matched++
			if c.Exclude {
				if _, ok := excludedSet[item]; !ok {
					excludedSet[item] = struct{}{}
					excluded = append(excluded, item)
				}
				continue
			}
			for n := counts[item]; n < times; n++ {
				included = append(included, item)
			}
			if times > counts[item] {
				counts[item] = times
			}
		}
		e.log.Debug("criteria applied",
			zap.Int("index", idx),
			zap.Bool("exclude", c.Exclude),
			zap.Int("times", times),
			zap.Int("matched", matched))
	}

	result := &Result{Excluded: excluded}
	if len(included) == 0 {
		included = append(included, items...)
		result.Fallback = true
	}
	result.Included = included
	result.Selected = slice.Filter(included, func(_ int, item *types.Item) bool {
		_, out := excludedSet[item]
		return !out
	})

	e.log.Info("test selection finished",
		zap.Int("collected", len(items)),
		zap.Int("criteria", len(criteria)),
		zap.Int("included", len(included)),
		zap.Int("excluded", len(excluded)),
		zap.Int("selected", len(result.Selected)),
		zap.Bool("fallback", result.Fallback))
	if ce := e.log.Check(zap.DebugLevel, "selected tests"); ce != nil {
		ce.Write(zap.Strings("ids", types.ItemIDs(result.Selected)))
	}

	return result
}

// SelectPlaybook is Select over a playbook. A nil playbook selects everything.
func (e *Engine) SelectPlaybook(items []*types.Item, pb *types.Playbook) *Result {
	if pb == nil {
		return e.Select(items, nil)
	}
	return e.Select(items, pb.Criteria)
}
