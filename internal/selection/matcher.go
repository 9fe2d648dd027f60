package selection

import (
	"strings"

	"yqhp/test-scheduler/pkg/types"
)

// Matches reports whether a criteria record selects an item.
//
// Fields are OR-ed: any constrained field that is satisfied is enough. A
// record with no constrained field matches nothing, and items without
// metadata are never matched.
func Matches(c *types.Criteria, item *types.Item) bool {
	if c == nil || item == nil || item.Metadata == nil || !c.Constrained() {
		return false
	}
	md := item.Metadata

	if c.Name != "" && strings.Contains(item.DisplayName(), c.Name) {
		return true
	}
	if c.Module != "" && strings.Contains(item.Module, c.Module) {
		return true
	}
	if c.Area != "" && strings.EqualFold(c.Area, md.Area) {
		return true
	}
	if c.Category != "" && strings.EqualFold(c.Category, string(md.Category)) {
		return true
	}
	if c.Priority != nil && *c.Priority == md.Priority {
		return true
	}
	if len(c.Tags) > 0 && md.HasTags(c.Tags) {
		return true
	}
	return false
}
