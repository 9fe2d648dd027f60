package types

import "strings"

// Category is the kind of test declared in an item's metadata.
type Category string

const (
	// CategoryFunctional marks functional tests.
	CategoryFunctional Category = "Functional"
	// CategoryPerformance marks performance tests.
	CategoryPerformance Category = "Performance"
	// CategoryStress marks stress tests.
	CategoryStress Category = "Stress"
	// CategoryCommunity marks community contributed tests.
	CategoryCommunity Category = "Community"
	// CategoryLonghaul marks long running tests.
	CategoryLonghaul Category = "Longhaul"
)

// Categories lists every valid category in declaration order.
var Categories = []Category{
	CategoryFunctional,
	CategoryPerformance,
	CategoryStress,
	CategoryCommunity,
	CategoryLonghaul,
}

// ParseCategory resolves a category name case-insensitively.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if strings.EqualFold(string(c), s) {
			return c, true
		}
	}
	return "", false
}

// MinPriority and MaxPriority bound the priority of an item.
const (
	MinPriority = 0
	MaxPriority = 3
)

// Mark is the raw test annotation as produced by the collector.
type Mark struct {
	Args   []any          `json:"args,omitempty" yaml:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty" yaml:"kwargs,omitempty"`
}

// Metadata is the validated annotation of a test item.
type Metadata struct {
	Platform string   `json:"platform" yaml:"platform"`
	Category Category `json:"category" yaml:"category"`
	Area     string   `json:"area" yaml:"area"`
	Priority int      `json:"priority" yaml:"priority"`
	Features []string `json:"features" yaml:"features"`
	Tags     []string `json:"tags" yaml:"tags"`
}

// HasTags reports whether every tag in want is present on the metadata.
func (m *Metadata) HasTags(want []string) bool {
	if m == nil {
		return false
	}
	have := make(map[string]struct{}, len(m.Tags))
	for _, t := range m.Tags {
		have[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	return true
}

// Item is one collected test.
//
// Items are shared by pointer. The same pointer may appear several times in
// a selection when a criteria record asks for repetitions.
type Item struct {
	// ID is the node identifier, e.g. "suite/test_net.py::TestNic::test_mtu[eth0]".
	ID string `json:"id" yaml:"id"`
	// Name is the display name. Defaults to the last "::" segment of ID.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Module is the qualified module path of the test.
	Module string `json:"module,omitempty" yaml:"module,omitempty"`
	// Mark is the raw annotation, nil when the test is not annotated.
	Mark *Mark `json:"mark,omitempty" yaml:"mark,omitempty"`
	// Metadata is filled in by the metadata validator.
	Metadata *Metadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// DisplayName returns the name used for name matching.
func (i *Item) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	if idx := strings.LastIndex(i.ID, "::"); idx >= 0 {
		return i.ID[idx+2:]
	}
	return i.ID
}

// ItemIDs returns the node identifiers of items in order.
func ItemIDs(items []*Item) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}
