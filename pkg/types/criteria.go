package types

// Criteria is one selection rule of a playbook.
//
// Empty string fields, a nil Priority and empty Tags are unconstrained and
// never contribute to a match. Times is how often a matched item runs; the
// playbook loader defaults it to 1 and selection treats values below 1 as 1.
type Criteria struct {
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
	Module   string   `json:"module,omitempty" yaml:"module,omitempty"`
	Area     string   `json:"area,omitempty" yaml:"area,omitempty"`
	Category string   `json:"category,omitempty" yaml:"category,omitempty"`
	Priority *int     `json:"priority,omitempty" yaml:"priority,omitempty"`
	Tags     []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Times    int      `json:"times" yaml:"times"`
	Exclude  bool     `json:"exclude" yaml:"exclude"`
}

// Constrained reports whether at least one matching field is set.
func (c *Criteria) Constrained() bool {
	return c.Name != "" || c.Module != "" || c.Area != "" || c.Category != "" ||
		c.Priority != nil || len(c.Tags) > 0
}

// Playbook is the ordered list of criteria driving a selection.
type Playbook struct {
	Criteria []Criteria `json:"criteria" yaml:"criteria"`
}
