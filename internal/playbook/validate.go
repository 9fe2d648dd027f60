package playbook

import (
	"fmt"
	"strings"

	"yqhp/test-scheduler/pkg/types"
)

// Validate checks every criteria record and returns all problems at once
// as ConfigurationErrors.
func Validate(pb *types.Playbook) error {
	if pb == nil {
		return nil
	}

	var errs ConfigurationErrors
	add := func(index int, field, message string) {
		errs = append(errs, &ConfigurationError{Index: index, Field: field, Message: message})
	}

	for i := range pb.Criteria {
		c := &pb.Criteria[i]

		if c.Category != "" {
			if _, ok := types.ParseCategory(c.Category); !ok {
				add(i, "category", fmt.Sprintf("invalid category '%s', must be one of: %s", c.Category, categoryList()))
			}
		}
		if c.Priority != nil && (*c.Priority < types.MinPriority || *c.Priority > types.MaxPriority) {
			add(i, "priority", fmt.Sprintf("priority %d out of range %d..%d", *c.Priority, types.MinPriority, types.MaxPriority))
		}
		if c.Times < 1 {
			add(i, "times", fmt.Sprintf("times must be at least 1, got %d", c.Times))
		}
		for _, tag := range c.Tags {
			if strings.TrimSpace(tag) == "" {
				add(i, "tags", "tags must not be empty strings")
				break
			}
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func categoryList() string {
	names := make([]string, len(types.Categories))
	for i, c := range types.Categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
