package playbook

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedFormat is returned for playbook files that are neither YAML nor HCL.
var ErrUnsupportedFormat = errors.New("unsupported playbook format")

// ConfigurationError reports an invalid field of one criteria record.
type ConfigurationError struct {
	Index   int // Position of the record in the playbook
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("criteria[%d].%s: %s", e.Index, e.Field, e.Message)
}

// ConfigurationErrors is a collection of configuration errors.
type ConfigurationErrors []*ConfigurationError

// Error implements the error interface.
func (e ConfigurationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("invalid playbook:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any configuration errors.
func (e ConfigurationErrors) HasErrors() bool {
	return len(e) > 0
}
