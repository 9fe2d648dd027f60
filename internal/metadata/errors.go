package metadata

import "fmt"

// SchemaViolation reports an item whose annotation does not satisfy the schema.
type SchemaViolation struct {
	Item    string // Node ID of the offending item
	Field   string // Violated field, empty for structural errors
	Message string
}

// Error implements the error interface.
func (e *SchemaViolation) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("error validating test '%s' metadata: field '%s': %s", e.Item, e.Field, e.Message)
	}
	return fmt.Sprintf("error validating test '%s' metadata: %s", e.Item, e.Message)
}

// fieldError is a violation before the item is known.
type fieldError struct {
	field   string
	message string
}

func (e *fieldError) Error() string {
	if e.field == "" {
		return e.message
	}
	return fmt.Sprintf("field '%s': %s", e.field, e.message)
}
