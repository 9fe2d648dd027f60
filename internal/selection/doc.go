// Package selection filters, repeats and excludes collected test items
// according to the ordered criteria of a playbook.
package selection
