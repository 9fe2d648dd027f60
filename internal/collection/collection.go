// Package collection reads the items produced by the external test
// collector and writes the final selection back out.
package collection

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"

	"yqhp/test-scheduler/pkg/types"
)

// Format is an item list or selection output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatText Format = "text"
)

// ErrUnsupportedFormat is returned for unknown formats.
var ErrUnsupportedFormat = errors.New("unsupported collection format")

// document is the object form of an item list.
type document struct {
	Items []*types.Item `json:"items" yaml:"items"`
}

// FormatFromPath derives the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".txt":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// LoadFile reads an item list. "-" reads JSON from stdin.
func LoadFile(path string) ([]*types.Item, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read items from stdin: %w", err)
		}
		return Parse(data, FormatJSON)
	}

	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read items %s: %w", path, err)
	}
	return Parse(data, format)
}

// Parse decodes an item list. Both a bare list and an object with an
// "items" key are accepted. Text input holds one node id per line.
func Parse(data []byte, format Format) ([]*types.Item, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []*types.Item{}, nil
	}

	var items []*types.Item
	switch format {
	case FormatJSON:
		var err error
		if trimmed[0] == '[' {
			err = sonic.Unmarshal(trimmed, &items)
		} else {
			var doc document
			err = sonic.Unmarshal(trimmed, &doc)
			items = doc.Items
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse items: %w", err)
		}

	case FormatYAML:
		var node yaml.Node
		if err := yaml.Unmarshal(trimmed, &node); err != nil {
			return nil, fmt.Errorf("failed to parse items: %w", err)
		}
		var err error
		if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			err = node.Decode(&items)
		} else {
			var doc document
			err = node.Decode(&doc)
			items = doc.Items
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse items: %w", err)
		}

	case FormatText:
		scanner := bufio.NewScanner(bytes.NewReader(trimmed))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			items = append(items, &types.Item{ID: line})
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to parse items: %w", err)
		}

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	for i, item := range items {
		if item == nil || item.ID == "" {
			return nil, fmt.Errorf("item %d has no id", i)
		}
	}
	if items == nil {
		items = []*types.Item{}
	}
	return items, nil
}

// WriteSelection writes the node ids of the selection in order. Repeated
// items appear once per repetition.
func WriteSelection(w io.Writer, items []*types.Item, format Format) error {
	ids := types.ItemIDs(items)

	switch format {
	case FormatJSON:
		data, err := sonic.MarshalIndent(ids, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode selection: %w", err)
		}
		data = append(data, '\n')
		_, err = w.Write(data)
		return err

	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(ids); err != nil {
			return fmt.Errorf("failed to encode selection: %w", err)
		}
		return enc.Close()

	case FormatText:
		bw := bufio.NewWriter(w)
		for _, id := range ids {
			if _, err := bw.WriteString(id + "\n"); err != nil {
				return err
			}
		}
		return bw.Flush()

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
