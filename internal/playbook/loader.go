package playbook

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"

	"yqhp/test-scheduler/pkg/types"
)

// Format is a playbook file format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
)

// FormatFromPath derives the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".hcl":
		return FormatHCL, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// rawCriteria keeps optional fields as pointers so that defaults are
// applied only where a field is absent.
type rawCriteria struct {
	Name     *string        `yaml:"name" hcl:"name,optional"`
	Module   *string        `yaml:"module" hcl:"module,optional"`
	Area     *string        `yaml:"area" hcl:"area,optional"`
	Category *string        `yaml:"category" hcl:"category,optional"`
	Priority *int           `yaml:"priority" hcl:"priority,optional"`
	Tags     []string       `yaml:"tags" hcl:"tags,optional"`
	Times    *int           `yaml:"times" hcl:"times,optional"`
	Exclude  *bool          `yaml:"exclude" hcl:"exclude,optional"`
	Unknown  map[string]any `yaml:",inline"`
}

// yamlPlaybook is the YAML document. Keys other than criteria belong to
// other consumers of the playbook and are ignored.
type yamlPlaybook struct {
	Criteria []rawCriteria `yaml:"criteria"`
}

// hclPlaybook is the HCL document.
type hclPlaybook struct {
	Criteria []*rawCriteria `hcl:"criteria,block"`
	Remain   hcl.Body       `hcl:",remain"`
}

// Load reads and validates a playbook file. An empty path yields an empty
// playbook, which selects every item.
func Load(path string) (*types.Playbook, error) {
	if path == "" {
		return &types.Playbook{}, nil
	}

	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playbook %s: %w", path, err)
	}

	pb, err := parse(data, format, path)
	if err != nil {
		return nil, err
	}
	if err := Validate(pb); err != nil {
		return nil, err
	}
	return pb, nil
}

// Parse decodes and validates a playbook document.
func Parse(data []byte, format Format) (*types.Playbook, error) {
	pb, err := parse(data, format, "playbook."+string(format))
	if err != nil {
		return nil, err
	}
	if err := Validate(pb); err != nil {
		return nil, err
	}
	return pb, nil
}

func parse(data []byte, format Format, filename string) (*types.Playbook, error) {
	var raws []*rawCriteria

	switch format {
	case FormatYAML:
		var doc yamlPlaybook
		if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse playbook %s: %w", filename, err)
		}
		for i := range doc.Criteria {
			raws = append(raws, &doc.Criteria[i])
		}

	case FormatHCL:
		file, diags := hclparse.NewParser().ParseHCL(data, filename)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse playbook %s: %w", filename, diags)
		}
		var doc hclPlaybook
		if diags := gohcl.DecodeBody(file.Body, nil, &doc); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode playbook %s: %w", filename, diags)
		}
		raws = doc.Criteria

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	var errs ConfigurationErrors
	pb := &types.Playbook{Criteria: make([]types.Criteria, 0, len(raws))}
	for i, raw := range raws {
		unknown := make([]string, 0, len(raw.Unknown))
		for key := range raw.Unknown {
			unknown = append(unknown, key)
		}
		sort.Strings(unknown)
		for _, key := range unknown {
			errs = append(errs, &ConfigurationError{Index: i, Field: key, Message: "unknown field"})
		}
		pb.Criteria = append(pb.Criteria, raw.toCriteria())
	}
	if errs.HasErrors() {
		return nil, errs
	}
	return pb, nil
}

// toCriteria applies the defaults times=1 and exclude=false.
func (r *rawCriteria) toCriteria() types.Criteria {
	c := types.Criteria{
		Priority: r.Priority,
		Tags:     r.Tags,
		Times:    1,
	}
	if r.Name != nil {
		c.Name = *r.Name
	}
	if r.Module != nil {
		c.Module = *r.Module
	}
	if r.Area != nil {
		c.Area = *r.Area
	}
	if r.Category != nil {
		c.Category = *r.Category
	}
	if r.Times != nil {
		c.Times = *r.Times
	}
	if r.Exclude != nil {
		c.Exclude = *r.Exclude
	}
	return c
}
