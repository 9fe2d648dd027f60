package metadata

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"yqhp/test-scheduler/pkg/logger"
	"yqhp/test-scheduler/pkg/types"
)

// Schema keys of a test annotation.
const (
	KeyPlatform = "platform"
	KeyCategory = "category"
	KeyArea     = "area"
	KeyPriority = "priority"
	KeyFeatures = "features"
	KeyTags     = "tags"
)

// Validate checks a raw annotation and returns the typed metadata.
// A nil mark is exempt and yields nil metadata without error.
func Validate(mark *types.Mark) (*types.Metadata, error) {
	if mark == nil {
		return nil, nil
	}
	if len(mark.Args) > 0 {
		return nil, &fieldError{message: "marker cannot have positional arguments"}
	}

	kw := mark.Kwargs
	md := &types.Metadata{
		Features: []string{},
		Tags:     []string{},
	}

	var err error
	if md.Platform, err = requiredString(kw, KeyPlatform); err != nil {
		return nil, err
	}

	category, err := requiredString(kw, KeyCategory)
	if err != nil {
		return nil, err
	}
	if md.Category, err = parseCategory(category); err != nil {
		return nil, err
	}

	if md.Area, err = requiredString(kw, KeyArea); err != nil {
		return nil, err
	}

	if md.Priority, err = requiredPriority(kw); err != nil {
		return nil, err
	}

	if md.Features, err = optionalStrings(kw, KeyFeatures); err != nil {
		return nil, err
	}
	if md.Tags, err = optionalStrings(kw, KeyTags); err != nil {
		return nil, err
	}

	return md, nil
}

// ValidateItems validates every item in collection order and returns copies
// carrying typed metadata. A pointer listed more than once maps to a single
// copy, so repeated entries stay one item. The first violation aborts with a
// *SchemaViolation.
func ValidateItems(items []*types.Item) ([]*types.Item, error) {
	out := make([]*types.Item, len(items))
	copies := make(map[*types.Item]*types.Item, len(items))
	for i, item := range items {
		if validated, ok := copies[item]; ok {
			out[i] = validated
			continue
		}
		md, err := Validate(item.Mark)
		if err != nil {
			v := &SchemaViolation{Item: item.ID, Message: err.Error()}
			var fe *fieldError
			if errors.As(err, &fe) {
				v.Field = fe.field
				v.Message = fe.message
			}
			logger.Error("test metadata validation failed",
				zap.String("item", item.ID),
				zap.String("field", v.Field),
				zap.String("cause", v.Message))
			return nil, v
		}
		validated := *item
		validated.Metadata = md
		copies[item] = &validated
		out[i] = &validated
	}
	return out, nil
}

func requiredString(kw map[string]any, key string) (string, error) {
	raw, ok := kw[key]
	if !ok {
		return "", &fieldError{field: key, message: "missing key"}
	}
	s, ok := raw.(string)
	if !ok {
		return "", &fieldError{field: key, message: fmt.Sprintf("expected string, got %T", raw)}
	}
	return s, nil
}

func parseCategory(s string) (types.Category, error) {
	for _, c := range types.Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", &fieldError{field: KeyCategory, message: fmt.Sprintf("invalid value %q, expected one of %v", s, types.Categories)}
}

func requiredPriority(kw map[string]any) (int, error) {
	raw, ok := kw[KeyPriority]
	if !ok {
		return 0, &fieldError{field: KeyPriority, message: "missing key"}
	}
	p, ok := toInt(raw)
	if !ok {
		return 0, &fieldError{field: KeyPriority, message: fmt.Sprintf("expected integer, got %v", raw)}
	}
	if p < types.MinPriority || p > types.MaxPriority {
		return 0, &fieldError{field: KeyPriority, message: fmt.Sprintf("invalid value %d, expected %d..%d", p, types.MinPriority, types.MaxPriority)}
	}
	return p, nil
}

// toInt accepts Go integers and integral floats from JSON decoding.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	}
	return 0, false
}

func floatToInt(f float64) (int, bool) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return int(f), true
}

func optionalStrings(kw map[string]any, key string) ([]string, error) {
	raw, ok := kw[key]
	if !ok || raw == nil {
		return []string{}, nil
	}
	switch v := raw.(type) {
	case []string:
		return append([]string{}, v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for i, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, &fieldError{field: key, message: fmt.Sprintf("element %d: expected string, got %T", i, e)}
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, &fieldError{field: key, message: fmt.Sprintf("expected list of strings, got %T", raw)}
}
