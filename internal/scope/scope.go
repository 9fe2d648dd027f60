// Package scope derives the grouping key of a test node identifier.
//
// Items sharing a scope are scheduled as one unit on a single worker.
package scope

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Separator joins parameter tokens into a scope.
const Separator = "/"

// nodeSeparator splits module, class and function in a node id.
const nodeSeparator = "::"

// Extractor computes the scope of a node identifier.
type Extractor interface {
	ScopeOf(nodeID string) string
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(nodeID string) string

// ScopeOf implements Extractor.
func (f ExtractorFunc) ScopeOf(nodeID string) string { return f(nodeID) }

// LoadScope groups by the enclosing class, or the module for plain functions.
var LoadScope = ExtractorFunc(func(nodeID string) string {
	if idx := strings.LastIndex(nodeID, nodeSeparator); idx >= 0 {
		return nodeID[:idx]
	}
	return nodeID
})

// LoadFile groups by module only.
var LoadFile = ExtractorFunc(func(nodeID string) string {
	if idx := strings.Index(nodeID, nodeSeparator); idx >= 0 {
		return nodeID[:idx]
	}
	return nodeID
})

var paramPattern = regexp.MustCompile(`\[([^\[\]]+)\]`)

// Parameter groups parameterized tests by their parameter values, so that
// "mod::test_f[A]" and "mod::test_g[A]" share the scope "A". Identifiers
// without bracketed tokens are delegated to Fallback.
type Parameter struct {
	Fallback Extractor
	Log      *zap.Logger
}

// NewParameter creates a parameter extractor over fallback, LoadScope if nil.
func NewParameter(fallback Extractor, log *zap.Logger) *Parameter {
	if fallback == nil {
		fallback = LoadScope
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Parameter{Fallback: fallback, Log: log}
}

// ScopeOf implements Extractor.
func (p *Parameter) ScopeOf(nodeID string) string {
	tokens := Params(nodeID)
	if len(tokens) == 0 {
		return p.Fallback.ScopeOf(nodeID)
	}
	scope := strings.Join(tokens, Separator)
	p.Log.Debug("split node id into scope", zap.String("nodeid", nodeID), zap.String("scope", scope))
	return scope
}

// Params returns the bracketed parameter tokens of a node id, left to right.
func Params(nodeID string) []string {
	matches := paramPattern.FindAllStringSubmatch(nodeID, -1)
	if len(matches) == 0 {
		return nil
	}
	tokens := make([]string, len(matches))
	for i, m := range matches {
		tokens[i] = m[1]
	}
	return tokens
}

// Strategy names accepted by ByName.
const (
	StrategyParam = "param"
	StrategyScope = "scope"
	StrategyFile  = "file"
)

// ByName returns the extractor for a configured strategy name.
func ByName(name string, log *zap.Logger) (Extractor, error) {
	switch name {
	case "", StrategyParam:
		return NewParameter(LoadScope, log), nil
	case StrategyScope:
		return LoadScope, nil
	case StrategyFile:
		return LoadFile, nil
	default:
		return nil, fmt.Errorf("unknown scope strategy: %s", name)
	}
}
