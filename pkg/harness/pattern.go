package harness

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/itchyny/gojq"
	"gopkg.in/yaml.v3"

	"github.com/haivivi/dialogtest/pkg/dlspeech"
)

// Pattern matches activities. Two forms exist in test files:
//
//   - an object is a subset pattern: every field it names must be present in
//     the activity JSON with an equal value, recursing into nested objects;
//   - a string is a jq expression evaluated against the activity JSON,
//     matching when its first result is true.
//
// Expressions are parsed during deserialization to catch errors early and
// avoid repeated parsing at runtime.
type Pattern struct {
	expr   string
	query  *gojq.Query
	subset map[string]any
}

// SubsetPattern builds a subset pattern in code.
func SubsetPattern(subset map[string]any) *Pattern {
	return &Pattern{subset: subset}
}

// JQPattern builds a jq expression pattern in code.
func JQPattern(expr string) (*Pattern, error) {
	p := &Pattern{}
	if err := p.setExpr(expr); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pattern) setExpr(expr string) error {
	query, err := gojq.Parse(expr)
	if err != nil {
		return fmt.Errorf("harness: invalid jq expression %q: %w", expr, err)
	}
	p.expr = expr
	p.query = query
	return nil
}

// String renders the pattern the way it appeared in the test file.
func (p *Pattern) String() string {
	if p.expr != "" {
		return p.expr
	}
	b, err := json.Marshal(p.subset)
	if err != nil {
		return fmt.Sprintf("%v", p.subset)
	}
	return string(b)
}

// Matches reports whether the activity matches the pattern.
func (p *Pattern) Matches(a *dlspeech.Activity) bool {
	if a == nil {
		return false
	}
	doc, err := activityDoc(a)
	if err != nil {
		return false
	}
	if p.query != nil {
		iter := p.query.Run(doc)
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		matched, _ := v.(bool)
		return matched
	}
	return isSubset(p.subset, doc)
}

// activityDoc decodes the activity into the generic JSON form jq and subset
// matching operate on.
func activityDoc(a *dlspeech.Activity) (map[string]any, error) {
	wire, err := a.MarshalWire()
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(wire, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// isSubset reports whether every entry of want appears in got, recursing into
// nested objects. Non-object values compare by deep equality.
func isSubset(want map[string]any, got any) bool {
	gotMap, ok := got.(map[string]any)
	if !ok {
		return false
	}
	for k, wantVal := range want {
		gotVal, ok := gotMap[k]
		if !ok {
			return false
		}
		if wantMap, ok := wantVal.(map[string]any); ok {
			if !isSubset(wantMap, gotVal) {
				return false
			}
			continue
		}
		if !looseEqual(wantVal, gotVal) {
			return false
		}
	}
	return true
}

// looseEqual compares pattern and activity values after normalizing numbers,
// since YAML decodes integers as int and JSON as float64.
func looseEqual(want, got any) bool {
	if wn, ok := toFloat(want); ok {
		gn, ok := toFloat(got)
		return ok && wn == gn
	}
	return reflect.DeepEqual(want, got)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// MarshalJSON implements json.Marshaler.
func (p Pattern) MarshalJSON() ([]byte, error) {
	if p.expr != "" {
		return json.Marshal(p.expr)
	}
	return json.Marshal(p.subset)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Pattern) UnmarshalJSON(data []byte) error {
	var expr string
	if err := json.Unmarshal(data, &expr); err == nil {
		return p.setExpr(expr)
	}
	var subset map[string]any
	if err := json.Unmarshal(data, &subset); err != nil {
		return fmt.Errorf("harness: pattern must be a jq string or an object: %w", err)
	}
	p.subset = subset
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (p Pattern) MarshalYAML() (any, error) {
	if p.expr != "" {
		return p.expr, nil
	}
	return p.subset, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Pattern) UnmarshalYAML(node *yaml.Node) error {
	var expr string
	if err := node.Decode(&expr); err == nil {
		return p.setExpr(expr)
	}
	var subset map[string]any
	if err := node.Decode(&subset); err != nil {
		return fmt.Errorf("harness: pattern must be a jq string or an object: %w", err)
	}
	p.subset = subset
	return nil
}

// MatchesAny reports whether any pattern in the list matches the activity.
func MatchesAny(patterns []*Pattern, a *dlspeech.Activity) bool {
	for _, p := range patterns {
		if p != nil && p.Matches(a) {
			return true
		}
	}
	return false
}
