package telemetry

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// Filter selects events with a jq expression evaluated against
// {"id", "type", "data"}. An event passes when the first result is neither
// false nor null.
type Filter struct {
	expr string
	code *gojq.Code
}

// ParseFilter compiles expr. An empty expression yields a nil filter that
// passes everything.
func ParseFilter(expr string) (*Filter, error) {
	if expr == "" {
		return nil, nil
	}
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression %q: %w", expr, err)
	}
	return &Filter{expr: expr, code: code}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// Match reports whether event passes the filter.
func (f *Filter) Match(event Event) bool {
	if f == nil {
		return true
	}
	input, err := toJQInput(event)
	if err != nil {
		return false
	}

	iter := f.code.Run(input)
	v, ok := iter.Next()
	if !ok {
		return false
	}
	if _, isErr := v.(error); isErr {
		return false
	}
	return v != nil && v != false
}

// toJQInput converts event to the plain JSON values gojq operates on.
func toJQInput(event Event) (map[string]interface{}, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
