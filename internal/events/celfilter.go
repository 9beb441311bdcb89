package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// Filter wraps a compiled CEL program evaluated against events. The zero
// value (or an empty expression) matches everything.
type Filter struct {
	prog    cel.Program
	enabled bool
}

// NewFilter compiles expr into a Filter. An empty expression yields a
// disabled filter that matches all events.
func NewFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("type", cel.StringType),
		cel.Variable("location", cel.StringType),
		cel.Variable("entry_id", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("priority", cel.StringType),
		cel.Variable("position", cel.IntType),
		cel.Variable("at_ms", cel.IntType),
		cel.Variable("now_ms", cel.IntType),
		// Parsed entry snapshot for field filtering
		cel.Variable("entry", cel.DynType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return Filter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog, enabled: true}, nil
}

// Match evaluates the filter against ev. When disabled, returns true.
// Evaluation errors count as non-matches.
func (f Filter) Match(ev Event) bool {
	if !f.enabled {
		return true
	}
	var entryObj any
	_ = json.Unmarshal(ev.Entry, &entryObj)
	out, _, err := f.prog.Eval(map[string]any{
		"type":     string(ev.Type),
		"location": ev.LocationID,
		"entry_id": ev.EntryID,
		"status":   ev.Status,
		"priority": ev.Priority,
		"position": int64(ev.Position),
		"at_ms":    ev.AtMs,
		"now_ms":   time.Now().UnixMilli(),
		"entry":    entryObj,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
