// Package eventfilter selects pushed events with CEL expressions, e.g.
//
//	type == "entity_created" && group == "notes"
//	type.startsWith("scheduled-tasks:") && data.status == "error"
//
// Expressions see three variables: type (string), group (string) and data
// (the event payload as a map).
package eventfilter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/cel-go/cel"

	"github.com/nextlevelbuilder/graphiti-browser/pkg/protocol"
)

type Filter struct {
	expr string
	prg  cel.Program
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("type", cel.StringType),
		cel.Variable("group", cel.StringType),
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
}

// Compile parses and type-checks expr. The expression must yield a bool.
func Compile(expr string) (*Filter, error) {
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile filter: %w", iss.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("compile filter: expression yields %s, want bool", out)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("compile filter: %w", err)
	}
	return &Filter{expr: expr, prg: prg}, nil
}

func (f *Filter) String() string { return f.expr }

// Match evaluates the filter against evt. A nil filter matches everything;
// evaluation errors (e.g. a missing data key) do not match.
func (f *Filter) Match(evt protocol.Event) bool {
	if f == nil {
		return true
	}
	out, _, err := f.prg.Eval(map[string]any{
		"type":  string(evt.Type()),
		"group": evt.Group(),
		"data":  payload(evt),
	})
	if err != nil {
		slog.Debug("eventfilter: eval failed", "expr", f.expr, "event", evt.Type(), "error", err)
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// payload renders the event body as a JSON-shaped map. Whole numbers become
// int64 so integer literals compare as written.
func payload(evt protocol.Event) map[string]any {
	raw, err := json.Marshal(evt)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return normalize(m).(map[string]any)
}

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, x := range t {
			t[k] = normalize(x)
		}
		return t
	case []any:
		for i, x := range t {
			t[i] = normalize(x)
		}
		return t
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t)
		}
		return t
	default:
		return v
	}
}
