// Package template loads declarative animation templates and expands them
// into concrete animation actions. Templates are JSON-with-comments files
// describing parameterized, randomized tween sequences; expansion happens at
// play time against the caller's arguments.
package template

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/expr-lang/expr"
)

var (
	// ErrUnknownTemplate is returned by Play for a name no file declares.
	ErrUnknownTemplate = errors.New("template: unknown template")
	// ErrMissingParameter is returned when a required parameter has neither
	// an argument nor a default.
	ErrMissingParameter = errors.New("template: missing required parameter")
)

// Param declares one external template parameter.
type Param struct {
	Name        string          `json:"name"`
	Type        string          `json:"type"` // float, int or str
	Default     json.RawMessage `json:"default,omitempty"`
	Description string          `json:"description,omitempty"`
}

// variable is one local binding, evaluated in declaration order.
type variable struct {
	name  string
	value json.RawMessage
}

// variables preserves the declaration order of the JSON object.
type variables []variable

func (v *variables) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok != json.Delim('{') {
		return errors.New("template: variables must be an object")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return errors.New("template: variable name must be a string")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		*v = append(*v, variable{name: key, value: raw})
	}
	_, err = dec.Token()
	return err
}

// templateAction is one declarative tween of a template.
type templateAction struct {
	Parameter string          `json:"parameter"`
	From      json.RawMessage `json:"from,omitempty"`
	Target    json.RawMessage `json:"target"`
	Duration  json.RawMessage `json:"duration"`
	Delay     json.RawMessage `json:"delay,omitempty"`
	Easing    string          `json:"easing,omitempty"`
}

// Template is one parsed template file.
type Template struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Params      []Param          `json:"params,omitempty"`
	Variables   variables        `json:"variables,omitempty"`
	Actions     []templateAction `json:"actions"`
}

// Info is the listing view of a template.
type Info struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`
}

// ResolvedAction is one concrete tween produced by expansion.
type ResolvedAction struct {
	Parameter string
	From      *float64
	Target    float64
	Duration  time.Duration
	Delay     time.Duration
	Easing    string
}

// Player loads templates from a directory. Every List and Play call rereads
// the directory, so edits take effect immediately; the human-driven call
// rate makes the rereads cheap.
type Player struct {
	dir string
}

// NewPlayer creates a player over the given templates directory.
func NewPlayer(dir string) *Player {
	return &Player{dir: dir}
}

// load parses every *.jsonc file in the directory. Files are visited in
// name order; a duplicate template name overrides the earlier one with a
// warning.
func (p *Player) load() (map[string]*Template, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Template{}, nil
		}
		return nil, fmt.Errorf("template: read directory %s: %w", p.dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".jsonc" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	templates := make(map[string]*Template, len(names))
	for _, name := range names {
		path := filepath.Join(p.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("cannot read template file", "file", path, "err", err)
			continue
		}
		var t Template
		if err := json.Unmarshal(stripComments(data), &t); err != nil {
			slog.Warn("cannot parse template file", "file", path, "err", err)
			continue
		}
		if t.Name == "" {
			slog.Warn("template file has no name", "file", path)
			continue
		}
		if _, exists := templates[t.Name]; exists {
			slog.Warn("duplicate template name, later file wins", "name", t.Name, "file", path)
		}
		templates[t.Name] = &t
	}
	return templates, nil
}

// List returns metadata for every loadable template, sorted by name.
func (p *Player) List() ([]Info, error) {
	templates, err := p.load()
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(templates))
	for _, t := range templates {
		params := t.Params
		if params == nil {
			params = []Param{}
		}
		infos = append(infos, Info{Name: t.Name, Description: t.Description, Params: params})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Resolve expands the named template against params, returning the concrete
// actions with delay added to each action's own delay, and the estimated
// completion time max(delay+duration) over all actions.
func (p *Player) Resolve(name string, params map[string]any, delay time.Duration) ([]ResolvedAction, time.Duration, error) {
	templates, err := p.load()
	if err != nil {
		return nil, 0, err
	}
	t, ok := templates[name]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}

	env, err := t.buildEnv(params)
	if err != nil {
		return nil, 0, err
	}

	var resolved []ResolvedAction
	var completion time.Duration
	for i, a := range t.Actions {
		ra, err := resolveAction(a, env)
		if err != nil {
			return nil, 0, fmt.Errorf("template: %s action %d: %w", name, i, err)
		}
		ra.Delay += delay
		if end := ra.Delay + ra.Duration; end > completion {
			completion = end
		}
		resolved = append(resolved, ra)
	}
	return resolved, completion, nil
}

// buildEnv prepares the evaluation context: declared parameters first, then
// local variables in declaration order, each seeing the bindings before it.
func (t *Template) buildEnv(params map[string]any) (map[string]any, error) {
	env := make(map[string]any, len(t.Params)+len(t.Variables))

	for _, p := range t.Params {
		if v, ok := params[p.Name]; ok {
			env[p.Name] = coerce(v, p.Type)
			continue
		}
		if p.Default != nil {
			v, err := evalValue(p.Default, env)
			if err != nil {
				return nil, fmt.Errorf("template: default for %q: %w", p.Name, err)
			}
			env[p.Name] = v
			continue
		}
		return nil, fmt.Errorf("%w: %q", ErrMissingParameter, p.Name)
	}

	for _, v := range t.Variables {
		value, err := evalValue(v.value, env)
		if err != nil {
			return nil, fmt.Errorf("template: variable %q: %w", v.name, err)
		}
		env[v.name] = value
	}
	return env, nil
}

func resolveAction(a templateAction, env map[string]any) (ResolvedAction, error) {
	ra := ResolvedAction{Parameter: a.Parameter, Easing: a.Easing}
	if a.Parameter == "" {
		return ra, errors.New("action has no parameter")
	}

	if a.From != nil {
		from, err := evalFloat(a.From, env)
		if err != nil {
			return ra, fmt.Errorf("from: %w", err)
		}
		ra.From = &from
	}

	target, err := evalFloat(a.Target, env)
	if err != nil {
		return ra, fmt.Errorf("target: %w", err)
	}
	ra.Target = target

	duration, err := evalFloat(a.Duration, env)
	if err != nil {
		return ra, fmt.Errorf("duration: %w", err)
	}
	ra.Duration = time.Duration(duration * float64(time.Second))

	if a.Delay != nil {
		d, err := evalFloat(a.Delay, env)
		if err != nil {
			return ra, fmt.Errorf("delay: %w", err)
		}
		ra.Delay = time.Duration(d * float64(time.Second))
	}
	return ra, nil
}

// randomNode is the JSON shape of a randomized value.
type randomNode struct {
	RandomFloat []float64 `json:"random_float"`
	RandomInt   []int     `json:"random_int"`
}

// evalValue resolves one value node: a literal number or string, a
// random-range object, or an expression string evaluated over env.
func evalValue(raw json.RawMessage, env map[string]any) (any, error) {
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return num, nil
	}

	var node randomNode
	if err := json.Unmarshal(raw, &node); err == nil {
		if len(node.RandomFloat) == 2 {
			lo, hi := node.RandomFloat[0], node.RandomFloat[1]
			if hi <= lo {
				return lo, nil
			}
			return lo + rand.Float64()*(hi-lo), nil
		}
		if len(node.RandomInt) == 2 {
			lo, hi := node.RandomInt[0], node.RandomInt[1]
			if hi <= lo {
				return float64(lo), nil
			}
			return float64(lo + rand.IntN(hi-lo+1)), nil
		}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		out, err := expr.Eval(s, env)
		if err != nil {
			// Not every string is an expression; a bare word that does not
			// evaluate stays a string literal.
			return s, nil
		}
		return normalizeNumber(out), nil
	}
	return nil, fmt.Errorf("unsupported value node %s", raw)
}

func evalFloat(raw json.RawMessage, env map[string]any) (float64, error) {
	v, err := evalValue(raw, env)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("value %v is not numeric", v)
	}
}

// normalizeNumber folds the integer types expr may return into float64.
func normalizeNumber(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return v
	}
}

// coerce aligns an argument with the declared parameter type so expressions
// see consistent number types.
func coerce(v any, typ string) any {
	switch typ {
	case "float", "int":
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case json.Number:
			f, err := n.Float64()
			if err == nil {
				return f
			}
		}
	}
	return v
}

// stripComments removes // line comments and /* block */ comments outside
// string literals, preserving offsets with spaces so parse errors still
// point at sensible positions.
func stripComments(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)

	inString := false
	escaped := false
	for i := 0; i < len(out); i++ {
		c := out[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
		case c == '/' && i+1 < len(out) && out[i+1] == '/':
			for i < len(out) && out[i] != '\n' {
				out[i] = ' '
				i++
			}
		case c == '/' && i+1 < len(out) && out[i+1] == '*':
			for i < len(out) {
				if out[i] == '*' && i+1 < len(out) && out[i+1] == '/' {
					out[i] = ' '
					out[i+1] = ' '
					i++
					break
				}
				if out[i] != '\n' {
					out[i] = ' '
				}
				i++
			}
		}
	}
	return out
}
