package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParamRange is one searchable parameter with its ordered candidate values.
// Values hold decoded YAML scalars (int, float64, bool, string) or lists.
type ParamRange struct {
	Name   string
	Values []any
}

// ParamSpace is an ordered list of parameter ranges. Declaration order
// defines the lexicographic enumeration order of combinations.
type ParamSpace []ParamRange

// Size returns the cartesian-product size, saturating at math.MaxInt.
func (ps ParamSpace) Size() int {
	if len(ps) == 0 {
		return 0
	}
	n := 1
	for _, p := range ps {
		k := len(p.Values)
		if k == 0 {
			return 0
		}
		if n > math.MaxInt/k {
			return math.MaxInt
		}
		n *= k
	}
	return n
}

// Validate checks every candidate value can be applied to base and that no
// range lists the same value twice (10 and 10.0 count as the same value).
// Combinations may still fail Strategy.Validate as a whole (e.g. an
// oversold level above overbought); those surface per run.
func (ps ParamSpace) Validate(base Strategy) error {
	if len(ps) == 0 {
		return errors.New("parameter space is empty")
	}
	seen := make(map[string]bool, len(ps))
	for _, p := range ps {
		if seen[p.Name] {
			return fmt.Errorf("parameter %q declared twice", p.Name)
		}
		seen[p.Name] = true
		if len(p.Values) == 0 {
			return fmt.Errorf("parameter %q has no values", p.Name)
		}
		applied := make([]Strategy, 0, len(p.Values))
		for _, v := range p.Values {
			s := base.Clone()
			if err := s.Set(p.Name, v); err != nil {
				return err
			}
			for _, prev := range applied {
				if reflect.DeepEqual(prev, s) {
					return fmt.Errorf("parameter %q lists %v twice", p.Name, v)
				}
			}
			applied = append(applied, s)
		}
	}
	return nil
}

// Apply returns base with the value at idx[i] of range i assigned, for every i.
func (ps ParamSpace) Apply(base Strategy, idx []int) (Strategy, error) {
	s := base.Clone()
	for i, p := range ps {
		if err := s.Set(p.Name, p.Values[idx[i]]); err != nil {
			return Strategy{}, err
		}
	}
	return s, nil
}

// DefaultParamSpace mirrors the stock optimisation ranges.
func DefaultParamSpace() ParamSpace {
	return ParamSpace{
		{"ema1_period", []any{5, 8, 13, 21}},
		{"st_period", []any{7, 10, 14, 21}},
		{"st_multiplier", []any{2.0, 2.5, 3.0, 3.5, 4.0}},
		{"adx_period", []any{10, 14, 18, 21}},
		{"adx_threshold", []any{20, 25, 30, 35}},
		{"rsi_period", []any{9, 14, 21}},
		{"rsi_oversold", []any{25, 30, 35}},
		{"rsi_overbought", []any{65, 70, 75}},
		{"supertrend_delay_bars", []any{1, 2, 3, 4, 5}},
		{"expiry_minutes", []any{15, 30, 60, 120}},
		{"max_trades_per_day", []any{5, 10, 15, 20}},
		{"min_time_between_trades", []any{1, 3, 5, 10}},
	}
}

// LoadParamSpace reads a YAML mapping of parameter name → list of values.
// The mapping may sit at the document root or under a "parameters" key.
// Key order in the file is preserved.
func LoadParamSpace(path string) (ParamSpace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read param space: %w", err)
	}
	return ParseParamSpace(data)
}

// ParseParamSpace is LoadParamSpace over an in-memory document.
func ParseParamSpace(data []byte) (ParamSpace, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse param space: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("parse param space: empty document")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse param space: line %d: expected a mapping", root.Line)
	}
	if inner := mappingValue(root, "parameters"); inner != nil {
		root = inner
	}

	ps := make(ParamSpace, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		if val.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("parse param space: line %d: %q must be a list", val.Line, key.Value)
		}
		pr := ParamRange{Name: key.Value, Values: make([]any, 0, len(val.Content))}
		for _, item := range val.Content {
			var v any
			if err := item.Decode(&v); err != nil {
				return nil, fmt.Errorf("parse param space: line %d: %w", item.Line, err)
			}
			pr.Values = append(pr.Values, v)
		}
		ps = append(ps, pr)
	}
	return ps, nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key && m.Content[i+1].Kind == yaml.MappingNode {
			return m.Content[i+1]
		}
	}
	return nil
}

// Profile returns a named base strategy: "default" or "three-ema".
func Profile(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return Default(), nil
	case "three-ema", "three_ema", "3ema":
		return ThreeEMAProfile(), nil
	}
	return Strategy{}, fmt.Errorf("unknown profile %q", name)
}

// ApplyOverrides sets every scalar key of a YAML mapping on a copy of base.
// The mapping may sit at the document root or under a "strategy" key.
func ApplyOverrides(base Strategy, data []byte) (Strategy, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return base, fmt.Errorf("parse strategy: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return base, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return base, fmt.Errorf("parse strategy: line %d: expected a mapping", root.Line)
	}
	if inner := mappingValue(root, "strategy"); inner != nil {
		root = inner
	}

	s := base.Clone()
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		var v any
		if err := val.Decode(&v); err != nil {
			return base, fmt.Errorf("parse strategy: line %d: %w", val.Line, err)
		}
		if err := s.Set(key.Value, v); err != nil {
			return base, fmt.Errorf("parse strategy: line %d: %w", key.Line, err)
		}
	}
	return s, nil
}

// LoadOverrides is ApplyOverrides over a file.
func LoadOverrides(base Strategy, path string) (Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read strategy: %w", err)
	}
	return ApplyOverrides(base, data)
}
