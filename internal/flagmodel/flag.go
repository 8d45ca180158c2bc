// Package flagmodel holds the flag definitions exchanged between the flag service
// and the SDK: flags, variants, targeting rules and the snapshot that bundles them.
package flagmodel

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Operator names a targeting condition comparison. See internal/engine for the
// accepted spellings.
type Operator string

// Condition is one targeting predicate. Conditions of a Rule are ANDed.
type Condition struct {
	Property string   `json:"property" yaml:"property"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value" yaml:"value"`
}

// Rule is a targeting rule. Distribution maps variant names to weights.
type Rule struct {
	ID           string         `json:"id" yaml:"id"`
	Conditions   []Condition    `json:"conditions" yaml:"conditions"`
	Distribution map[string]int `json:"distribution,omitempty" yaml:"distribution,omitempty"`
}

// Variant is one arm of a multi-variant flag.
type Variant struct {
	Name   string         `json:"name" yaml:"name"`
	Weight int            `json:"weight" yaml:"weight"` // percent, all weights sum to 100
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Flag is a feature flag definition.
type Flag struct {
	Key            string         `json:"key" yaml:"key"`
	Description    string         `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled        bool           `json:"enabled" yaml:"enabled"`
	Rollout        int32          `json:"rollout" yaml:"rollout"`
	Expression     *string        `json:"expression,omitempty" yaml:"expression,omitempty"`
	Config         map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Variants       []Variant      `json:"variants,omitempty" yaml:"variants,omitempty"`
	TargetingRules []Rule         `json:"targetingRules,omitempty" yaml:"targetingRules,omitempty"`
	Env            string         `json:"env,omitempty" yaml:"env,omitempty"`
	Version        int            `json:"version,omitempty" yaml:"version,omitempty"`
	UpdatedAt      time.Time      `json:"updatedAt" yaml:"updatedAt,omitempty"`
}

// Snapshot is the complete flag set for one environment at one point in time.
type Snapshot struct {
	ETag        string          `json:"etag"`
	Flags       map[string]Flag `json:"flags"`
	RolloutSalt string          `json:"rolloutSalt,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Get returns the flag with the given key.
func (s *Snapshot) Get(key string) (*Flag, bool) {
	if s == nil {
		return nil, false
	}
	f, ok := s.Flags[key]
	if !ok {
		return nil, false
	}
	return &f, true
}

// BuildSnapshot indexes flags by key and computes a weak ETag over their content.
// Later duplicates of a key replace earlier ones.
func BuildSnapshot(flags []Flag, salt string) *Snapshot {
	byKey := make(map[string]Flag, len(flags))
	for _, f := range flags {
		if f.Rollout < 0 {
			f.Rollout = 0
		}
		if f.Rollout > 100 {
			f.Rollout = 100
		}
		byKey[f.Key] = f
	}
	// encoding/json sorts map keys, so equal flag sets hash equally.
	blob, _ := json.Marshal(struct {
		Flags map[string]Flag `json:"flags"`
		Salt  string          `json:"salt"`
	}{byKey, salt})
	sum := sha256.Sum256(blob)
	return &Snapshot{
		ETag:        `W/"` + hex.EncodeToString(sum[:]) + `"`,
		Flags:       byKey,
		RolloutSalt: salt,
		UpdatedAt:   time.Now().UTC(),
	}
}

// File is the on-disk flag document: `flags:` followed by a list of flags.
type File struct {
	Flags []Flag `yaml:"flags" json:"flags"`
}

// ParseFlagsFile decodes a YAML or JSON flag document.
func ParseFlagsFile(data []byte) ([]Flag, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse flags file: %w", err)
	}
	for i, flag := range f.Flags {
		if flag.Key == "" {
			return nil, fmt.Errorf("parse flags file: flag #%d has no key", i+1)
		}
		f.Flags[i].Config = normalizeMap(flag.Config)
		for j := range flag.Variants {
			f.Flags[i].Variants[j].Config = normalizeMap(flag.Variants[j].Config)
		}
	}
	return f.Flags, nil
}

// normalizeMap rewrites nested map[any]any values into map[string]any so the
// decoded config is JSON-encodable.
func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
	return m
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return normalizeMap(val)
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[fmt.Sprint(k)] = normalizeValue(inner)
		}
		return out
	case []any:
		for i := range val {
			val[i] = normalizeValue(val[i])
		}
		return val
	default:
		return v
	}
}
