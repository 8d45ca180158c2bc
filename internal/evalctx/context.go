// Package evalctx defines the evaluation context: the identity bundle that every
// flag evaluation is computed against.
//
// A Context is immutable once built. Builders copy their attribute map on Build,
// and accessors hand out copies, so a Context can be shared freely between
// goroutines.
package evalctx

import (
	"encoding/json"
	"errors"
	"maps"
	"strings"
)

// DefaultKind is the kind assigned when none is given.
const DefaultKind = "user"

// ErrEmptyKey is returned by Context.Err when the context has no key.
var ErrEmptyKey = errors.New("evaluation context key must not be empty")

// Context is an identity plus optional attributes.
type Context struct {
	key        string
	kind       string
	name       string
	anonymous  bool
	attributes map[string]any
}

// New returns a context of DefaultKind with the given key and no attributes.
func New(key string) Context {
	return Context{key: key, kind: DefaultKind}
}

// Key returns the unique identity key.
func (c Context) Key() string { return c.key }

// Kind returns the context kind, DefaultKind if unset.
func (c Context) Kind() string {
	if c.kind == "" {
		return DefaultKind
	}
	return c.kind
}

// Name returns the optional display name.
func (c Context) Name() string { return c.name }

// Anonymous reports whether the context was marked anonymous.
func (c Context) Anonymous() bool { return c.anonymous }

// Err reports why the context cannot be evaluated, or nil when it can.
func (c Context) Err() error {
	if strings.TrimSpace(c.key) == "" {
		return ErrEmptyKey
	}
	return nil
}

// Attributes returns a copy of the custom attributes. Never nil.
func (c Context) Attributes() map[string]any {
	out := make(map[string]any, len(c.attributes))
	maps.Copy(out, c.attributes)
	return out
}

// GetValue resolves a built-in attribute (key, kind, name, anonymous) or a custom one.
func (c Context) GetValue(name string) (any, bool) {
	switch name {
	case "key", "id":
		return c.key, c.key != ""
	case "kind":
		return c.Kind(), true
	case "name":
		return c.name, c.name != ""
	case "anonymous":
		return c.anonymous, true
	}
	v, ok := c.attributes[name]
	return v, ok
}

type wireContext struct {
	Kind       string         `json:"kind"`
	Key        string         `json:"key"`
	Name       string         `json:"name,omitempty"`
	Anonymous  bool           `json:"anonymous,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c Context) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireContext{
		Kind:       c.Kind(),
		Key:        c.key,
		Name:       c.name,
		Anonymous:  c.anonymous,
		Attributes: c.attributes,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Context) UnmarshalJSON(data []byte) error {
	var w wireContext
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	b := NewBuilder(w.Key).Kind(w.Kind).Name(w.Name).Anonymous(w.Anonymous)
	for k, v := range w.Attributes {
		b.Set(k, v)
	}
	*c = b.Build()
	return nil
}

// Builder assembles a Context.
type Builder struct {
	key        string
	kind       string
	name       string
	anonymous  bool
	attributes map[string]any
}

// NewBuilder starts a Context with the given key.
func NewBuilder(key string) *Builder {
	return &Builder{key: key}
}

// Kind sets the context kind.
func (b *Builder) Kind(kind string) *Builder {
	b.kind = kind
	return b
}

// Name sets the display name.
func (b *Builder) Name(name string) *Builder {
	b.name = name
	return b
}

// Anonymous marks the context as anonymous.
func (b *Builder) Anonymous(anonymous bool) *Builder {
	b.anonymous = anonymous
	return b
}

// Set stores a custom attribute. Built-in names are ignored.
func (b *Builder) Set(name string, value any) *Builder {
	switch name {
	case "", "key", "id", "kind", "name", "anonymous":
		return b
	}
	if b.attributes == nil {
		b.attributes = make(map[string]any)
	}
	b.attributes[name] = value
	return b
}

// Build returns the immutable Context. The builder may be reused afterwards.
func (b *Builder) Build() Context {
	c := Context{
		key:       b.key,
		kind:      b.kind,
		name:      b.name,
		anonymous: b.anonymous,
	}
	if c.kind == "" {
		c.kind = DefaultKind
	}
	if len(b.attributes) > 0 {
		c.attributes = maps.Clone(b.attributes)
	}
	return c
}
