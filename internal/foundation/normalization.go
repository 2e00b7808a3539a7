package foundation

import "strings"

// Normalizer maps raw string input to a canonical enum value, falling back to
// a default when input is unknown. Lookup is case-insensitive and trims space.
type Normalizer[T comparable] struct {
	values       map[string]T
	defaultValue T
}

// NewNormalizer creates a normalizer over the given canonical values.
func NewNormalizer[T comparable](values map[string]T, defaultValue T) *Normalizer[T] {
	lowered := make(map[string]T, len(values))
	for k, v := range values {
		lowered[strings.ToLower(k)] = v
	}
	return &Normalizer[T]{values: lowered, defaultValue: defaultValue}
}

// Normalize converts raw input to the canonical value, returning the default
// for unknown input.
func (n *Normalizer[T]) Normalize(raw string) T {
	if v, ok := n.values[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return v
	}
	return n.defaultValue
}

// IsKnown reports whether the raw input maps to a canonical value.
func (n *Normalizer[T]) IsKnown(raw string) bool {
	_, ok := n.values[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}
