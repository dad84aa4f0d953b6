// Package uuid generates task and run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 strings with an optional prefix.
type Generator struct {
	prefix string
}

// New returns a Generator with no prefix.
func New() *Generator {
	return &Generator{}
}

// WithPrefix returns a Generator whose IDs start with prefix, e.g. "run-".
func WithPrefix(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// NewID returns a prefixed UUIDv7 string.
func (g *Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return g.prefix + id.String(), nil
}
