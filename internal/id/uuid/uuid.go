// Package uuid issues crawl identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered (v7) crawl IDs.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 in its 16-byte form.
func (Generator) NewID() ([16]byte, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return [16]byte{}, fmt.Errorf("generate crawl id: %w", err)
	}
	return id, nil
}

// String renders a 16-byte ID in canonical UUID form.
func String(id [16]byte) string {
	return uuid.UUID(id).String()
}
