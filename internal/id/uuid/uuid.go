// Package uuid names crawl runs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator hands out run IDs. Version 7 IDs sort by start time, so log
// lines for successive runs of the same URL order naturally.
type Generator struct{}

// New returns a run ID generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a fresh version 7 UUID.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("new run id: %w", err)
	}
	return id.String(), nil
}
