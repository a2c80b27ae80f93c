// Package id generates run identifiers.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates run ids.
type Generator interface {
	NewRunID() (uuid.UUID, error)
}

// V7 generates time-ordered UUIDv7 ids, so run ids sort by start time.
type V7 struct{}

// NewRunID returns a UUIDv7.
func (V7) NewRunID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return id, nil
}

// Sequence replays fixed ids and then fails. Tests use it to pin run ids.
type Sequence struct {
	ids []uuid.UUID
}

// NewSequence returns a Sequence over ids.
func NewSequence(ids ...uuid.UUID) *Sequence {
	return &Sequence{ids: ids}
}

// NewRunID returns the next id.
func (s *Sequence) NewRunID() (uuid.UUID, error) {
	if len(s.ids) == 0 {
		return uuid.Nil, fmt.Errorf("id sequence exhausted")
	}
	next := s.ids[0]
	s.ids = s.ids[1:]
	return next, nil
}
