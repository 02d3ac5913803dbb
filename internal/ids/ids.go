// Package ids issues identifiers for persisted judging records.
package ids

import (
	"sync"

	"github.com/google/uuid"
)

// Provider issues new unique identifiers.
type Provider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs a Provider that issues UUIDv7 identifiers.
func NewUUIDProvider() Provider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// Sequence hands out a fixed list of identifiers in order. Tests use it for stable ids.
type Sequence struct {
	mu     sync.Mutex
	values []string
	index  int
}

// NewSequence builds a Sequence over values.
func NewSequence(values ...string) *Sequence {
	return &Sequence{values: append([]string(nil), values...)}
}

func (s *Sequence) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index >= len(s.values) {
		return "", errExhausted
	}
	value := s.values[s.index]
	s.index++
	return value, nil
}
