package phrases

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// maxRejectedDraws bounds rejection sampling before the generator falls back to
// drawing from the enumerated remainder.
const maxRejectedDraws = 64

// ErrExhausted indicates every combination is already in the used set. Callers must
// clear the set before asking for another phrase.
var ErrExhausted = errors.New("phrases: combinations exhausted")

// UsedSet records phrases already produced within one exhaustion cycle.
// The zero value is ready to use.
type UsedSet struct {
	items map[string]struct{}
}

// NewUsedSet returns an empty set.
func NewUsedSet() *UsedSet {
	return &UsedSet{items: make(map[string]struct{})}
}

// Add marks text as used.
func (s *UsedSet) Add(text string) {
	if s.items == nil {
		s.items = make(map[string]struct{})
	}
	s.items[text] = struct{}{}
}

// Has reports whether text was already produced.
func (s *UsedSet) Has(text string) bool {
	if s == nil {
		return false
	}
	_, ok := s.items[text]
	return ok
}

// Len returns the number of recorded phrases.
func (s *UsedSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Clear forgets every recorded phrase.
func (s *UsedSet) Clear() {
	s.items = make(map[string]struct{})
}

// Generator draws phrases uniformly from a vocabulary. It is not safe for concurrent use.
type Generator struct {
	vocabulary Vocabulary
	random     *rand.Rand
}

// NewGenerator validates the vocabulary and binds it to the random source.
// A nil source yields a randomly seeded PCG source.
func NewGenerator(vocabulary Vocabulary, source rand.Source) (*Generator, error) {
	if err := vocabulary.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		source = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Generator{
		vocabulary: vocabulary,
		random:     rand.New(source),
	}, nil
}

// Size returns the full cartesian product size of the vocabulary.
func (g *Generator) Size() int {
	return g.vocabulary.Size()
}

// Generate returns a phrase absent from used. It does not add the phrase to used.
// When used already holds every combination it returns ErrExhausted.
func (g *Generator) Generate(used *UsedSet) (string, error) {
	size := g.vocabulary.Size()
	if used.Len() >= size {
		return "", fmt.Errorf("%w: %d of %d used", ErrExhausted, used.Len(), size)
	}

	subjects := len(g.vocabulary.Subjects)
	roles := len(g.vocabulary.Roles)
	activities := len(g.vocabulary.Activities)

	for attempt := 0; attempt < maxRejectedDraws; attempt++ {
		text := g.vocabulary.Compose(g.random.IntN(subjects), g.random.IntN(roles), g.random.IntN(activities))
		if !used.Has(text) {
			return text, nil
		}
	}

	remaining := make([]string, 0, size-used.Len())
	for subjectIndex := 0; subjectIndex < subjects; subjectIndex++ {
		for roleIndex := 0; roleIndex < roles; roleIndex++ {
			for activityIndex := 0; activityIndex < activities; activityIndex++ {
				text := g.vocabulary.Compose(subjectIndex, roleIndex, activityIndex)
				if !used.Has(text) {
					remaining = append(remaining, text)
				}
			}
		}
	}
	if len(remaining) == 0 {
		return "", fmt.Errorf("%w: %d of %d used", ErrExhausted, used.Len(), size)
	}
	return remaining[g.random.IntN(len(remaining))], nil
}
