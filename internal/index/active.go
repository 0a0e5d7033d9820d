package index

import "fmt"

// ActiveSet is the set of deliveries a truck runs today. Order is kept for
// display but membership is what matters: no id appears twice.
type ActiveSet []string

// Contains reports whether id is in the set.
func (s ActiveSet) Contains(id string) bool {
	for _, existing := range s {
		if existing == id {
			return true
		}
	}
	return false
}

// Add returns the union of the set and ids.
func (s ActiveSet) Add(ids ...string) ActiveSet {
	out := append(ActiveSet(nil), s...)
	for _, id := range ids {
		if !out.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

// RemoveIfPresent returns the set without id. A missing id is not an error.
func (s ActiveSet) RemoveIfPresent(id string) ActiveSet {
	out := make(ActiveSet, 0, len(s))
	for _, existing := range s {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

// RemoveRequired returns the set without id and fails with ErrIDNotFound
// when id was not there.
func (s ActiveSet) RemoveRequired(id string) (ActiveSet, error) {
	if !s.Contains(id) {
		return s, fmt.Errorf("%w: %s not in active set", ErrIDNotFound, id)
	}
	return s.RemoveIfPresent(id), nil
}
