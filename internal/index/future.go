// Package index holds the pure operations over a truck's delivery indexes:
// the date-keyed future index and the active set.
package index

import (
	"fmt"
	"sort"
)

// FutureIndex maps a civil date to the deliveries scheduled for it. Every
// operation returns a new map and leaves its receiver untouched.
type FutureIndex map[string][]string

// Clone returns a deep copy. Cloning nil yields an empty, non-nil index.
func (f FutureIndex) Clone() FutureIndex {
	out := make(FutureIndex, len(f))
	for date, ids := range f {
		out[date] = append([]string(nil), ids...)
	}
	return out
}

// Add puts id in the bucket for date, creating the bucket when absent.
// Adding an id already in the bucket changes nothing.
func (f FutureIndex) Add(id, date string) FutureIndex {
	out := f.Clone()
	for _, existing := range out[date] {
		if existing == id {
			return out
		}
	}
	out[date] = append(out[date], id)
	return out
}

// Remove takes id out of the bucket for date and deletes the bucket once
// it is empty. It fails with ErrDateNotFound when the bucket does not exist
// and ErrIDNotFound when the id is not in it.
func (f FutureIndex) Remove(id, date string) (FutureIndex, error) {
	ids, ok := f[date]
	if !ok {
		return f, fmt.Errorf("%w: %s not among %v", ErrDateNotFound, date, f.Dates())
	}
	pos := -1
	for i, existing := range ids {
		if existing == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		return f, fmt.Errorf("%w: %s not in the %s bucket", ErrIDNotFound, id, date)
	}

	out := f.Clone()
	rest := append(out[date][:pos], out[date][pos+1:]...)
	if len(rest) == 0 {
		delete(out, date)
	} else {
		out[date] = rest
	}
	return out, nil
}

// Locate returns the date whose bucket holds id.
func (f FutureIndex) Locate(id string) (string, bool) {
	for _, date := range f.Dates() {
		for _, existing := range f[date] {
			if existing == id {
				return date, true
			}
		}
	}
	return "", false
}

// Take removes the bucket for date and returns its ids.
func (f FutureIndex) Take(date string) (FutureIndex, []string) {
	out := f.Clone()
	ids := out[date]
	delete(out, date)
	return out, ids
}

// PruneBefore drops every bucket dated strictly before date and returns the
// dropped keys in order.
func (f FutureIndex) PruneBefore(date string) (FutureIndex, []string) {
	out := f.Clone()
	var pruned []string
	for _, key := range f.Dates() {
		if key < date {
			delete(out, key)
			pruned = append(pruned, key)
		}
	}
	return out, pruned
}

// Dates returns the keys in ascending order.
func (f FutureIndex) Dates() []string {
	dates := make([]string, 0, len(f))
	for date := range f {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates
}

// Len counts ids across every bucket.
func (f FutureIndex) Len() int {
	n := 0
	for _, ids := range f {
		n += len(ids)
	}
	return n
}
