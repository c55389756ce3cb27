// Package policy keeps the permission rules loaded from the adapter, grouped
// by policy type. It follows the same discipline as the role graph: writers
// serialize and publish immutable snapshots, readers never block.
package policy

import (
	"strings"
	"sync"
	"sync/atomic"
)

// ruleSep joins rule values into a set key; the unit separator cannot appear
// in sane policy values
const ruleSep = "\x1f"

// Store holds permission rules per policy type. Rules keep insertion order,
// which the priority effect depends on. The zero value is not usable, call
// New.
type Store struct {
	state atomic.Pointer[state]
	mu    sync.Mutex
}

type state struct {
	rules map[string][][]string
	index map[string]map[string]int // ptype -> joined rule -> position
}

// New creates an empty store
func New() *Store {
	s := &Store{}
	s.state.Store(&state{
		rules: make(map[string][][]string),
		index: make(map[string]map[string]int),
	})
	return s
}

// Rules returns the rules of ptype in insertion order. The returned slice is
// shared and must not be mutated.
func (s *Store) Rules(ptype string) [][]string {
	return s.state.Load().rules[ptype]
}

// Has reports whether the exact rule is present
func (s *Store) Has(ptype string, rule []string) bool {
	_, ok := s.state.Load().index[ptype][strings.Join(rule, ruleSep)]
	return ok
}

// Add inserts a rule, reporting false when it was already present
func (s *Store) Add(ptype string, rule []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	key := strings.Join(rule, ruleSep)
	if _, ok := cur.index[ptype][key]; ok {
		return false
	}

	next := cur.clone(ptype)
	next.index[ptype][key] = len(next.rules[ptype])
	next.rules[ptype] = append(next.rules[ptype], rule)
	s.state.Store(next)
	return true
}

// Remove deletes a rule, reporting false when it was absent
func (s *Store) Remove(ptype string, rule []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	key := strings.Join(rule, ruleSep)
	if _, ok := cur.index[ptype][key]; !ok {
		return false
	}

	next := cur.clone(ptype)
	pos := next.index[ptype][key]
	next.rules[ptype] = append(next.rules[ptype][:pos:pos], next.rules[ptype][pos+1:]...)
	delete(next.index[ptype], key)
	for k, p := range next.index[ptype] {
		if p > pos {
			next.index[ptype][k] = p - 1
		}
	}
	s.state.Store(next)
	return true
}

// RemoveFiltered deletes every rule of ptype whose values starting at
// fieldIndex equal fieldValues, empty filter values matching anything.
// It returns the removed rules.
func (s *Store) RemoveFiltered(ptype string, fieldIndex int, fieldValues ...string) [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()

	var kept, removed [][]string
	for _, rule := range cur.rules[ptype] {
		if matchesFilter(rule, fieldIndex, fieldValues) {
			removed = append(removed, rule)
		} else {
			kept = append(kept, rule)
		}
	}
	if len(removed) == 0 {
		return nil
	}

	next := cur.clone(ptype)
	next.rules[ptype] = kept
	next.index[ptype] = make(map[string]int, len(kept))
	for i, rule := range kept {
		next.index[ptype][strings.Join(rule, ruleSep)] = i
	}
	s.state.Store(next)
	return removed
}

// Clear drops every rule
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Store(&state{
		rules: make(map[string][][]string),
		index: make(map[string]map[string]int),
	})
}

// PTypes returns every policy type holding at least one rule
func (s *Store) PTypes() []string {
	cur := s.state.Load()
	ptypes := make([]string, 0, len(cur.rules))
	for pt, rules := range cur.rules {
		if len(rules) > 0 {
			ptypes = append(ptypes, pt)
		}
	}
	return ptypes
}

func matchesFilter(rule []string, fieldIndex int, fieldValues []string) bool {
	for i, v := range fieldValues {
		if v == "" {
			continue
		}
		if fieldIndex+i >= len(rule) || rule[fieldIndex+i] != v {
			return false
		}
	}
	return true
}

// clone copies the top-level maps and the buckets of ptype, leaving other
// policy types shared with the previous snapshot
func (s *state) clone(ptype string) *state {
	next := &state{
		rules: make(map[string][][]string, len(s.rules)+1),
		index: make(map[string]map[string]int, len(s.index)+1),
	}
	for pt, rules := range s.rules {
		next.rules[pt] = rules
	}
	for pt, idx := range s.index {
		next.index[pt] = idx
	}

	rules := make([][]string, len(s.rules[ptype]))
	copy(rules, s.rules[ptype])
	next.rules[ptype] = rules

	idx := make(map[string]int, len(s.index[ptype])+1)
	for k, v := range s.index[ptype] {
		idx[k] = v
	}
	next.index[ptype] = idx
	return next
}
