// Package fake is an in-memory adapter for tests and for engines whose
// policies need no persistence. Several engines may share one instance to
// emulate a common store.
package fake

import (
	"strings"
	"sync"

	"github.com/supremind/perm/types"
)

var _ types.MutableAdapter = (*Adapter)(nil)

// Adapter keeps rules in memory, deduplicated, in insertion order
type Adapter struct {
	mu    sync.Mutex
	rules []types.PolicyRule
	index map[string]int
}

// NewAdapter creates an adapter preloaded with the given rules
func NewAdapter(rules ...types.PolicyRule) *Adapter {
	a := &Adapter{index: make(map[string]int)}
	for _, r := range rules {
		a.AddPolicy(r.Section, r.PType, r.Values)
	}
	return a
}

// LoadPolicy implements Adapter interface
func (a *Adapter) LoadPolicy() ([]types.PolicyRule, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]types.PolicyRule, len(a.rules))
	copy(out, a.rules)
	return out, nil
}

// SavePolicy implements Adapter interface
func (a *Adapter) SavePolicy(rules []types.PolicyRule) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rules = nil
	a.index = make(map[string]int, len(rules))
	for _, r := range rules {
		key := ruleKey(r.PType, r.Values)
		if _, ok := a.index[key]; ok {
			continue
		}
		a.index[key] = len(a.rules)
		a.rules = append(a.rules, r)
	}
	return nil
}

// AddPolicy implements MutableAdapter interface
func (a *Adapter) AddPolicy(sec, ptype string, rule []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := ruleKey(ptype, rule)
	if _, ok := a.index[key]; ok {
		return nil
	}
	a.index[key] = len(a.rules)
	a.rules = append(a.rules, types.PolicyRule{Section: sec, PType: ptype, Values: rule})
	return nil
}

// RemovePolicy implements MutableAdapter interface
func (a *Adapter) RemovePolicy(sec, ptype string, rule []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := ruleKey(ptype, rule)
	pos, ok := a.index[key]
	if !ok {
		return nil
	}
	a.rules = append(a.rules[:pos], a.rules[pos+1:]...)
	delete(a.index, key)
	for k, p := range a.index {
		if p > pos {
			a.index[k] = p - 1
		}
	}
	return nil
}

func ruleKey(ptype string, rule []string) string {
	return ptype + "\x1f" + strings.Join(rule, "\x1f")
}
