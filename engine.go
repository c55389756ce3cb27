package perm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"github.com/supremind/perm/internal/policy"
	"github.com/supremind/perm/internal/registry"
	"github.com/supremind/perm/model"
	"github.com/supremind/perm/types"
)

// Engine ties a parsed model, compiled matcher and effector, role managers,
// and the policy store together. Enforce may be called from any goroutine;
// mutations are serialized per engine.
type Engine struct {
	name    string
	log     logr.Logger
	adapter types.Adapter
	watcher types.Watcher

	model       *model.Model
	reduce      types.Reducer
	effectIndex int

	mu        sync.Mutex // serializes mutations and reloads
	rms       map[string]types.RoleManager
	store     *policy.Store
	roleFns   map[string]types.MatchingFunc
	domainFns map[string]types.MatchingFunc

	closeOnce sync.Once
}

// Enforce decides a request. The values must line up with the model's
// request definition, like (subject, object, action).
func (e *Engine) Enforce(rVals ...string) (bool, error) {
	snap, ok := registry.Lookup(e.name)
	if !ok {
		return false, fmt.Errorf("%w: engine %q is closed", types.ErrNotFound, e.name)
	}

	if want := len(model.Tokens(snap.Model.Request["r"])); len(rVals) != want {
		return false, fmt.Errorf("%w: expect %d request values, got %d", types.ErrInvalidRequest, want, len(rVals))
	}

	rules := snap.Policy.Rules("p")

	var evalErr error
	decision := snap.Reduce(func(yield func(types.Effect) bool) {
		for _, rule := range rules {
			matched, err := snap.Match(rVals, rule)
			if err != nil {
				evalErr = err
				return
			}

			eff := types.Indeterminate
			if matched {
				eff = types.Allow
				if snap.EffectIndex >= 0 && snap.EffectIndex < len(rule) && rule[snap.EffectIndex] == "deny" {
					eff = types.Deny
				}
			}
			if !yield(eff) {
				return
			}
		}
	})
	if evalErr != nil {
		return false, evalErr
	}
	return decision, nil
}

// AddPolicy adds a rule under the default "p" type
func (e *Engine) AddPolicy(vals ...string) error {
	return e.AddNamedPolicy("p", vals...)
}

// AddNamedPolicy adds a permission rule under the given type
func (e *Engine) AddNamedPolicy(ptype string, vals ...string) error {
	return e.addRule("p", ptype, vals)
}

// AddGroupingPolicy adds a role link under the default "g" type
func (e *Engine) AddGroupingPolicy(vals ...string) error {
	return e.AddNamedGroupingPolicy("g", vals...)
}

// AddNamedGroupingPolicy adds a role link under the given type
func (e *Engine) AddNamedGroupingPolicy(ptype string, vals ...string) error {
	return e.addRule("g", ptype, vals)
}

// RemovePolicy removes a rule under the default "p" type
func (e *Engine) RemovePolicy(vals ...string) error {
	return e.RemoveNamedPolicy("p", vals...)
}

// RemoveNamedPolicy removes a permission rule under the given type
func (e *Engine) RemoveNamedPolicy(ptype string, vals ...string) error {
	return e.removeRule("p", ptype, vals)
}

// RemoveGroupingPolicy removes a role link under the default "g" type
func (e *Engine) RemoveGroupingPolicy(vals ...string) error {
	return e.RemoveNamedGroupingPolicy("g", vals...)
}

// RemoveNamedGroupingPolicy removes a role link under the given type
func (e *Engine) RemoveNamedGroupingPolicy(ptype string, vals ...string) error {
	return e.removeRule("g", ptype, vals)
}

// AddNamedPolicies adds a batch of rules under the given type
func (e *Engine) AddNamedPolicies(ptype string, rules [][]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sec := ptype[:1]
	for _, rule := range rules {
		if err := e.applyAdd(sec, ptype, rule); err != nil {
			return err
		}
	}

	e.persist(nil)
	e.notify(func(w types.Watcher) error { return w.UpdateForAddPolicies(sec, ptype, rules) })
	return nil
}

// RemoveNamedPolicies removes a batch of rules under the given type
func (e *Engine) RemoveNamedPolicies(ptype string, rules [][]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sec := ptype[:1]
	for _, rule := range rules {
		if err := e.applyRemove(sec, ptype, rule); err != nil {
			return err
		}
	}

	e.persist(nil)
	e.notify(func(w types.Watcher) error { return w.UpdateForRemovePolicies(sec, ptype, rules) })
	return nil
}

// RemoveFilteredPolicy removes every "p" rule whose values starting at
// fieldIndex equal fieldValues; empty strings match anything
func (e *Engine) RemoveFilteredPolicy(fieldIndex int, fieldValues ...string) error {
	return e.removeFiltered("p", "p", fieldIndex, fieldValues)
}

// RemoveFilteredGroupingPolicy removes every "g" link matching the filter
func (e *Engine) RemoveFilteredGroupingPolicy(fieldIndex int, fieldValues ...string) error {
	return e.removeFiltered("g", "g", fieldIndex, fieldValues)
}

// GetPolicy returns the current "p" rules in insertion order
func (e *Engine) GetPolicy() [][]string {
	return e.GetNamedPolicy("p")
}

// GetNamedPolicy returns the current rules of the given type
func (e *Engine) GetNamedPolicy(ptype string) [][]string {
	rules := e.snapshotStore().Rules(ptype)
	out := make([][]string, len(rules))
	copy(out, rules)
	return out
}

// GetGroupingPolicy returns the current "g" links
func (e *Engine) GetGroupingPolicy() [][]string {
	return e.GetNamedPolicy("g")
}

// RoleManager returns the role manager behind a role_definition key
func (e *Engine) RoleManager(ptype string) (types.RoleManager, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rm, ok := e.rms[ptype]
	return rm, ok
}

// AddMatchingFunc installs a role matching function on the named role
// manager; it survives reloads
func (e *Engine) AddMatchingFunc(ptype string, fn types.MatchingFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rm, ok := e.rms[ptype]
	if !ok {
		return fmt.Errorf("%w: %q is not declared in role_definition", types.ErrUnknownPolicyType, ptype)
	}
	e.roleFns[ptype] = fn
	rm.AddMatchingFunc(fn)
	return nil
}

// AddDomainMatchingFunc installs a domain matching function on the named
// role manager; it survives reloads
func (e *Engine) AddDomainMatchingFunc(ptype string, fn types.MatchingFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rm, ok := e.rms[ptype]
	if !ok {
		return fmt.Errorf("%w: %q is not declared in role_definition", types.ErrUnknownPolicyType, ptype)
	}
	e.domainFns[ptype] = fn
	rm.AddDomainMatchingFunc(fn)
	return nil
}

// Model returns the parsed model
func (e *Engine) Model() *model.Model {
	return e.model
}

// Reload rebuilds role managers and the policy store from the adapter and
// atomically replaces the published configuration. Without an adapter there
// is nothing to reload from.
func (e *Engine) Reload() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.adapter == nil {
		return nil
	}
	return e.rebuild()
}

// SavePolicy writes the full current rule set through the adapter and
// notifies peers
func (e *Engine) SavePolicy() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.adapter == nil {
		return nil
	}
	rules := e.allRulesLocked()
	if err := e.adapter.SavePolicy(rules); err != nil {
		return fmt.Errorf("save policy failed: %w", err)
	}
	e.notify(func(w types.Watcher) error { return w.UpdateForSavePolicy(rules) })
	return nil
}

// Close withdraws the published configuration and detaches the watcher.
// A closed engine refuses further enforcement.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		registry.Drop(e.name)
		if e.watcher != nil {
			e.watcher.Close()
		}
	})
}

func (e *Engine) addRule(sec, ptype string, rule []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.applyAdd(sec, ptype, rule); err != nil {
		return err
	}

	e.persist(func(a types.MutableAdapter) error { return a.AddPolicy(sec, ptype, rule) })
	e.notify(func(w types.Watcher) error { return w.UpdateForAddPolicy(sec, ptype, rule) })
	return nil
}

func (e *Engine) removeRule(sec, ptype string, rule []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.applyRemove(sec, ptype, rule); err != nil {
		return err
	}

	e.persist(func(a types.MutableAdapter) error { return a.RemovePolicy(sec, ptype, rule) })
	e.notify(func(w types.Watcher) error { return w.UpdateForRemovePolicy(sec, ptype, rule) })
	return nil
}

func (e *Engine) removeFiltered(sec, ptype string, fieldIndex int, fieldValues []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.applyRemoveFiltered(sec, ptype, fieldIndex, fieldValues); err != nil {
		return err
	}

	e.persist(nil)
	e.notify(func(w types.Watcher) error {
		return w.UpdateForRemoveFilteredPolicy(sec, ptype, fieldIndex, fieldValues)
	})
	return nil
}

// applyAdd mutates local state only; persistence and peer notification are
// the caller's business
func (e *Engine) applyAdd(sec, ptype string, rule []string) error {
	if sec == "g" {
		rm, ok := e.rms[ptype]
		if !ok {
			return fmt.Errorf("%w: %q is not declared in role_definition", types.ErrUnknownPolicyType, ptype)
		}
		if len(rule) < 2 {
			return fmt.Errorf("%w: %s rule needs two names, got %v", types.ErrInvalidRequest, ptype, rule)
		}
		if err := rm.AddLink(rule[0], rule[1], domainOf(rule)); err != nil {
			return err
		}
	}
	e.store.Add(ptype, rule)
	return nil
}

func (e *Engine) applyRemove(sec, ptype string, rule []string) error {
	if sec == "g" {
		rm, ok := e.rms[ptype]
		if !ok {
			return fmt.Errorf("%w: %q is not declared in role_definition", types.ErrUnknownPolicyType, ptype)
		}
		if len(rule) < 2 {
			return fmt.Errorf("%w: %s rule needs two names, got %v", types.ErrInvalidRequest, ptype, rule)
		}
		if err := rm.DeleteLink(rule[0], rule[1], domainOf(rule)); err != nil {
			return err
		}
	}
	e.store.Remove(ptype, rule)
	return nil
}

func (e *Engine) applyRemoveFiltered(sec, ptype string, fieldIndex int, fieldValues []string) error {
	removed := e.store.RemoveFiltered(ptype, fieldIndex, fieldValues...)
	if sec != "g" {
		return nil
	}

	rm, ok := e.rms[ptype]
	if !ok {
		return fmt.Errorf("%w: %q is not declared in role_definition", types.ErrUnknownPolicyType, ptype)
	}
	for _, rule := range removed {
		if len(rule) < 2 {
			continue
		}
		if err := rm.DeleteLink(rule[0], rule[1], domainOf(rule)); err != nil {
			return err
		}
	}
	return nil
}

// persist pushes a local change through the adapter. Mutable adapters get
// the single-rule update; plain ones get the full rule set. Store errors are
// logged and the engine keeps serving its in-memory state.
func (e *Engine) persist(op func(types.MutableAdapter) error) {
	if e.adapter == nil {
		return
	}

	var err error
	if ma, ok := e.adapter.(types.MutableAdapter); ok && op != nil {
		err = op(ma)
	} else {
		err = e.adapter.SavePolicy(e.allRulesLocked())
	}
	if err != nil {
		e.log.Error(err, "persist policy change")
	}
}

// notify tells peers about a local change; delivery failures are logged,
// never propagated
func (e *Engine) notify(op func(types.Watcher) error) {
	if e.watcher == nil {
		return
	}
	if err := op(e.watcher); err != nil {
		e.log.Error(err, "notify policy change")
	}
}

// onPolicyChange applies an inbound peer change without persisting it again
// or echoing it back
func (e *Engine) onPolicyChange(change types.PolicyChange) {
	e.log.V(4).Info("policy change received", "op", change.Op)

	var err error
	switch change.Op {
	case types.OpAdd:
		e.mu.Lock()
		err = e.applyAdd(change.Section, change.PType, change.Rule)
		e.mu.Unlock()

	case types.OpRemove:
		e.mu.Lock()
		err = e.applyRemove(change.Section, change.PType, change.Rule)
		e.mu.Unlock()

	case types.OpRemoveFiltered:
		e.mu.Lock()
		err = e.applyRemoveFiltered(change.Section, change.PType, change.FieldIndex, change.FieldValues)
		e.mu.Unlock()

	case types.OpAddBatch:
		e.mu.Lock()
		for _, rule := range change.Rules {
			if err = e.applyAdd(change.Section, change.PType, rule); err != nil {
				break
			}
		}
		e.mu.Unlock()

	case types.OpRemoveBatch:
		e.mu.Lock()
		for _, rule := range change.Rules {
			if err = e.applyRemove(change.Section, change.PType, rule); err != nil {
				break
			}
		}
		e.mu.Unlock()

	case types.OpReload, types.OpSave:
		err = e.Reload()

	default:
		err = fmt.Errorf("%w: %s", types.ErrUnsupportedChange, change.Op)
	}

	if err != nil {
		e.log.Error(err, "apply policy change", "op", change.Op)
	}
}

func (e *Engine) snapshotStore() *policy.Store {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store
}

// allRulesLocked flattens the policy store into adapter rows, ordered by
// policy type then insertion order; callers hold e.mu
func (e *Engine) allRulesLocked() []types.PolicyRule {
	ptypes := e.store.PTypes()
	sort.Strings(ptypes)

	var rules []types.PolicyRule
	for _, pt := range ptypes {
		for _, vals := range e.store.Rules(pt) {
			rules = append(rules, types.PolicyRule{Section: pt[:1], PType: pt, Values: vals})
		}
	}
	return rules
}
