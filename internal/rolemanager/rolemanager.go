// Package rolemanager implements the in-memory role-inheritance graph.
//
// Links are kept in two mirrored indexes, subject to roles and role to
// subjects, both grouped by domain. The whole graph lives in an immutable
// state value behind an atomic pointer: writers serialize on a mutex, build
// the next state, and publish it in one store, so readers on any goroutine
// observe both indexes of a write at once and never wait.
package rolemanager

import (
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/supremind/perm/types"
)

var _ types.RoleManager = (*RoleManager)(nil)

// RoleManager is the concurrent role graph. The zero value is not usable,
// call New.
type RoleManager struct {
	state atomic.Pointer[state]
	mu    sync.Mutex // serializes writers, FIFO per instance
	log   logr.Logger
}

// links maps name -> domain -> peer set. The forward index keys by the
// inheriting subject, the reverse one by the inherited role.
type links map[string]map[string]map[string]struct{}

// state is an immutable snapshot of the graph. Never mutate a published
// state: writers clone the paths they touch and publish a fresh one.
type state struct {
	forward     links
	reverse     links
	roleMatch   types.MatchingFunc
	domainMatch types.MatchingFunc
}

// New creates an empty role manager
func New(log logr.Logger) *RoleManager {
	rm := &RoleManager{log: log}
	rm.state.Store(&state{
		forward: make(links),
		reverse: make(links),
	})
	return rm
}

// AddLink implements RoleManager interface
func (rm *RoleManager) AddLink(from, to, domain string) error {
	if from == to {
		// a name reaches itself without storage
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	cur := rm.state.Load()
	if _, ok := cur.forward[from][domain][to]; ok {
		return nil
	}

	next := cur.shallow()
	next.forward = withPeer(cur.forward, from, domain, to)
	next.reverse = withPeer(cur.reverse, to, domain, from)
	rm.state.Store(next)

	rm.log.V(4).Info("add link", "from", from, "to", to, "domain", domain)
	return nil
}

// DeleteLink implements RoleManager interface
func (rm *RoleManager) DeleteLink(from, to, domain string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	cur := rm.state.Load()
	if _, ok := cur.forward[from][domain][to]; !ok {
		return nil
	}

	next := cur.shallow()
	next.forward = withoutPeer(cur.forward, from, domain, to)
	next.reverse = withoutPeer(cur.reverse, to, domain, from)
	rm.state.Store(next)

	rm.log.V(4).Info("delete link", "from", from, "to", to, "domain", domain)
	return nil
}

// Clear implements RoleManager interface, installed matching functions stay
func (rm *RoleManager) Clear() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	cur := rm.state.Load()
	rm.state.Store(&state{
		forward:     make(links),
		reverse:     make(links),
		roleMatch:   cur.roleMatch,
		domainMatch: cur.domainMatch,
	})
	return nil
}

// AddMatchingFunc implements RoleManager interface
func (rm *RoleManager) AddMatchingFunc(f types.MatchingFunc) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	next := rm.state.Load().shallow()
	next.roleMatch = f
	rm.state.Store(next)
}

// AddDomainMatchingFunc implements RoleManager interface
func (rm *RoleManager) AddDomainMatchingFunc(f types.MatchingFunc) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	next := rm.state.Load().shallow()
	next.domainMatch = f
	rm.state.Store(next)
}

// shallow copies the state value itself, sharing both indexes. Callers
// replace the index they are about to change.
func (s *state) shallow() *state {
	next := *s
	return &next
}

// withPeer returns a copy of idx with peer added under (name, domain),
// cloning only the buckets on that path
func withPeer(idx links, name, domain, peer string) links {
	next := make(links, len(idx)+1)
	for k, v := range idx {
		next[k] = v
	}

	domains := make(map[string]map[string]struct{}, len(idx[name])+1)
	for d, peers := range idx[name] {
		domains[d] = peers
	}

	peers := make(map[string]struct{}, len(idx[name][domain])+1)
	for p := range idx[name][domain] {
		peers[p] = struct{}{}
	}
	peers[peer] = struct{}{}

	domains[domain] = peers
	next[name] = domains
	return next
}

// withoutPeer returns a copy of idx with peer removed from (name, domain),
// dropping emptied buckets so iteration stays proportional to live entries
func withoutPeer(idx links, name, domain, peer string) links {
	next := make(links, len(idx))
	for k, v := range idx {
		next[k] = v
	}

	domains := make(map[string]map[string]struct{}, len(idx[name]))
	for d, peers := range idx[name] {
		domains[d] = peers
	}

	peers := make(map[string]struct{}, len(idx[name][domain]))
	for p := range idx[name][domain] {
		if p != peer {
			peers[p] = struct{}{}
		}
	}

	if len(peers) == 0 {
		delete(domains, domain)
	} else {
		domains[domain] = peers
	}
	if len(domains) == 0 {
		delete(next, name)
	} else {
		next[name] = domains
	}
	return next
}
