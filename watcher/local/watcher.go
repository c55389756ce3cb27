// Package local is an in-process watcher: engines attached to the same Hub
// see each other's policy changes. It serves tests and single-process
// deployments running several engine instances over one store.
package local

import (
	"sync"

	"github.com/google/uuid"
	"github.com/supremind/perm/types"
)

// Hub fans policy changes out to every attached watcher except the sender
type Hub struct {
	mu       sync.Mutex
	watchers map[string]*Watcher
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{watchers: make(map[string]*Watcher)}
}

// NewWatcher attaches a new watcher to the hub
func (h *Hub) NewWatcher() *Watcher {
	w := &Watcher{hub: h, id: uuid.NewString()}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.watchers[w.id] = w
	return w
}

// broadcast delivers change to every watcher but the sender. Callbacks run
// synchronously on the sender's goroutine; keeping them short is the
// receiver's business.
func (h *Hub) broadcast(from string, change types.PolicyChange) {
	h.mu.Lock()
	peers := make([]*Watcher, 0, len(h.watchers))
	for id, w := range h.watchers {
		if id != from {
			peers = append(peers, w)
		}
	}
	h.mu.Unlock()

	for _, w := range peers {
		w.deliver(change)
	}
}

func (h *Hub) detach(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.watchers, id)
}

var _ types.Watcher = (*Watcher)(nil)

// Watcher is one hub attachment, identified so its own broadcasts are not
// echoed back to it
type Watcher struct {
	hub *Hub
	id  string

	mu     sync.Mutex
	cb     func(types.PolicyChange)
	closed bool
}

// SetUpdateCallback implements Watcher interface
func (w *Watcher) SetUpdateCallback(cb func(types.PolicyChange)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return types.ErrWatcherClosed
	}
	w.cb = cb
	return nil
}

// Update implements Watcher interface
func (w *Watcher) Update() error {
	return w.send(types.PolicyChange{Op: types.OpReload})
}

// UpdateForAddPolicy implements Watcher interface
func (w *Watcher) UpdateForAddPolicy(sec, ptype string, rule []string) error {
	return w.send(types.PolicyChange{Op: types.OpAdd, Section: sec, PType: ptype, Rule: rule})
}

// UpdateForRemovePolicy implements Watcher interface
func (w *Watcher) UpdateForRemovePolicy(sec, ptype string, rule []string) error {
	return w.send(types.PolicyChange{Op: types.OpRemove, Section: sec, PType: ptype, Rule: rule})
}

// UpdateForRemoveFilteredPolicy implements Watcher interface
func (w *Watcher) UpdateForRemoveFilteredPolicy(sec, ptype string, fieldIndex int, fieldValues []string) error {
	return w.send(types.PolicyChange{
		Op:          types.OpRemoveFiltered,
		Section:     sec,
		PType:       ptype,
		FieldIndex:  fieldIndex,
		FieldValues: fieldValues,
	})
}

// UpdateForSavePolicy implements Watcher interface
func (w *Watcher) UpdateForSavePolicy(rules []types.PolicyRule) error {
	return w.send(types.PolicyChange{Op: types.OpSave, SavedRules: rules})
}

// UpdateForAddPolicies implements Watcher interface
func (w *Watcher) UpdateForAddPolicies(sec, ptype string, rules [][]string) error {
	return w.send(types.PolicyChange{Op: types.OpAddBatch, Section: sec, PType: ptype, Rules: rules})
}

// UpdateForRemovePolicies implements Watcher interface
func (w *Watcher) UpdateForRemovePolicies(sec, ptype string, rules [][]string) error {
	return w.send(types.PolicyChange{Op: types.OpRemoveBatch, Section: sec, PType: ptype, Rules: rules})
}

// Close implements Watcher interface
func (w *Watcher) Close() {
	w.mu.Lock()
	w.closed = true
	w.cb = nil
	w.mu.Unlock()

	w.hub.detach(w.id)
}

func (w *Watcher) send(change types.PolicyChange) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return types.ErrWatcherClosed
	}

	w.hub.broadcast(w.id, change)
	return nil
}

func (w *Watcher) deliver(change types.PolicyChange) {
	w.mu.Lock()
	cb := w.cb
	w.mu.Unlock()
	if cb != nil {
		cb(change)
	}
}
