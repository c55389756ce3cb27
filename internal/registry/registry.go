// Package registry is the process-wide store of published engine
// configurations. Each engine publishes an immutable snapshot under its
// instance name; enforcement acquires the snapshot once per request and
// keeps using it even if a reload replaces the published one mid-flight.
package registry

import (
	"sync"

	"github.com/supremind/perm/internal/policy"
	"github.com/supremind/perm/model"
	"github.com/supremind/perm/types"
)

// Snapshot is one engine's frozen configuration. All fields are immutable or
// internally synchronized; a Snapshot is safe to share across goroutines.
type Snapshot struct {
	Model        *model.Model
	Match        types.Predicate
	Reduce       types.Reducer
	RoleManagers map[string]types.RoleManager
	Policy       *policy.Store

	// EffectIndex is the position of the eft column in the p definition,
	// -1 when the model declares none
	EffectIndex int
}

var (
	mu        sync.RWMutex
	instances = make(map[string]*Snapshot)
)

// Publish installs or atomically replaces the snapshot of an instance
func Publish(name string, s *Snapshot) {
	mu.Lock()
	defer mu.Unlock()
	instances[name] = s
}

// Lookup returns the current snapshot of an instance
func Lookup(name string) (*Snapshot, bool) {
	mu.RLock()
	defer mu.RUnlock()
	s, ok := instances[name]
	return s, ok
}

// Drop erases an instance's snapshot; shutdown must call it to avoid leaking
// the graph and predicate handles
func Drop(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(instances, name)
}
