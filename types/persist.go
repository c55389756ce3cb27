package types

// PolicyRule is one row loaded from or stored to an external policy store.
// Section is "p" for permission rules and "g" for role links; PType is the
// concrete key within the section, like "p", "p2", "g", "g2".
type PolicyRule struct {
	Section string
	PType   string
	Values  []string
}

// Adapter loads policies from an external store and writes them back in bulk
type Adapter interface {
	// LoadPolicy returns every rule in the store
	LoadPolicy() ([]PolicyRule, error)

	// SavePolicy replaces the whole store content with the given rules
	SavePolicy(rules []PolicyRule) error
}

// MutableAdapter is an Adapter supporting single-rule updates. Stores which
// cannot update in place, like flat files, implement Adapter only, and the
// engine falls back to SavePolicy.
type MutableAdapter interface {
	Adapter

	// AddPolicy inserts one rule
	AddPolicy(sec, ptype string, rule []string) error

	// RemovePolicy deletes one rule, absence is not an error
	RemovePolicy(sec, ptype string, rule []string) error
}

// PolicyOp tags a PolicyChange with what happened
type PolicyOp string

// possible policy change operations
const (
	OpReload         PolicyOp = "reload"
	OpAdd            PolicyOp = "add"
	OpRemove         PolicyOp = "remove"
	OpRemoveFiltered PolicyOp = "remove_filtered"
	OpSave           PolicyOp = "save"
	OpAddBatch       PolicyOp = "add_batch"
	OpRemoveBatch    PolicyOp = "remove_batch"
)

// PolicyChange is the payload broadcast between engine instances when one of
// them mutates its policies. Fields beyond Op are set as the operation needs.
type PolicyChange struct {
	Op          PolicyOp
	Section     string
	PType       string
	Rule        []string
	Rules       [][]string
	FieldIndex  int
	FieldValues []string
	SavedRules  []PolicyRule
}

// Watcher synchronizes policy changes across engine instances. An engine
// calls the UpdateFor methods after mutating its own policies, and receives
// other instances' changes through the callback.
type Watcher interface {
	// Update asks every other instance to reload in full
	Update() error

	// UpdateForAddPolicy broadcasts a single added rule
	UpdateForAddPolicy(sec, ptype string, rule []string) error

	// UpdateForRemovePolicy broadcasts a single removed rule
	UpdateForRemovePolicy(sec, ptype string, rule []string) error

	// UpdateForRemoveFilteredPolicy broadcasts a filtered removal
	UpdateForRemoveFilteredPolicy(sec, ptype string, fieldIndex int, fieldValues []string) error

	// UpdateForSavePolicy broadcasts a full replacement
	UpdateForSavePolicy(rules []PolicyRule) error

	// UpdateForAddPolicies broadcasts a batch of added rules
	UpdateForAddPolicies(sec, ptype string, rules [][]string) error

	// UpdateForRemovePolicies broadcasts a batch of removed rules
	UpdateForRemovePolicies(sec, ptype string, rules [][]string) error

	// SetUpdateCallback registers the function invoked on inbound changes
	SetUpdateCallback(func(PolicyChange)) error

	// Close detaches the watcher, further Update calls fail
	Close()
}
