// Package perm is an in-process authorization engine built on the PERM
// model: a parsed model file declares the request and policy shapes, a
// compiled matcher decides whether one request matches one policy rule, role
// managers resolve transitive role inheritance, and an effector collapses
// the per-rule outcomes into the final decision.
package perm

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/google/uuid"
	"github.com/supremind/perm/internal/effector"
	"github.com/supremind/perm/internal/matcher"
	"github.com/supremind/perm/internal/policy"
	"github.com/supremind/perm/internal/registry"
	"github.com/supremind/perm/internal/rolemanager"
	"github.com/supremind/perm/model"
	"github.com/supremind/perm/types"
)

// New creates an Engine from a model and optional collaborators. The model
// is parsed, the matcher and effect expressions are compiled, one role
// manager is created per role_definition key, rules are loaded from the
// adapter if one is given, and the resulting configuration is published
// under the instance name. The engine closes itself when ctx is canceled.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	cfg := &EngineConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.log.GetSink() == nil {
		cfg.log = stdr.New(log.New(os.Stderr, "", log.LstdFlags|log.Lshortfile))
	}
	if cfg.name == "" {
		cfg.name = uuid.NewString()
	}

	var m *model.Model
	switch {
	case cfg.modelText != "":
		var e error
		m, e = model.NewModelFromString(cfg.modelText, model.WithLogger(cfg.log.WithName("model")))
		if e != nil {
			return nil, fmt.Errorf("parse model failed: %w", e)
		}
	case cfg.modelPath != "":
		var e error
		m, e = model.NewModelFromFile(cfg.modelPath, model.WithLogger(cfg.log.WithName("model")))
		if e != nil {
			return nil, fmt.Errorf("parse model failed: %w", e)
		}
	default:
		return nil, types.ErrNoModel
	}

	reduce, e := effector.New(m.Effect["e"])
	if e != nil {
		return nil, fmt.Errorf("compile effect failed: %w", e)
	}

	eng := &Engine{
		name:        cfg.name,
		log:         cfg.log,
		adapter:     cfg.adapter,
		watcher:     cfg.watcher,
		model:       m,
		reduce:      reduce,
		roleFns:     make(map[string]types.MatchingFunc),
		domainFns:   make(map[string]types.MatchingFunc),
		effectIndex: effectIndex(m),
	}

	if e := eng.rebuild(); e != nil {
		return nil, e
	}

	if cfg.watcher != nil {
		if e := cfg.watcher.SetUpdateCallback(eng.onPolicyChange); e != nil {
			return nil, fmt.Errorf("subscribe watcher failed: %w", e)
		}
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			eng.Close()
		}()
	}

	return eng, nil
}

// rebuild creates fresh role managers and a fresh policy store, compiles the
// matcher against them, loads the adapter, and publishes the new snapshot.
// Enforcement in flight keeps the snapshot it already acquired.
func (e *Engine) rebuild() error {
	rms := make(map[string]types.RoleManager, len(e.model.Role))
	for _, key := range e.model.RoleKeys() {
		rm := rolemanager.New(e.log.WithName(key))
		if fn, ok := e.roleFns[key]; ok {
			rm.AddMatchingFunc(fn)
		}
		if fn, ok := e.domainFns[key]; ok {
			rm.AddDomainMatchingFunc(fn)
		}
		rms[key] = rm
	}

	match, err := matcher.Compile(e.model, rms)
	if err != nil {
		return fmt.Errorf("compile matcher failed: %w", err)
	}

	store := policy.New()
	if e.adapter != nil {
		rules, err := e.adapter.LoadPolicy()
		if err != nil {
			return fmt.Errorf("load policy failed: %w", err)
		}
		if err := loadRules(store, rms, rules); err != nil {
			return err
		}
	}

	e.rms = rms
	e.store = store
	registry.Publish(e.name, &registry.Snapshot{
		Model:        e.model,
		Match:        match,
		Reduce:       e.reduce,
		RoleManagers: rms,
		Policy:       store,
		EffectIndex:  e.effectIndex,
	})
	return nil
}

// loadRules routes adapter rows: every row lands in the policy store, and
// g-section rows additionally become role links
func loadRules(store *policy.Store, rms map[string]types.RoleManager, rules []types.PolicyRule) error {
	for _, r := range rules {
		if r.Section == "g" {
			rm, ok := rms[r.PType]
			if !ok {
				return fmt.Errorf("%w: %q is not declared in role_definition", types.ErrUnknownPolicyType, r.PType)
			}
			if len(r.Values) < 2 {
				return fmt.Errorf("%w: %s rule needs two names, got %v", types.ErrInvalidRequest, r.PType, r.Values)
			}
			if err := rm.AddLink(r.Values[0], r.Values[1], domainOf(r.Values)); err != nil {
				return err
			}
		}
		store.Add(r.PType, r.Values)
	}
	return nil
}

func domainOf(rule []string) string {
	if len(rule) > 2 {
		return rule[2]
	}
	return ""
}

// effectIndex finds the eft column in the p definition, -1 when absent
func effectIndex(m *model.Model) int {
	for i, tok := range model.Tokens(m.Policy["p"]) {
		if tok == "eft" {
			return i
		}
	}
	return -1
}

// EngineConfig works together with Option to control engine initialization
type EngineConfig struct {
	name      string
	modelPath string
	modelText string
	adapter   types.Adapter
	watcher   types.Watcher
	log       logr.Logger
}

// Option controls how to init an engine
type Option func(*EngineConfig)

// WithName sets the instance name the configuration is published under.
// A random one is generated when unset.
func WithName(name string) Option {
	return func(cfg *EngineConfig) {
		cfg.name = name
	}
}

// WithModelFile points the engine at a model file
func WithModelFile(path string) Option {
	return func(cfg *EngineConfig) {
		cfg.modelPath = path
	}
}

// WithModelText passes the model inline
func WithModelText(text string) Option {
	return func(cfg *EngineConfig) {
		cfg.modelText = text
	}
}

// WithAdapter sets the policy store adapter
// could be omitted if all policies are fed through the engine API
func WithAdapter(a types.Adapter) Option {
	return func(cfg *EngineConfig) {
		cfg.adapter = a
	}
}

// WithWatcher subscribes the engine to policy changes made by its peers
func WithWatcher(w types.Watcher) Option {
	return func(cfg *EngineConfig) {
		cfg.watcher = w
	}
}

// WithLogger sets the logger for the engine and its components
func WithLogger(l logr.Logger) Option {
	return func(cfg *EngineConfig) {
		cfg.log = l
	}
}
