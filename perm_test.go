package perm

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/supremind/perm/model"
	"github.com/supremind/perm/persist/fake"
	"github.com/supremind/perm/types"
	"github.com/supremind/perm/watcher/local"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj) && r.act == p.act
`

const denyModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act, eft

[policy_effect]
e = some(where (p.eft == allow)) && !some(where (p.eft == deny))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`

const domainModel = `
[request_definition]
r = sub, dom, obj, act

[policy_definition]
p = sub, dom, obj, act

[role_definition]
g = _, _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub, r.dom) && r.dom == p.dom && r.obj == p.obj && r.act == p.act
`

var _ = Describe("engine", func() {
	var ctx context.Context
	var cancel context.CancelFunc

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
	})

	Context("role based access", func() {
		var e *Engine

		BeforeEach(func() {
			adapter := fake.NewAdapter(
				types.PolicyRule{Section: "p", PType: "p", Values: []string{"admin", "/data/*", "read"}},
				types.PolicyRule{Section: "p", PType: "p", Values: []string{"admin", "/data/*", "write"}},
				types.PolicyRule{Section: "p", PType: "p", Values: []string{"bob", "/readme", "read"}},
				types.PolicyRule{Section: "g", PType: "g", Values: []string{"alice", "admin"}},
			)

			var err error
			e, err = New(ctx, WithModelText(rbacModel), WithAdapter(adapter))
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			e.Close()
		})

		It("grants through the role", func() {
			Expect(e.Enforce("alice", "/data/1", "read")).To(BeTrue())
			Expect(e.Enforce("alice", "/data/1", "write")).To(BeTrue())
		})

		It("grants a direct policy", func() {
			Expect(e.Enforce("bob", "/readme", "read")).To(BeTrue())
		})

		It("refuses everything else", func() {
			Expect(e.Enforce("bob", "/data/1", "read")).To(BeFalse())
			Expect(e.Enforce("alice", "/readme", "delete")).To(BeFalse())
			Expect(e.Enforce("carol", "/data/1", "read")).To(BeFalse())
		})

		It("rejects requests of the wrong size", func() {
			_, err := e.Enforce("alice", "/data/1")
			Expect(err).To(MatchError(types.ErrInvalidRequest))
		})

		It("honors policies added at runtime", func() {
			Expect(e.Enforce("carol", "/data/1", "read")).To(BeFalse())
			Expect(e.AddGroupingPolicy("carol", "admin")).To(Succeed())
			Expect(e.Enforce("carol", "/data/1", "read")).To(BeTrue())

			Expect(e.RemoveGroupingPolicy("carol", "admin")).To(Succeed())
			Expect(e.Enforce("carol", "/data/1", "read")).To(BeFalse())
		})

		It("exposes current policies", func() {
			Expect(e.GetPolicy()).To(HaveLen(3))
			Expect(e.GetGroupingPolicy()).To(ConsistOf([]string{"alice", "admin"}))
		})

		It("removes filtered policies", func() {
			Expect(e.RemoveFilteredPolicy(0, "admin")).To(Succeed())
			Expect(e.Enforce("alice", "/data/1", "read")).To(BeFalse())
			Expect(e.Enforce("bob", "/readme", "read")).To(BeTrue())
		})

		It("refuses enforcement after close", func() {
			e.Close()
			_, err := e.Enforce("alice", "/data/1", "read")
			Expect(err).To(MatchError(types.ErrNotFound))
		})
	})

	Context("deny override", func() {
		var e *Engine

		BeforeEach(func() {
			adapter := fake.NewAdapter(
				types.PolicyRule{Section: "p", PType: "p", Values: []string{"alice", "/data/1", "read", "allow"}},
				types.PolicyRule{Section: "p", PType: "p", Values: []string{"alice", "/data/2", "read", "allow"}},
				types.PolicyRule{Section: "p", PType: "p", Values: []string{"alice", "/data/2", "read", "deny"}},
			)

			var err error
			e, err = New(ctx, WithModelText(denyModel), WithAdapter(adapter))
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			e.Close()
		})

		It("grants plain allows", func() {
			Expect(e.Enforce("alice", "/data/1", "read")).To(BeTrue())
		})

		It("lets deny win", func() {
			Expect(e.Enforce("alice", "/data/2", "read")).To(BeFalse())
		})
	})

	Context("domains", func() {
		var e *Engine

		BeforeEach(func() {
			adapter := fake.NewAdapter(
				types.PolicyRule{Section: "p", PType: "p", Values: []string{"admin", "d1", "data", "read"}},
				types.PolicyRule{Section: "p", PType: "p", Values: []string{"admin", "d2", "data", "read"}},
				types.PolicyRule{Section: "g", PType: "g", Values: []string{"alice", "admin", "d1"}},
			)

			var err error
			e, err = New(ctx, WithModelText(domainModel), WithAdapter(adapter))
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			e.Close()
		})

		It("scopes the role to its domain", func() {
			Expect(e.Enforce("alice", "d1", "data", "read")).To(BeTrue())
			Expect(e.Enforce("alice", "d2", "data", "read")).To(BeFalse())
		})

		It("widens domains through a matching function", func() {
			Expect(e.AddGroupingPolicy("bob", "admin", "*")).To(Succeed())
			Expect(e.Enforce("bob", "d1", "data", "read")).To(BeFalse())

			Expect(e.AddDomainMatchingFunc("g", func(requested, stored string) bool {
				return stored == "*" || requested == stored
			})).To(Succeed())
			Expect(e.Enforce("bob", "d1", "data", "read")).To(BeTrue())
		})
	})

	Context("reloading", func() {
		It("picks up adapter changes on reload", func() {
			adapter := fake.NewAdapter(
				types.PolicyRule{Section: "p", PType: "p", Values: []string{"alice", "/data/1", "read"}},
			)
			e, err := New(ctx, WithModelText(rbacModel), WithAdapter(adapter))
			Expect(err).NotTo(HaveOccurred())
			defer e.Close()

			Expect(e.Enforce("bob", "/data/1", "read")).To(BeFalse())

			Expect(adapter.AddPolicy("p", "p", []string{"bob", "/data/1", "read"})).To(Succeed())
			Expect(e.Enforce("bob", "/data/1", "read")).To(BeFalse(), "not before reload")

			Expect(e.Reload()).To(Succeed())
			Expect(e.Enforce("bob", "/data/1", "read")).To(BeTrue())
		})

		It("keeps matching functions across reloads", func() {
			adapter := fake.NewAdapter(
				types.PolicyRule{Section: "p", PType: "p", Values: []string{"admin", "d1", "data", "read"}},
				types.PolicyRule{Section: "g", PType: "g", Values: []string{"alice", "admin", "*"}},
			)
			e, err := New(ctx, WithModelText(domainModel), WithAdapter(adapter))
			Expect(err).NotTo(HaveOccurred())
			defer e.Close()

			Expect(e.AddDomainMatchingFunc("g", func(requested, stored string) bool {
				return stored == "*" || requested == stored
			})).To(Succeed())
			Expect(e.Enforce("alice", "d1", "data", "read")).To(BeTrue())

			Expect(e.Reload()).To(Succeed())
			Expect(e.Enforce("alice", "d1", "data", "read")).To(BeTrue())
		})
	})

	Context("watched peers", func() {
		It("propagates changes between engines on one hub", func() {
			adapter := fake.NewAdapter(
				types.PolicyRule{Section: "p", PType: "p", Values: []string{"admin", "/data/*", "read"}},
			)
			hub := local.NewHub()

			e1, err := New(ctx, WithName("peer-1"), WithModelText(rbacModel),
				WithAdapter(adapter), WithWatcher(hub.NewWatcher()))
			Expect(err).NotTo(HaveOccurred())
			defer e1.Close()

			e2, err := New(ctx, WithName("peer-2"), WithModelText(rbacModel),
				WithAdapter(adapter), WithWatcher(hub.NewWatcher()))
			Expect(err).NotTo(HaveOccurred())
			defer e2.Close()

			Expect(e2.Enforce("alice", "/data/1", "read")).To(BeFalse())

			Expect(e1.AddGroupingPolicy("alice", "admin")).To(Succeed())
			Expect(e2.Enforce("alice", "/data/1", "read")).To(BeTrue(), "change reached the peer")

			Expect(e1.RemoveGroupingPolicy("alice", "admin")).To(Succeed())
			Expect(e2.Enforce("alice", "/data/1", "read")).To(BeFalse())
		})
	})

	Context("standalone compilation", func() {
		It("compiles a matcher against a hand-built role manager", func() {
			m, err := model.NewModelFromString(rbacModel)
			Expect(err).NotTo(HaveOccurred())

			rm := NewRoleManager(logr.Discard())
			Expect(rm.AddLink("alice", "admin", "")).To(Succeed())

			pred, err := CompileMatcher(m, map[string]types.RoleManager{"g": rm})
			Expect(err).NotTo(HaveOccurred())

			Expect(pred([]string{"alice", "/data/x", "read"}, []string{"admin", "/data/*", "read"})).To(BeTrue())
			Expect(pred([]string{"bob", "/data/x", "read"}, []string{"admin", "/data/*", "read"})).To(BeFalse())
		})

		It("compiles an effector on its own", func() {
			reduce, err := GetEffector("priority(p.eft) || deny")
			Expect(err).NotTo(HaveOccurred())

			Expect(reduce(func(yield func(types.Effect) bool) {
				yield(types.Indeterminate)
				yield(types.Allow)
			})).To(BeTrue())

			Expect(reduce(func(yield func(types.Effect) bool) {})).To(BeFalse())
		})
	})

	Context("configuration errors", func() {
		It("requires a model", func() {
			_, err := New(ctx)
			Expect(err).To(MatchError(types.ErrNoModel))
		})

		It("rejects an unknown effect expression", func() {
			_, err := New(ctx, WithModelText(`
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = max(p.priority)

[matchers]
m = r.sub == p.sub
`))
			Expect(err).To(MatchError(types.ErrUnsupportedEffect))
		})

		It("rejects a matcher referencing an unbound role manager", func() {
			_, err := New(ctx, WithModelText(`
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub)
`))
			Expect(err).To(MatchError(types.ErrCompile))
			Expect(err.Error()).To(ContainSubstring("RoleManager for 'g' not found"))
		})

		It("rejects a matcher referencing an unknown field", func() {
			_, err := New(ctx, WithModelText(`
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.tenant == p.sub
`))
			Expect(err).To(MatchError(types.ErrCompile))
		})
	})
})
