package rolemanager

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/go-logr/logr"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("role manager", func() {
	var rm *RoleManager

	BeforeEach(func() {
		rm = New(logr.Discard())
	})

	Context("flat assignment", func() {
		BeforeEach(func() {
			Expect(rm.AddLink("alice", "admin", "")).To(Succeed())
		})

		It("links alice to admin", func() {
			Expect(rm.HasLink("alice", "admin", "")).To(BeTrue())
		})

		It("does not link alice to other roles", func() {
			Expect(rm.HasLink("alice", "user", "")).To(BeFalse())
		})

		It("knows roles of alice", func() {
			Expect(rm.GetRoles("alice", "")).To(ConsistOf("admin"))
		})

		It("knows users of admin", func() {
			Expect(rm.GetUsers("admin", "")).To(ConsistOf("alice"))
		})

		It("adds the same link only once", func() {
			Expect(rm.AddLink("alice", "admin", "")).To(Succeed())
			Expect(rm.GetRoles("alice", "")).To(HaveLen(1))
		})
	})

	Context("reflexivity", func() {
		It("links any name to itself", func() {
			Expect(rm.HasLink("nobody", "nobody", "")).To(BeTrue())
			Expect(rm.HasLink("nobody", "nobody", "d1")).To(BeTrue())
		})

		It("does not store self links", func() {
			Expect(rm.AddLink("a", "a", "")).To(Succeed())
			Expect(rm.GetRoles("a", "")).To(BeEmpty())
		})
	})

	Context("transitive chain", func() {
		BeforeEach(func() {
			Expect(rm.AddLink("alice", "editor", "")).To(Succeed())
			Expect(rm.AddLink("editor", "admin", "")).To(Succeed())
			Expect(rm.AddLink("admin", "root", "")).To(Succeed())
		})

		It("reaches the end of the chain", func() {
			Expect(rm.HasLink("alice", "root", "")).To(BeTrue())
		})

		It("does not follow links backwards", func() {
			Expect(rm.HasLink("root", "alice", "")).To(BeFalse())
		})

		It("returns direct roles only", func() {
			Expect(rm.GetRoles("alice", "")).To(ConsistOf("editor"))
		})

		It("still reaches root through another path after a delete", func() {
			Expect(rm.AddLink("alice", "admin", "")).To(Succeed())
			Expect(rm.DeleteLink("alice", "editor", "")).To(Succeed())
			Expect(rm.HasLink("alice", "root", "")).To(BeTrue())
		})

		It("loses reachability once the only path is gone", func() {
			Expect(rm.DeleteLink("editor", "admin", "")).To(Succeed())
			Expect(rm.HasLink("alice", "root", "")).To(BeFalse())
			Expect(rm.HasLink("alice", "editor", "")).To(BeTrue())
		})
	})

	Context("deleting", func() {
		It("tolerates absent links", func() {
			Expect(rm.DeleteLink("no", "body", "")).To(Succeed())
		})

		It("cleans both directions", func() {
			Expect(rm.AddLink("alice", "admin", "")).To(Succeed())
			Expect(rm.DeleteLink("alice", "admin", "")).To(Succeed())
			Expect(rm.GetRoles("alice", "")).To(BeEmpty())
			Expect(rm.GetUsers("admin", "")).To(BeEmpty())
		})
	})

	Context("domains", func() {
		BeforeEach(func() {
			Expect(rm.AddLink("alice", "admin", "d1")).To(Succeed())
		})

		It("holds within the domain", func() {
			Expect(rm.HasLink("alice", "admin", "d1")).To(BeTrue())
		})

		It("does not leak into other domains", func() {
			Expect(rm.HasLink("alice", "admin", "d2")).To(BeFalse())
			Expect(rm.HasLink("alice", "admin", "")).To(BeFalse())
		})

		It("scopes role listing by domain", func() {
			Expect(rm.GetRoles("alice", "d1")).To(ConsistOf("admin"))
			Expect(rm.GetRoles("alice", "d2")).To(BeEmpty())
		})
	})

	Context("cycles", func() {
		BeforeEach(func() {
			Expect(rm.AddLink("A", "B", "")).To(Succeed())
			Expect(rm.AddLink("B", "C", "")).To(Succeed())
			Expect(rm.AddLink("C", "A", "")).To(Succeed())
		})

		It("reaches every member of the cycle", func() {
			Expect(rm.HasLink("A", "C", "")).To(BeTrue())
			Expect(rm.HasLink("C", "B", "")).To(BeTrue())
		})

		It("terminates on names outside the cycle", func() {
			Expect(rm.HasLink("A", "D", "")).To(BeFalse())
		})
	})

	Context("clearing", func() {
		It("drops every link", func() {
			Expect(rm.AddLink("alice", "admin", "")).To(Succeed())
			Expect(rm.AddLink("bob", "user", "d1")).To(Succeed())
			Expect(rm.Clear()).To(Succeed())
			Expect(rm.GetRoles("alice", "")).To(BeEmpty())
			Expect(rm.GetRoles("bob", "d1")).To(BeEmpty())
		})

		It("keeps installed matching functions", func() {
			rm.AddMatchingFunc(func(name, pattern string) bool { return name == pattern || name == "*" })
			Expect(rm.Clear()).To(Succeed())
			Expect(rm.AddLink("alice", "*", "")).To(Succeed())
			Expect(rm.HasLink("alice", "anything", "")).To(BeTrue())
		})
	})

	Context("role matching function", func() {
		BeforeEach(func() {
			rm.AddMatchingFunc(func(name, pattern string) bool {
				return name == pattern || name == "*"
			})
			Expect(rm.AddLink("alice", "*", "")).To(Succeed())
		})

		It("widens the traversal match check", func() {
			Expect(rm.HasLink("alice", "admin", "")).To(BeTrue())
			Expect(rm.HasLink("bob", "admin", "")).To(BeFalse())
		})
	})

	Context("domain matching function", func() {
		BeforeEach(func() {
			rm.AddDomainMatchingFunc(func(requested, stored string) bool {
				return stored == "*" || requested == stored
			})
			Expect(rm.AddLink("alice", "global_admin", "*")).To(Succeed())
			Expect(rm.AddLink("alice", "local_admin", "d1")).To(Succeed())
			Expect(rm.AddLink("alice", "tenant_user", "d2")).To(Succeed())
		})

		It("collects roles across matching domains", func() {
			Expect(rm.GetRoles("alice", "d1")).To(ConsistOf("global_admin", "local_admin"))
			Expect(rm.GetRoles("alice", "d3")).To(ConsistOf("global_admin"))
		})

		It("mirrors the widening on user lookups", func() {
			Expect(rm.GetUsers("global_admin", "d1")).To(ConsistOf("alice"))
		})

		It("follows wildcard links during traversal", func() {
			Expect(rm.AddLink("global_admin", "root", "*")).To(Succeed())
			Expect(rm.HasLink("alice", "root", "d1")).To(BeTrue())
		})
	})

	Context("concurrent readers", func() {
		It("serves reads while a writer mutates", func() {
			done := make(chan struct{})
			var wg sync.WaitGroup

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				for i := 0; i < 1000; i++ {
					role := "role" + strconv.Itoa(i%10)
					Expect(rm.AddLink("alice", role, "")).To(Succeed())
					Expect(rm.DeleteLink("alice", role, "")).To(Succeed())
				}
				close(done)
			}()

			for r := 0; r < 4; r++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						select {
						case <-done:
							return
						default:
						}
						rm.HasLink("alice", "role5", "")
						rm.GetRoles("alice", "")
					}
				}()
			}

			wg.Wait()
		})
	})

	Context("larger graphs", func() {
		BeforeEach(func() {
			// users u0..u9 spread over roles by divisibility
			for i := 0; i < 10; i++ {
				user := "u" + strconv.Itoa(i)
				Expect(rm.AddLink(user, "mod2_"+strconv.Itoa(i%2), "")).To(Succeed())
				Expect(rm.AddLink(user, "mod3_"+strconv.Itoa(i%3), "")).To(Succeed())
			}
		})

		It("answers membership for every user", func() {
			for i := 0; i < 10; i++ {
				user := "u" + strconv.Itoa(i)
				Expect(rm.HasLink(user, "mod2_"+strconv.Itoa(i%2), "")).To(BeTrue(),
					fmt.Sprintf("%s should be in its mod2 role", user))
				Expect(rm.HasLink(user, "mod2_"+strconv.Itoa((i+1)%2), "")).To(BeFalse(),
					fmt.Sprintf("%s should not be in the other mod2 role", user))
			}
		})

		It("lists every member of a role", func() {
			Expect(rm.GetUsers("mod2_0", "")).To(ConsistOf("u0", "u2", "u4", "u6", "u8"))
		})
	})
})
