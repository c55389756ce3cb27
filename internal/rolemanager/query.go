package rolemanager

// GetRoles implements RoleManager interface
func (rm *RoleManager) GetRoles(subject, domain string) []string {
	s := rm.state.Load()
	return s.peersOf(s.forward, subject, domain)
}

// GetUsers implements RoleManager interface. The domain matching function is
// honored here as well, keeping it the mirror image of GetRoles.
func (rm *RoleManager) GetUsers(role, domain string) []string {
	s := rm.state.Load()
	return s.peersOf(s.reverse, role, domain)
}

// HasLink implements RoleManager interface
func (rm *RoleManager) HasLink(from, to, domain string) bool {
	if from == to {
		return true
	}

	s := rm.state.Load()

	if s.roleMatch == nil {
		if _, ok := s.forward[from][domain][to]; ok {
			return true
		}
	}

	// iterative depth-first traversal, the visited set guards cycles
	stack := []string{from}
	visited := map[string]struct{}{from: {}}

	for len(stack) > 0 {
		current := stack[0]
		stack = stack[1:]

		if s.roleMatch != nil {
			if s.roleMatch(current, to) {
				return true
			}
		} else if current == to {
			return true
		}

		roles := s.peersOf(s.forward, current, domain)
		fresh := roles[:0]
		for _, r := range roles {
			if _, seen := visited[r]; seen {
				continue
			}
			visited[r] = struct{}{}
			fresh = append(fresh, r)
		}
		stack = append(fresh, stack...)
	}

	return false
}

// peersOf collects the direct peers of name in domain. Without a domain
// matching function this is a single probe; with one, every stored domain of
// name is tested against the requested domain.
func (s *state) peersOf(idx links, name, domain string) []string {
	if s.domainMatch == nil {
		bucket := idx[name][domain]
		if len(bucket) == 0 {
			return nil
		}
		peers := make([]string, 0, len(bucket))
		for p := range bucket {
			peers = append(peers, p)
		}
		return peers
	}

	var peers []string
	seen := make(map[string]struct{})
	for stored, bucket := range idx[name] {
		if !s.domainMatch(domain, stored) {
			continue
		}
		for p := range bucket {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			peers = append(peers, p)
		}
	}
	return peers
}

// PrintRoles implements RoleManager interface
func (rm *RoleManager) PrintRoles() {
	s := rm.state.Load()
	for from, domains := range s.forward {
		for domain, peers := range domains {
			for to := range peers {
				rm.log.Info("role link", "from", from, "to", to, "domain", domain)
			}
		}
	}
}
