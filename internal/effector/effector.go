// Package effector compiles a policy-effect expression into a stream
// reducer collapsing per-rule effects into one decision.
package effector

import (
	"fmt"
	"strings"

	"github.com/supremind/perm/types"
)

// effect expressions supported, compared with all whitespace removed
const (
	allowOverrideExpr = "some(where(p.eft==allow))"
	denyOverrideExpr  = "some(where(p.eft==allow))&&!some(where(p.eft==deny))"
	priorityExpr      = "priority(p.eft)||deny"
)

// New compiles the policy_effect expression into a reducer. Anything but
// the three known forms is a configuration error.
func New(expr string) (types.Reducer, error) {
	switch strings.Join(strings.Fields(expr), "") {
	case allowOverrideExpr:
		return allowOverride, nil
	case denyOverrideExpr:
		return denyOverride, nil
	case priorityExpr:
		return priority, nil
	}
	return nil, fmt.Errorf("%w: %q", types.ErrUnsupportedEffect, expr)
}

// allowOverride grants on the first Allow
func allowOverride(stream types.EffectStream) bool {
	allowed := false
	stream(func(e types.Effect) bool {
		if e == types.Allow {
			allowed = true
			return false
		}
		return true
	})
	return allowed
}

// denyOverride refuses on the first Deny, otherwise grants iff something
// allowed
func denyOverride(stream types.EffectStream) bool {
	allowed, denied := false, false
	stream(func(e types.Effect) bool {
		switch e {
		case types.Allow:
			allowed = true
		case types.Deny:
			denied = true
			return false
		}
		return true
	})
	return allowed && !denied
}

// priority lets the first non-indeterminate effect decide, refusing when
// nothing decides
func priority(stream types.EffectStream) bool {
	allowed := false
	stream(func(e types.Effect) bool {
		switch e {
		case types.Allow:
			allowed = true
			return false
		case types.Deny:
			return false
		}
		return true
	})
	return allowed
}
