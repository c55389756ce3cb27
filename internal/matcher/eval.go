package matcher

import (
	"fmt"

	"github.com/supremind/perm/types"
)

// node is one vertex of the compiled expression tree. Values flowing through
// eval are string, float64, or bool, all comparable.
type node interface {
	eval(rVals, pVals []string) (any, error)
}

type fieldSource uint8

const (
	requestField fieldSource = iota
	policyField
)

type constNode struct {
	v any
}

func (n constNode) eval(_, _ []string) (any, error) {
	return n.v, nil
}

type fieldNode struct {
	source fieldSource
	index  int
	name   string
}

func (n *fieldNode) eval(rVals, pVals []string) (any, error) {
	vec := rVals
	if n.source == policyField {
		vec = pVals
	}
	if n.index >= len(vec) {
		return nil, fmt.Errorf("%w: %s resolves to index %d, vector has %d values",
			types.ErrInvalidRequest, n.name, n.index, len(vec))
	}
	return vec[n.index], nil
}

type notNode struct {
	x node
}

func (n *notNode) eval(rVals, pVals []string) (any, error) {
	v, e := n.x.eval(rVals, pVals)
	if e != nil {
		return nil, e
	}
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("%w: operand of ! is %T, not bool", types.ErrInvalidRequest, v)
	}
	return !b, nil
}

type andNode struct {
	x, y node
}

func (n *andNode) eval(rVals, pVals []string) (any, error) {
	x, e := n.x.eval(rVals, pVals)
	if e != nil {
		return nil, e
	}
	b, ok := x.(bool)
	if !ok {
		return nil, fmt.Errorf("%w: operand of && is %T, not bool", types.ErrInvalidRequest, x)
	}
	if !b {
		return false, nil
	}
	return n.y.eval(rVals, pVals)
}

type orNode struct {
	x, y node
}

func (n *orNode) eval(rVals, pVals []string) (any, error) {
	x, e := n.x.eval(rVals, pVals)
	if e != nil {
		return nil, e
	}
	b, ok := x.(bool)
	if !ok {
		return nil, fmt.Errorf("%w: operand of || is %T, not bool", types.ErrInvalidRequest, x)
	}
	if b {
		return true, nil
	}
	return n.y.eval(rVals, pVals)
}

// cmpNode handles == and !=. Operands of different dynamic types are
// simply unequal.
type cmpNode struct {
	x, y   node
	negate bool
}

func (n *cmpNode) eval(rVals, pVals []string) (any, error) {
	x, e := n.x.eval(rVals, pVals)
	if e != nil {
		return nil, e
	}
	y, e := n.y.eval(rVals, pVals)
	if e != nil {
		return nil, e
	}
	return (x == y) != n.negate, nil
}

// builtinNode calls a built-in operator. Non-string arguments do not match,
// mirroring the operators' own tolerance of malformed input.
type builtinNode struct {
	name string
	fn   types.MatchingFunc
	args [2]node
}

func (n *builtinNode) eval(rVals, pVals []string) (any, error) {
	v1, e := n.args[0].eval(rVals, pVals)
	if e != nil {
		return nil, e
	}
	v2, e := n.args[1].eval(rVals, pVals)
	if e != nil {
		return nil, e
	}
	s1, ok1 := v1.(string)
	s2, ok2 := v2.(string)
	if !ok1 || !ok2 {
		return false, nil
	}
	return n.fn(s1, s2), nil
}

// linkNode asks the bound role manager for reachability. The optional third
// argument is the domain.
type linkNode struct {
	name string
	rm   types.RoleManager
	args []node
}

func (n *linkNode) eval(rVals, pVals []string) (any, error) {
	vals := make([]string, len(n.args))
	for i, a := range n.args {
		v, e := a.eval(rVals, pVals)
		if e != nil {
			return nil, e
		}
		s, ok := v.(string)
		if !ok {
			return false, nil
		}
		vals[i] = s
	}

	domain := ""
	if len(vals) == 3 {
		domain = vals[2]
	}
	return n.rm.HasLink(vals[0], vals[1], domain), nil
}
