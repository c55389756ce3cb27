// Package matcher compiles a model's matcher expression into a native
// predicate over one request vector and one policy vector.
//
// The expression grammar is a subset of Go's, so the front end is go/parser.
// Compilation rewrites the tree once: r.* and p.* references become fixed
// index reads, g-style calls are bound to their role manager handle, and
// built-in names are linked to their functions. Evaluation walks the
// rewritten tree with no lookups left.
package matcher

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"

	"github.com/supremind/perm/internal/operators"
	"github.com/supremind/perm/model"
	"github.com/supremind/perm/types"
)

// Compile turns the model's matcher expression into a predicate. rms binds
// each g-style function name referenced by the expression to a role manager.
func Compile(m *model.Model, rms map[string]types.RoleManager) (types.Predicate, error) {
	expr, ok := m.Matchers["m"]
	if !ok {
		return nil, fmt.Errorf("%w: model has no matcher", types.ErrCompile)
	}

	c := &compiler{
		rIndex: indexTokens(m.Request["r"]),
		pIndex: indexTokens(m.Policy["p"]),
		rms:    rms,
	}

	tree, e := parser.ParseExpr(expr)
	if e != nil {
		return nil, fmt.Errorf("%w: parse matcher: %v", types.ErrCompile, e)
	}

	root, e := c.compile(tree)
	if e != nil {
		return nil, e
	}

	return func(rVals, pVals []string) (bool, error) {
		v, e := root.eval(rVals, pVals)
		if e != nil {
			return false, e
		}
		b, ok := v.(bool)
		if !ok {
			return false, fmt.Errorf("%w: matcher evaluates to %T, not bool", types.ErrInvalidRequest, v)
		}
		return b, nil
	}, nil
}

func indexTokens(def string) map[string]int {
	idx := make(map[string]int)
	for i, tok := range model.Tokens(def) {
		idx[tok] = i
	}
	return idx
}

type compiler struct {
	rIndex map[string]int
	pIndex map[string]int
	rms    map[string]types.RoleManager
}

func (c *compiler) compile(e ast.Expr) (node, error) {
	switch e := e.(type) {
	case *ast.ParenExpr:
		return c.compile(e.X)

	case *ast.BasicLit:
		return c.literal(e)

	case *ast.Ident:
		switch e.Name {
		case "true":
			return constNode{v: true}, nil
		case "false":
			return constNode{v: false}, nil
		}
		return nil, fmt.Errorf("%w: unknown identifier %q", types.ErrCompile, e.Name)

	case *ast.SelectorExpr:
		return c.field(e)

	case *ast.UnaryExpr:
		if e.Op != token.NOT {
			return nil, fmt.Errorf("%w: unsupported unary operator %s", types.ErrCompile, e.Op)
		}
		x, err := c.compile(e.X)
		if err != nil {
			return nil, err
		}
		return &notNode{x: x}, nil

	case *ast.BinaryExpr:
		return c.binary(e)

	case *ast.CallExpr:
		return c.call(e)
	}

	return nil, fmt.Errorf("%w: unsupported expression %T", types.ErrCompile, e)
}

func (c *compiler) literal(e *ast.BasicLit) (node, error) {
	switch e.Kind {
	case token.STRING:
		s, err := strconv.Unquote(e.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: bad string literal %s", types.ErrCompile, e.Value)
		}
		return constNode{v: s}, nil
	case token.INT, token.FLOAT:
		f, err := strconv.ParseFloat(e.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad numeric literal %s", types.ErrCompile, e.Value)
		}
		return constNode{v: f}, nil
	}
	return nil, fmt.Errorf("%w: unsupported literal %s", types.ErrCompile, e.Value)
}

func (c *compiler) field(e *ast.SelectorExpr) (node, error) {
	base, ok := e.X.(*ast.Ident)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported selector base", types.ErrCompile)
	}

	var idx map[string]int
	var source fieldSource
	switch base.Name {
	case "r":
		idx, source = c.rIndex, requestField
	case "p":
		idx, source = c.pIndex, policyField
	default:
		return nil, fmt.Errorf("%w: unknown variable %q, expect r or p", types.ErrCompile, base.Name)
	}

	i, ok := idx[e.Sel.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no field %q", types.ErrCompile, base.Name, e.Sel.Name)
	}
	return &fieldNode{source: source, index: i, name: base.Name + "." + e.Sel.Name}, nil
}

func (c *compiler) binary(e *ast.BinaryExpr) (node, error) {
	x, err := c.compile(e.X)
	if err != nil {
		return nil, err
	}
	y, err := c.compile(e.Y)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case token.LAND:
		return &andNode{x: x, y: y}, nil
	case token.LOR:
		return &orNode{x: x, y: y}, nil
	case token.EQL:
		return &cmpNode{x: x, y: y, negate: false}, nil
	case token.NEQ:
		return &cmpNode{x: x, y: y, negate: true}, nil
	}
	return nil, fmt.Errorf("%w: unsupported operator %s", types.ErrCompile, e.Op)
}

func (c *compiler) call(e *ast.CallExpr) (node, error) {
	ident, ok := e.Fun.(*ast.Ident)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported call target", types.ErrCompile)
	}
	name := ident.Name

	args := make([]node, 0, len(e.Args))
	for _, a := range e.Args {
		n, err := c.compile(a)
		if err != nil {
			return nil, err
		}
		args = append(args, n)
	}

	if isLinkFunc(name) {
		rm, ok := c.rms[name]
		if !ok {
			return nil, fmt.Errorf("%w: RoleManager for '%s' not found", types.ErrCompile, name)
		}
		if len(args) != 2 && len(args) != 3 {
			return nil, fmt.Errorf("%w: %s expects 2 or 3 arguments, got %d", types.ErrCompile, name, len(args))
		}
		return &linkNode{name: name, rm: rm, args: args}, nil
	}

	if fn, ok := operators.Lookup(name); ok {
		if len(args) != 2 {
			return nil, fmt.Errorf("%w: %s expects 2 arguments, got %d", types.ErrCompile, name, len(args))
		}
		return &builtinNode{name: name, fn: fn, args: [2]node{args[0], args[1]}}, nil
	}

	return nil, fmt.Errorf("%w: unknown function %q", types.ErrCompile, name)
}

// isLinkFunc recognizes role-link function names: g, g2, g3, ...
func isLinkFunc(name string) bool {
	if name == "" || name[0] != 'g' {
		return false
	}
	if len(name) == 1 {
		return true
	}
	_, err := strconv.Atoi(name[1:])
	return err == nil
}
