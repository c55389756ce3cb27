package perm

import (
	"github.com/go-logr/logr"
	"github.com/supremind/perm/internal/effector"
	"github.com/supremind/perm/internal/matcher"
	"github.com/supremind/perm/internal/rolemanager"
	"github.com/supremind/perm/model"
	"github.com/supremind/perm/types"
)

// CompileMatcher compiles a model's matcher expression into a predicate,
// binding each g-style function it references to the role manager registered
// under that name. Most users go through New instead; this entry point
// serves callers embedding the compiler on its own.
func CompileMatcher(m *model.Model, rms map[string]types.RoleManager) (types.Predicate, error) {
	return matcher.Compile(m, rms)
}

// GetEffector compiles a policy-effect expression into a stream reducer
func GetEffector(expr string) (types.Reducer, error) {
	return effector.New(expr)
}

// NewRoleManager creates a standalone, empty role manager
func NewRoleManager(log logr.Logger) types.RoleManager {
	return rolemanager.New(log)
}
