package types

// Predicate is a compiled matcher: it evaluates one request vector against
// one policy vector. Predicates are immutable and safe for concurrent use.
// An error means the expression could not be evaluated, like when a vector
// is shorter than the model's definition or an operand of !, && or || is not
// a bool; it never means that the rule failed to match.
type Predicate func(rVals, pVals []string) (bool, error)

// Reducer folds a stream of per-rule effects into the final decision,
// stopping the stream as soon as the outcome is settled
type Reducer func(stream EffectStream) bool
