package query

// Evaluator is the pluggable post-filter predicate spec.md §6's `filter`
// query parameter applies over records after a module's own `print`/
// `load` has surfaced them. The general filter grammar a module's
// aggregation step uses (spec.md §1 Non-goals: "the filter expression
// grammar/parser") stays out of scope; this is a narrower, QUERY-local
// predicate over already-printed fields, kept pluggable via Evaluator
// rather than hard-coding one syntax.
type Evaluator interface {
	// Match reports whether record's printed fields satisfy expr.
	Match(expr string, fields map[string]string) bool
}

// equalityEvaluator is the trivial built-in Evaluator: expr is a single
// "key=value" term, matched against fields[key]. Good enough for simple
// queries; deployments needing a richer grammar supply their own
// Evaluator.
type equalityEvaluator struct{}

func NewEqualityEvaluator() Evaluator { return equalityEvaluator{} }

func (equalityEvaluator) Match(expr string, fields map[string]string) bool {
	if expr == "" {
		return true
	}
	for i := 0; i < len(expr); i++ {
		if expr[i] == '=' {
			key, val := expr[:i], expr[i+1:]
			return fields[key] == val
		}
	}
	return false
}
