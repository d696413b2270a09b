package targeting

// Result is the outcome of evaluating rule sets against a dimension context.
// Reason explains the decision for diagnostics.
type Result struct {
	Matched bool
	Reason  string
}

// Evaluator decides whether a request's dimension context (geo, viewport,
// page type, ...) matches per-key include/exclude value lists. Matching
// semantics (partial match, case sensitivity) belong to the implementation;
// the orchestration core only consumes the verdict.
type Evaluator interface {
	Evaluate(include, exclude map[string][]string, context map[string]string, dimensions []string) Result
}
