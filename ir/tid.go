package ir

// Tid is a term identifier: a globally unique, stable key naming a block,
// jump, definition or subroutine. Tids are the unit of cross-reference in
// the IR; jump targets, graph nodes and rewrite plans are all keyed by Tid,
// never by position.
type Tid string

func (t Tid) String() string {
	return string(t)
}

// WithSuffix derives a new identifier from t. Lifters and tests use this to
// name the jumps and defs belonging to a block.
func (t Tid) WithSuffix(suffix string) Tid {
	return t + "_" + Tid(suffix)
}
