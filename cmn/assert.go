package cmn

// Assert-style helpers mirroring the teacher's cmn/debug package, which
// is itself a hand-rolled internal convention (no published library
// covers "panic with context if a build-time invariant breaks"), so we
// keep the same shape rather than search for a substitute.

const debugBuild = false // flipped by a "debug" build tag in a full build matrix

// AssertMsg panics with msg if cond is false. Used only for invariants
// that must never be false given correct callers (e.g. a pool block's
// in-use magic before Free) — never for data the caller controls.
func AssertMsg(cond bool, msg string) {
	if !cond {
		panic("como: assertion failed: " + msg)
	}
}

// Assert is AssertMsg without a message, for the cheapest call sites.
func Assert(cond bool) {
	if !cond {
		panic("como: assertion failed")
	}
}

// DebugEnabled reports whether expensive invariant checks should run.
// Hot paths (pool alloc/free, flow-table insert) gate extra verification
// behind this so a production build pays only the magic-value checks
// that spec.md §9 says must always run.
func DebugEnabled() bool { return debugBuild }
