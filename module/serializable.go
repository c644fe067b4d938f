// Package module defines the pluggable-module ABI from spec.md §4.1: the
// closed set of per-role operations (init/check/hash/match/update/
// flush/ematch/export/compare/action/store/load/print/replay), the
// Module/ModuleDef types, and the Serializable contract every tuple,
// e-tuple, record and config type must satisfy.
//
// Grounded on _examples/original_source/src/branches/2.0/base/mdl.c (the
// original's single mdl struct multiplexing per-process role) and, for
// the Go re-expression as a tagged union of per-role structs, on the
// factory/Renewable split the teacher uses for its own per-kind runtime
// variants (_examples/ghjramos-aistore/xact/xs/tcb.go's tcbFactory /
// XactTCB pair).
/*
 * Copyright (c) 2024, CoMo Project. All rights reserved.
 */
package module

// Serializable is the contract spec.md §8 calls the round-trip and
// length-declaration laws: deserialize(serialize(v)) == v and
// len(serialize(v)) == expose_len(v). Method names follow the
// tinylib/msgp code-generator convention (MarshalMsg/UnmarshalMsg/
// Msgsize) so that any msgp-generated type satisfies this interface for
// free — the bundled modules (modules/tuple, modules/protocol) write
// their marshaling by hand in exactly the shape msgp would generate,
// rather than inventing a bespoke serialization contract the pack's own
// msgp dependency doesn't recognize.
type Serializable interface {
	// MarshalMsg appends the encoded form of the receiver to b and
	// returns the extended slice.
	MarshalMsg(b []byte) ([]byte, error)
	// UnmarshalMsg decodes the receiver from the front of bts and
	// returns the remaining, unconsumed bytes.
	UnmarshalMsg(bts []byte) ([]byte, error)
	// Msgsize returns the exact encoded length MarshalMsg will produce.
	Msgsize() int
}

// Factory builds a zero-value Serializable of a module's tuple,
// e-tuple, record or config type, so framework code can allocate one
// without a type parameter (Go interfaces carry no "new T" operation).
type Factory func() Serializable

// RoundTrip verifies the testable property in spec.md §8 for one value;
// used by module conformance tests, not by the hot path.
func RoundTrip(v Serializable, fresh Factory) (bool, error) {
	buf, err := v.MarshalMsg(nil)
	if err != nil {
		return false, err
	}
	if len(buf) != v.Msgsize() {
		return false, nil
	}
	out := fresh()
	rest, err := out.UnmarshalMsg(buf)
	if err != nil {
		return false, err
	}
	if len(rest) != 0 {
		return false, nil
	}
	roundBuf, err := out.MarshalMsg(nil)
	if err != nil {
		return false, err
	}
	return string(roundBuf) == string(buf), nil
}
