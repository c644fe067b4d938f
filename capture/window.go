// Package capture implements the CAPTURE-side half of the pipeline from
// spec.md §4.2: the per-module flow table, window/interval tracking and
// the four-step batch loop (rollover, flush-on-first-packet, hash/match/
// insert, update).
//
// Grounded on _examples/original_source/src/trunk/base/sniffer-bpf.c /
// sniffer-sk98.c for the batch/packet shape CAPTURE consumes, and
// modules/tuple.c + modules/protocol.c for the hash/match/update
// contract a concrete module fulfills.
/*
 * Copyright (c) 2024, CoMo Project. All rights reserved.
 */
package capture

import "time"

// Window is the half-open interval [Start, End) a flow table aggregates
// over, per spec.md §3.
type Window struct {
	Start, End time.Duration
}

// ComputeWindow returns the window containing ts for a module with the
// given flush interval: ivl_start = floor(ts / flush_ivl) * flush_ivl.
func ComputeWindow(ts, flushIvl time.Duration) Window {
	if flushIvl <= 0 {
		flushIvl = time.Second
	}
	start := (ts / flushIvl) * flushIvl
	return Window{Start: start, End: start + flushIvl}
}

// Contains reports whether ts falls in [w.Start, w.End).
func (w Window) Contains(ts time.Duration) bool { return ts >= w.Start && ts < w.End }
