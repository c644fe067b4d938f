// Package export implements the EXPORT-side half of the pipeline: the
// e-tuple table a module's flush message folds into, the rank/action
// pass over the sorted table, and the record handoff to STORAGE.
//
// Grounded on _examples/original_source/src/branches/2.0/base/export.c
// for the ematch/export/compare/action/store sequence, and on the
// teacher's XactTCB state machine (_examples/ghjramos-aistore/xact/xs/
// tcb.go) for modeling the table as an explicit state value instead of
// scattering "have we sorted yet" booleans across the struct.
/*
 * Copyright (c) 2024, CoMo Project. All rights reserved.
 */
package export

import (
	"sort"
	"time"

	"github.com/como-project/como/capture"
	"github.com/como-project/como/cmn"
	"github.com/como-project/como/memsys"
	"github.com/como-project/como/module"
)

// State is an ETable's position in its lifecycle, per spec.md §4.3.
type State int

const (
	StateCollecting State = iota
	StateSorted
	StateStored
	StateDiscarded
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateSorted:
		return "sorted"
	case StateStored:
		return "stored"
	case StateDiscarded:
		return "discarded"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// etuple pairs one e-tuple value with the module-side arena reservation
// backing it, mirroring capture's entry shape.
type etuple struct {
	val   module.Serializable
	arena memsys.Ptr
}

// ETable accumulates one window's worth of e-tuples across possibly many
// flush messages (spec.md §4.3: "export may be called multiple times per
// window, once per CAPTURE flush"), then sorts, acts on and stores them.
type ETable struct {
	def   *module.ModuleDef
	ops   *module.ExportOps
	arena *memsys.MemMap

	window capture.Window
	state  State
	items  []etuple
}

func NewETable(def *module.ModuleDef, ops *module.ExportOps, arena *memsys.MemMap, window capture.Window) *ETable {
	return &ETable{def: def, ops: ops, arena: arena, window: window}
}

// Fold merges one CAPTURE flush's tuples into the table: for each tuple,
// find a matching e-tuple via EMatch or allocate a fresh one, then call
// Export. Only valid in StateCollecting.
func (e *ETable) Fold(tuples []module.Serializable) error {
	if e.state != StateCollecting {
		return cmn.Errorf(cmn.KindMalformed, "export: Fold on table in state %s", e.state)
	}
	for _, tuple := range tuples {
		et, isNew, err := e.findOrAlloc(tuple)
		if err != nil {
			return err
		}
		if err := e.ops.Export(et.val, tuple, isNew); err != nil {
			return cmn.Wrap(cmn.KindIO, err, "module export callback")
		}
	}
	return nil
}

func (e *ETable) findOrAlloc(tuple module.Serializable) (*etuple, bool, error) {
	for i := range e.items {
		if e.ops.EMatch(e.items[i].val, tuple) {
			return &e.items[i], false, nil
		}
	}
	val := e.def.NewETuple()
	ptr, err := e.arena.Alloc(val.Msgsize())
	if err != nil {
		return nil, false, cmn.Wrap(cmn.KindOverload, err, "export arena exhausted")
	}
	e.items = append(e.items, etuple{val: val, arena: ptr})
	return &e.items[len(e.items)-1], true, nil
}

// Sort orders the table by the module's Compare and transitions
// Collecting -> Sorted. A module with no Compare is left in input order.
func (e *ETable) Sort() error {
	if e.state != StateCollecting {
		return cmn.Errorf(cmn.KindMalformed, "export: Sort on table in state %s", e.state)
	}
	if e.ops.Compare != nil {
		sort.SliceStable(e.items, func(i, j int) bool {
			return e.ops.Compare(e.items[i].val, e.items[j].val) < 0
		})
	}
	e.state = StateSorted
	return nil
}

// Record is a (e-tuple bytes, action flags) pair the action pass emitted
// for one ranked entry, ready for STORAGE or discard per its flags.
type Record struct {
	ETuple module.Serializable
	Flags  module.ActionFlags
	Bytes  []byte
}

// Act calls Action once on the whole table with a nil e-tuple and
// rank -1, then again per e-tuple in sort order starting at rank 0,
// honoring ActionStop to end the pass early (spec.md §4.1: action "may
// short-circuit the remaining, lower-ranked entries"; called "on whole
// table with e-tuple=NULL first, then per e-tuple in sort order").
// Only valid in Sorted.
func (e *ETable) Act() ([]Record, error) {
	if e.state != StateSorted {
		return nil, cmn.Errorf(cmn.KindMalformed, "export: Act on table in state %s", e.state)
	}
	var out []Record
	if flags := e.ops.Action(nil, e.window.Start, -1); flags&module.ActionStop != 0 {
		e.state = StateDiscarded
		return nil, nil
	}
	for rank, it := range e.items {
		flags := e.ops.Action(it.val, e.window.Start, rank)
		if flags&module.ActionDiscard != 0 {
			continue
		}
		rec := Record{ETuple: it.val, Flags: flags}
		if flags&module.ActionStore != 0 {
			bytes, err := e.ops.Store(it.val)
			if err != nil {
				return nil, cmn.Wrap(cmn.KindIO, err, "module store callback")
			}
			rec.Bytes = bytes
		}
		out = append(out, rec)
		if flags&module.ActionStop != 0 {
			break
		}
	}
	if len(out) == 0 {
		e.state = StateDiscarded
	} else {
		e.state = StateStored
	}
	return out, nil
}

// Release bulk-returns the export arena and marks the table released.
// Idempotent from any terminal state.
func (e *ETable) Release() {
	if e.state == StateReleased {
		return
	}
	e.arena.Release()
	e.state = StateReleased
}

func (e *ETable) State() State          { return e.state }
func (e *ETable) Window() capture.Window { return e.window }
func (e *ETable) Count() int             { return len(e.items) }

// WindowDuration reports how long this table has been open, for the
// resource scheduler's stuck-table detection.
func (e *ETable) WindowDuration(now time.Duration) time.Duration { return now - e.window.Start }
