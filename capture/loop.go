package capture

import (
	"time"

	"github.com/como-project/como/cmn"
	"github.com/como-project/como/memsys"
	"github.com/como-project/como/module"
	"github.com/como-project/como/pkt"
)

// FlushFunc ships a module's frozen window to EXPORT — either as
// serialized tuples or (not modeled here; see DESIGN.md "shm flush
// path") a shared-memory handle, the choice negotiated at module attach
// per spec.md §4.2.
type FlushFunc func(window Window, tuples []module.Serializable) error

// ModuleCapture drives one module's share of the batch loop: window
// tracking, flow-table maintenance and flush handoff. CAPTURE holds one
// of these per attached module.
type ModuleCapture struct {
	mod      *module.Module
	table    *FlowTable
	flushIvl time.Duration
	onFlush  FlushFunc

	window    Window
	haveWindow bool
}

// NewModuleCapture wires a Capture-role Module into the loop. arena is
// this module's private CAPTURE sub-arena (spec.md §4.4).
func NewModuleCapture(mod *module.Module, arena *memsys.MemMap, onFlush FlushFunc) (*ModuleCapture, error) {
	ops, err := mod.AsCapture()
	if err != nil {
		return nil, err
	}
	return &ModuleCapture{
		mod:      mod,
		table:    NewFlowTable(mod.Def, ops, arena),
		flushIvl: mod.Def.FlushIvl,
		onFlush:  onFlush,
	}, nil
}

// ProcessBatch runs every packet in batch that passes Check through the
// four-step loop in spec.md §4.2, in batch order (spec.md §5: "all
// module updates for packet p_i complete before any update for p_{i+1}
// starts").
func (mc *ModuleCapture) ProcessBatch(batch *pkt.Batch) error {
	ops := mc.mod.Capture
	for i := range batch.Packets {
		p := &batch.Packets[i]
		if !ops.Check(p) {
			continue
		}
		if err := mc.processOne(p); err != nil {
			return err
		}
	}
	return nil
}

func (mc *ModuleCapture) processOne(p *pkt.Packet) error {
	ts := time.Duration(p.TS)

	// Step 1: interval rollover.
	if mc.haveWindow && ts >= mc.window.End {
		if err := mc.flushNow(); err != nil {
			return err
		}
	}

	// Step 2: first packet of a new window creates fresh scratch state.
	if !mc.haveWindow {
		mc.window = ComputeWindow(ts, mc.flushIvl)
		mc.haveWindow = true
		if _, err := mc.mod.Capture.Flush(mc.window.Start); err != nil {
			return cmn.Wrap(cmn.KindIO, err, "module flush callback")
		}
	}

	// Step 3/4: hash+match+insert, then update. A table-full/arena-
	// exhaustion (Overload) forces an early flush and one retry, per
	// spec.md §7 ("update returning nonzero ⇒ table full ⇒ force
	// flush") generalized to cover allocation failure as well as an
	// explicit full-table signal.
	tuple, isNew, err := mc.table.Lookup(p)
	if err != nil {
		if cmn.KindOf(err) != cmn.KindOverload {
			return err
		}
		if flushErr := mc.flushNow(); flushErr != nil {
			return flushErr
		}
		mc.window = ComputeWindow(ts, mc.flushIvl)
		mc.haveWindow = true
		if _, ferr := mc.mod.Capture.Flush(mc.window.Start); ferr != nil {
			return cmn.Wrap(cmn.KindIO, ferr, "module flush callback")
		}
		tuple, isNew, err = mc.table.Lookup(p)
		if err != nil {
			return err
		}
	}

	return mc.mod.Capture.Update(p, tuple, isNew)
}

// flushNow freezes the current table into a flush message, hands it to
// EXPORT, then arena-releases the window.
func (mc *ModuleCapture) flushNow() error {
	tuples := mc.table.Tuples()
	window := mc.window
	if err := mc.onFlush(window, tuples); err != nil {
		return cmn.Wrap(cmn.KindIO, err, "ship flush to export")
	}
	mc.table.Reset()
	mc.haveWindow = false
	return nil
}

// Flush forces the current window closed regardless of packet arrival —
// used by SUPERVISOR's Freeze handshake before a structural change.
func (mc *ModuleCapture) Flush() error {
	if !mc.haveWindow {
		return nil
	}
	return mc.flushNow()
}
