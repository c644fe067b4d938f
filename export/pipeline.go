package export

import (
	"github.com/como-project/como/capture"
	"github.com/como-project/como/cmn"
	"github.com/como-project/como/memsys"
	"github.com/como-project/como/module"
)

// RecordSink receives the frame bytes of a stored record, destined for a
// STORAGE bytestream client. Expressed as an interface here (rather than
// importing storage directly) so export has no dependency on how or
// where records ultimately land — spec.md draws that line at the
// process boundary, and Go lets us draw it at the package boundary too.
type RecordSink interface {
	Append(streamName string, frame []byte) error
}

// Pipeline is the EXPORT-process counterpart to capture.ModuleCapture:
// one per attached module, folding every CAPTURE flush message for a
// window into an ETable, then sorting/acting/storing once the window is
// known-closed.
type Pipeline struct {
	def  *module.ModuleDef
	ops  *module.ExportOps
	pool *memsys.Pool
	sink RecordSink

	current *ETable
}

func NewPipeline(def *module.ModuleDef, ops *module.ExportOps, pool *memsys.Pool, sink RecordSink) *Pipeline {
	return &Pipeline{def: def, ops: ops, pool: pool, sink: sink}
}

// OnFlush is the capture.FlushFunc this pipeline hands to
// capture.ModuleCapture (or, in a multi-process deployment, the IPC
// handler that decodes a MsgFlush frame into the same call): fold the
// flushed tuples into the window's ETable, creating one if this is the
// window's first flush.
func (p *Pipeline) OnFlush(window capture.Window, tuples []module.Serializable) error {
	if p.current == nil || p.current.Window() != window {
		if p.current != nil {
			if err := p.closeWindow(); err != nil {
				return err
			}
		}
		arena := memsys.NewMemMap(p.pool, memsys.KindExportArena, p.def.Name)
		p.current = NewETable(p.def, p.ops, arena, window)
	}
	return p.current.Fold(tuples)
}

// CloseWindow finalizes whatever window is currently open — called when
// CAPTURE signals (via its own rollover) that no further flush for this
// window will arrive, or when SUPERVISOR's Freeze forces an early close.
func (p *Pipeline) CloseWindow() error {
	if p.current == nil {
		return nil
	}
	return p.closeWindow()
}

func (p *Pipeline) closeWindow() error {
	t := p.current
	p.current = nil

	if err := t.Sort(); err != nil {
		return err
	}
	records, err := t.Act()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.Flags&module.ActionStore == 0 {
			continue
		}
		frame := EncodeRecord(int64(t.Window().Start.Seconds()), rec.Bytes)
		if err := p.sink.Append(p.def.Output, frame); err != nil {
			return cmn.Wrap(cmn.KindIO, err, "append record to storage")
		}
	}
	t.Release()
	return nil
}
