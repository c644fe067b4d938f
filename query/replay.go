package query

import (
	"fmt"

	"github.com/valyala/fasthttp"

	"github.com/como-project/como/capture"
	"github.com/como-project/como/cmn"
	"github.com/como-project/como/export"
	"github.com/como-project/como/memsys"
	"github.com/como-project/como/module"
	"github.com/como-project/como/pkt"
)

// replayPoolSize is the arena a replay request's ephemeral
// capture/export pipeline allocates from. Sized like the per-test
// arenas elsewhere in the tree (capture/flowtable_test.go,
// export/pipeline_test.go) — a query-time replay never holds more than
// one module's worth of one query's tuples at a time, nowhere near a
// live CAPTURE/EXPORT process's working set.
const replayPoolSize = 1 << 20

// recordCollector is a RecordSink that keeps records in memory instead
// of shipping them to STORAGE — replayInto never persists what it
// regenerates, it only prints it.
type recordCollector struct {
	frames [][]byte
}

func (c *recordCollector) Append(streamName string, frame []byte) error {
	c.frames = append(c.frames, frame)
	return nil
}

// replayInto implements spec.md §6's `source` replay parameter and the
// §8 testable property that replaying module A's records through
// module B (where B.source = A) for [t0,t1) reproduces what B produced
// live: read sourceName's own stored stream for the query's time
// range, turn each of its records back into packets via the source
// module's Replay op, then drive targetName's own live Capture→Export
// pipeline — table lookup, update, window flush, fold, sort, act,
// store — against those packets, the same pipeline CAPTURE/EXPORT runs
// for real traffic. The resulting records are printed through
// targetName's Print op, same as any other record this request emits.
func (s *Server) replayInto(ctx *fasthttp.RequestCtx, sourceName, targetName string, tr TimeRange, format string, args map[string]string) {
	srcMod, ok := s.Modules.Query(sourceName)
	if !ok {
		fmt.Fprintf(ctx, "\n[replay error: unknown source module %q]\n", sourceName)
		return
	}
	srcOps, err := srcMod.AsQuery()
	if err != nil {
		fmt.Fprintf(ctx, "\n[replay error: %v]\n", err)
		return
	}

	captureMod, ok := s.Modules.Build(targetName, module.RoleCapture)
	if !ok {
		fmt.Fprintf(ctx, "\n[replay error: unknown target module %q]\n", targetName)
		return
	}
	exportMod, ok := s.Modules.Build(targetName, module.RoleExport)
	if !ok {
		fmt.Fprintf(ctx, "\n[replay error: unknown target module %q]\n", targetName)
		return
	}
	exportOps, err := exportMod.AsExport()
	if err != nil {
		fmt.Fprintf(ctx, "\n[replay error: %v]\n", err)
		return
	}

	pool := memsys.NewPrivate(replayPoolSize)
	sink := &recordCollector{}
	pipeline := export.NewPipeline(exportMod.Def, exportOps, pool, sink)
	arena := memsys.NewMemMap(pool, memsys.KindCaptureArena, targetName)
	mc, err := capture.NewModuleCapture(captureMod, arena, pipeline.OnFlush)
	if err != nil {
		fmt.Fprintf(ctx, "\n[replay error: %v]\n", err)
		return
	}

	reader, err := s.Storage.OpenReader(s.Node, sourceName, s.StreamCap, false)
	if err != nil {
		fmt.Fprintf(ctx, "\n[replay error: opening %s stream: %v]\n", sourceName, err)
		return
	}
	defer reader.Close()

	var replayed int
	for {
		frame, ok, rerr := reader.Next()
		if rerr != nil {
			cmn.LogErrorf("query: replay: reading %s for replay: %v", sourceName, rerr)
			break
		}
		if !ok {
			break
		}
		ts, payload, _, derr := export.DecodeRecord(frame)
		if derr != nil {
			cmn.LogErrorf("query: replay: decoding %s record: %v", sourceName, derr)
			continue
		}
		if ts < tr.Start || ts >= tr.End {
			continue
		}

		packets, rerr := srcOps.Replay(payload)
		if rerr != nil {
			cmn.LogErrorf("query: replay through %s: %v", sourceName, rerr)
			fmt.Fprintf(ctx, "\n[replay error: %v]\n", rerr)
			return
		}
		if len(packets) == 0 {
			continue
		}
		if err := mc.ProcessBatch(&pkt.Batch{Packets: packets}); err != nil {
			cmn.LogErrorf("query: replay: feeding %s packets into %s capture: %v", sourceName, targetName, err)
			fmt.Fprintf(ctx, "\n[replay error: %v]\n", err)
			return
		}
		replayed += len(packets)
	}

	if err := mc.Flush(); err != nil {
		fmt.Fprintf(ctx, "\n[replay error: closing %s window: %v]\n", targetName, err)
		return
	}
	if err := pipeline.CloseWindow(); err != nil {
		fmt.Fprintf(ctx, "\n[replay error: %v]\n", err)
		return
	}

	tgtMod, ok := s.Modules.Query(targetName)
	if !ok {
		fmt.Fprintf(ctx, "\n[replay error: unknown target module %q]\n", targetName)
		return
	}
	tgtOps, err := tgtMod.AsQuery()
	if err != nil {
		fmt.Fprintf(ctx, "\n[replay error: %v]\n", err)
		return
	}

	fmt.Fprintf(ctx, "\n[replay via %s: %d packet(s), %d record(s)]\n", sourceName, replayed, len(sink.frames))
	var printState interface{}
	for _, frame := range sink.frames {
		_, payload, _, derr := export.DecodeRecord(frame)
		if derr != nil {
			cmn.LogErrorf("query: replay: decoding replayed %s record: %v", targetName, derr)
			continue
		}
		out, perr := tgtOps.Print(payload, format, args, &printState)
		if perr != nil {
			cmn.LogErrorf("query: replay: print callback for %s: %v", targetName, perr)
			continue
		}
		ctx.Write(out)
	}
}
