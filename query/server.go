package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	"github.com/como-project/como/cmn"
	"github.com/como-project/como/export"
	"github.com/como-project/como/module"
	"github.com/como-project/como/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ModuleSource resolves a module name to its QUERY-role ops plus the
// node/stream it reads from, letting Server stay agnostic of how
// modules got registered (module.Registry in production, a fake in
// tests).
type ModuleSource interface {
	Query(name string) (*module.Module, bool)

	// Build instantiates a fresh Module in the given role, the same way
	// SUPERVISOR/CAPTURE/EXPORT do when they attach a module — used by
	// replayInto to drive a target module's own Capture/Export ops
	// against replayed packets rather than its Query ops alone.
	Build(name string, role module.Role) (*module.Module, bool)
}

// Server is the QUERY process's fasthttp entrypoint: one worker per
// connection, stateless across requests (spec.md §6: "accepts one
// request per connection").
type Server struct {
	Node      string
	Modules   ModuleSource
	Storage   storage.RecordSource
	Filter    Evaluator
	StreamCap int64
	Active    func() []string // names of currently active (non-disabled) modules, for /status

	// SigningKey, when non-empty, requires every request but /status to
	// carry a valid HMAC-signed bearer token (SPEC_FULL.md §6 NEW).
	SigningKey []byte
}

// Handler implements fasthttp.RequestHandler, the library the teacher's
// own S3 gateway (ais/prxs3.go) and the rest of the pack's HTTP-facing
// code standardize on in place of net/http for its lower per-request
// allocation cost under many short-lived connections — a good fit for
// QUERY's one-worker-per-request model.
func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	if string(ctx.Method()) != fasthttp.MethodGet {
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(ctx) {
		return
	}
	path := string(ctx.Path())

	switch {
	case path == "/status":
		s.handleStatus(ctx)
	case strings.HasPrefix(path, "/services/"):
		s.handleService(ctx, strings.TrimPrefix(path, "/services/"))
	case path == "/" || path == "":
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		fmt.Fprint(ctx, "missing module name")
	default:
		s.handleModuleQuery(ctx, strings.TrimPrefix(path, "/"))
	}
}

func (s *Server) handleStatus(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("text/plain; charset=utf-8")
	fmt.Fprintf(ctx, "node: %s\n", s.Node)
	fmt.Fprintln(ctx, "active modules:")
	for _, name := range s.Active() {
		fmt.Fprintf(ctx, "  %s\n", name)
	}
}

func (s *Server) handleService(ctx *fasthttp.RequestCtx, name string) {
	if name != "status" {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	body, _ := json.Marshal(map[string]interface{}{
		"node":    s.Node,
		"modules": s.Active(),
	})
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// handleModuleQuery implements the `/<module>?k=v...` surface from
// spec.md §6: resolve the module, the time range, optional replay
// source, then stream matching records through the module's print.
func (s *Server) handleModuleQuery(ctx *fasthttp.RequestCtx, name string) {
	args := ctx.QueryArgs()
	if override := args.Peek("module"); len(override) > 0 {
		name = string(override)
	}

	mod, ok := s.Modules.Query(name)
	if !ok {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		fmt.Fprintf(ctx, "unknown module %q", name)
		return
	}
	ops, err := mod.AsQuery()
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		fmt.Fprint(ctx, err.Error())
		return
	}

	format := string(args.Peek("format"))
	if format != "" && !containsStr(ops.Formats, format) {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		fmt.Fprintf(ctx, "format %q not declared by module %q", format, name)
		return
	}

	tr, err := s.resolveTimeRange(args)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		fmt.Fprint(ctx, err.Error())
		return
	}

	filterExpr := string(args.Peek("filter"))
	blocking := string(args.Peek("wait")) != "no"
	sourceModule := string(args.Peek("source"))

	reader, err := s.Storage.OpenReader(s.Node, name, s.StreamCap, blocking)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		fmt.Fprint(ctx, err.Error())
		return
	}
	defer reader.Close()

	ctx.SetContentType(contentTypeFor(format))
	var printState interface{}
	for {
		frame, ok, rerr := reader.Next()
		if rerr != nil {
			cmn.LogErrorf("query: reading records for %s: %v", name, rerr)
			break
		}
		if !ok {
			break
		}
		ts, payload, _, derr := export.DecodeRecord(frame)
		if derr != nil {
			cmn.LogErrorf("query: decoding record for %s: %v", name, derr)
			continue
		}
		if ts < tr.Start || ts >= tr.End {
			continue
		}

		out, perr := ops.Print(payload, format, queryArgsToMap(args), &printState)
		if perr != nil {
			cmn.LogErrorf("query: print callback for %s: %v", name, perr)
			continue
		}
		if filterExpr != "" && !s.filterPasses(filterExpr, out) {
			continue
		}
		ctx.Write(out)
	}

	if sourceModule != "" {
		s.replayInto(ctx, sourceModule, name, tr, format, queryArgsToMap(args))
	}
}

func (s *Server) resolveTimeRange(args *fasthttp.Args) (TimeRange, error) {
	if expr := string(args.Peek("time")); expr != "" {
		return ParseTimeExpr(expr, time.Now())
	}
	tr := TimeRange{Start: 0, End: 1<<63 - 1}
	if v := args.Peek("start"); len(v) > 0 {
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return TimeRange{}, cmn.Wrap(cmn.KindMalformed, err, "parse start")
		}
		tr.Start = n
	}
	if v := args.Peek("end"); len(v) > 0 {
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return TimeRange{}, cmn.Wrap(cmn.KindMalformed, err, "parse end")
		}
		tr.End = n
	}
	return tr, nil
}

// filterPasses applies the pluggable Evaluator over the module's
// printed output, treated as a single "text" field — modules that want
// structured filtering expose their own fields via a richer Evaluator.
func (s *Server) filterPasses(expr string, printed []byte) bool {
	if s.Filter == nil {
		return true
	}
	return s.Filter.Match(expr, map[string]string{"text": string(printed)})
}

func queryArgsToMap(args *fasthttp.Args) map[string]string {
	out := make(map[string]string)
	args.VisitAll(func(k, v []byte) {
		out[string(k)] = string(v)
	})
	return out
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func contentTypeFor(format string) string {
	if format == "" {
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}
