package query

import (
	"encoding/binary"
	"fmt"
	"testing"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/como-project/como/export"
	"github.com/como-project/como/module"
	"github.com/como-project/como/pkt"
	"github.com/como-project/como/storage"
)

// fakeModuleSource is a minimal in-test ModuleSource, standing in for
// module.Registry so these tests don't need a full supervisor wired up.
// roles, when set for a name, backs Build as well as Query, so a test
// can give one fixture module real Capture/Export ops instead of only
// the Query-role one mods alone can express.
type fakeModuleSource struct {
	mods  map[string]*module.Module
	roles map[string]map[module.Role]*module.Module
}

func (f *fakeModuleSource) Query(name string) (*module.Module, bool) {
	if byRole, ok := f.roles[name]; ok {
		m, ok := byRole[module.RoleQuery]
		return m, ok
	}
	m, ok := f.mods[name]
	return m, ok
}

func (f *fakeModuleSource) Build(name string, role module.Role) (*module.Module, bool) {
	byRole, ok := f.roles[name]
	if !ok {
		return nil, false
	}
	m, ok := byRole[role]
	return m, ok
}

func echoQueryModule() *module.Module {
	return &module.Module{
		Def:  &module.ModuleDef{Name: "echo"},
		Role: module.RoleQuery,
		Query: &module.QueryOps{
			Formats: []string{"text"},
			Print: func(record []byte, format string, args map[string]string, state *interface{}) ([]byte, error) {
				return append([]byte("record: "), record...), nil
			},
			Replay: func(record []byte) ([]pkt.Packet, error) {
				return []pkt.Packet{{TS: 1, CapLen: uint32(len(record))}}, nil
			},
		},
	}
}

// upstreamReplayModule is a Query-only source fixture: its stored
// records are arbitrary byte blobs, and Replay turns each one into a
// handful of packets whose WireLen carries the blob's length — enough
// for a byte-counting downstream module to do real work with, without
// needing a real packet payload (same "replay carries cadence/size,
// not original bytes" contract the tuple module's replay documents).
func upstreamReplayModule(packetsPerRecord int) *module.Module {
	return &module.Module{
		Def:  &module.ModuleDef{Name: "upstream"},
		Role: module.RoleQuery,
		Query: &module.QueryOps{
			Formats: []string{"text"},
			Print: func(record []byte, format string, args map[string]string, state *interface{}) ([]byte, error) {
				return append([]byte("record: "), record...), nil
			},
			Replay: func(record []byte) ([]pkt.Packet, error) {
				out := make([]pkt.Packet, packetsPerRecord)
				for i := range out {
					out[i] = pkt.Packet{TS: 1, CapLen: uint32(len(record)), WireLen: uint32(len(record))}
				}
				return out, nil
			},
		},
	}
}

// totals is the Serializable tuple/e-tuple/record type for
// totalsModuleFixtures below: a single-bucket byte/packet counter, the
// simplest possible stand-in for a real aggregation module.
type totals struct {
	Bytes   uint64
	Packets uint64
}

func (t *totals) MarshalMsg(b []byte) ([]byte, error) {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], t.Bytes)
	binary.BigEndian.PutUint64(buf[8:16], t.Packets)
	return append(b, buf...), nil
}

func (t *totals) UnmarshalMsg(bts []byte) ([]byte, error) {
	if len(bts) < 16 {
		return nil, fmt.Errorf("totals: short buffer")
	}
	t.Bytes = binary.BigEndian.Uint64(bts[0:8])
	t.Packets = binary.BigEndian.Uint64(bts[8:16])
	return bts[16:], nil
}

func (t *totals) Msgsize() int { return 16 }

// totalsModuleFixtures builds the {Capture, Export, Query} Module trio
// for a single-bucket byte/packet-counting module, standing in for a
// real Capture+Export module so replayInto has a genuine live
// pipeline — distinct from the source module — to drive.
func totalsModuleFixtures() map[module.Role]*module.Module {
	def := &module.ModuleDef{
		Name:      "totals",
		FlushIvl:  time.Second,
		NewTuple:  func() module.Serializable { return &totals{} },
		NewETuple: func() module.Serializable { return &totals{} },
		NewRecord: func() module.Serializable { return &totals{} },
	}
	return map[module.Role]*module.Module{
		module.RoleCapture: {Def: def, Role: module.RoleCapture, Capture: &module.CaptureOps{
			Check: func(p *pkt.Packet) bool { return true },
			Hash:  func(p *pkt.Packet) uint32 { return 0 },
			Match: func(p *pkt.Packet, s module.Serializable) bool { return true },
			Update: func(p *pkt.Packet, s module.Serializable, isNew bool) error {
				tu := s.(*totals)
				tu.Bytes += uint64(p.WireLen)
				tu.Packets++
				return nil
			},
			Flush: func(windowStart time.Duration) (*module.IvlState, error) {
				return &module.IvlState{Start: windowStart}, nil
			},
			TableSize: 16,
		}},
		module.RoleExport: {Def: def, Role: module.RoleExport, Export: &module.ExportOps{
			EMatch: func(etuple, t module.Serializable) bool { return false },
			Export: func(etuple, t module.Serializable, isNew bool) error {
				*etuple.(*totals) = *t.(*totals)
				return nil
			},
			Compare: func(a, b module.Serializable) int { return 0 },
			Action:  func(module.Serializable, time.Duration, int) module.ActionFlags { return module.ActionStore | module.ActionGo },
			Store:   func(s module.Serializable) ([]byte, error) { return s.MarshalMsg(nil) },
		}},
		module.RoleQuery: {Def: def, Role: module.RoleQuery, Query: &module.QueryOps{
			Formats: []string{"text"},
			Print: func(record []byte, format string, args map[string]string, state *interface{}) ([]byte, error) {
				tu := &totals{}
				if _, err := tu.UnmarshalMsg(record); err != nil {
					return nil, err
				}
				return []byte(fmt.Sprintf("totals: bytes=%d packets=%d\n", tu.Bytes, tu.Packets)), nil
			},
		}},
	}
}

func newTestQueryServer(t *testing.T, node, modName string, records [][]byte) *Server {
	t.Helper()
	dir := t.TempDir()
	ss := storage.NewServer(dir)

	w, err := storage.NewWriterHandle(ss, node, modName, 1<<20)
	if err != nil {
		t.Fatalf("NewWriterHandle: %v", err)
	}
	for i, rec := range records {
		frame := export.EncodeRecord(int64(i), rec)
		if err := w.Append("", frame); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	src := &fakeModuleSource{mods: map[string]*module.Module{modName: echoQueryModule()}}
	return &Server{
		Node:      node,
		Modules:   src,
		Storage:   storage.LocalSource{Server: ss},
		Filter:    NewEqualityEvaluator(),
		StreamCap: 1 << 20,
		Active:    func() []string { return []string{modName} },
	}
}

func doRequest(s *Server, method, uri string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI(uri)
	ctx.Request.Header.SetMethod(method)
	s.Handler(ctx)
	return ctx
}

// TestModuleQueryStreamsStoredRecords exercises the module-query path
// end to end: records actually written through STORAGE, read back and
// printed via the module's Print callback.
func TestModuleQueryStreamsStoredRecords(t *testing.T) {
	s := newTestQueryServer(t, "node0", "echo", [][]byte{[]byte("aaa"), []byte("bbb")})

	ctx := doRequest(s, fasthttp.MethodGet, "/echo?wait=no&format=text")
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status = %d, want 200", ctx.Response.StatusCode())
	}
	body := string(ctx.Response.Body())
	if !containsAll(body, "record: aaa", "record: bbb") {
		t.Fatalf("body missing expected records: %q", body)
	}
}

// TestModuleQueryReplayDrivesTargetCaptureExportPipeline exercises
// spec.md §8's replay-equals-live property against two genuinely
// distinct modules: "upstream" (Query-only, Replay turns its records
// into packets) and "totals" (a real Capture+Export+Query module).
// Replaying upstream's records through totals must produce the same
// byte/packet counts totals' own live Capture→Export pipeline would
// have produced for packets of that size, not just echo the source
// payload back as debug text.
func TestModuleQueryReplayDrivesTargetCaptureExportPipeline(t *testing.T) {
	dir := t.TempDir()
	ss := storage.NewServer(dir)

	w, err := storage.NewWriterHandle(ss, "node0", "upstream", 1<<20)
	if err != nil {
		t.Fatalf("NewWriterHandle: %v", err)
	}
	records := [][]byte{[]byte("aaaaa"), []byte("bb")} // 5 + 2 = 7 bytes/record
	const packetsPerRecord = 3
	for i, rec := range records {
		frame := export.EncodeRecord(int64(i), rec)
		if err := w.Append("", frame); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	src := &fakeModuleSource{roles: map[string]map[module.Role]*module.Module{
		"upstream": {module.RoleQuery: upstreamReplayModule(packetsPerRecord)},
		"totals":   totalsModuleFixtures(),
	}}
	s := &Server{
		Node:      "node0",
		Modules:   src,
		Storage:   storage.LocalSource{Server: ss},
		Filter:    NewEqualityEvaluator(),
		StreamCap: 1 << 20,
		Active:    func() []string { return []string{"upstream", "totals"} },
	}

	ctx := doRequest(s, fasthttp.MethodGet, "/totals?wait=no&format=text&source=upstream")
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status = %d, want 200: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
	body := string(ctx.Response.Body())

	wantBytes := 0
	wantPackets := 0
	for _, rec := range records {
		wantBytes += len(rec) * packetsPerRecord
		wantPackets += packetsPerRecord
	}
	want := fmt.Sprintf("totals: bytes=%d packets=%d", wantBytes, wantPackets)
	if !containsAll(body, want) {
		t.Fatalf("body missing live-equivalent totals record %q: %q", want, body)
	}
}

func TestUnknownModuleReturns404(t *testing.T) {
	s := newTestQueryServer(t, "node0", "echo", nil)

	ctx := doRequest(s, fasthttp.MethodGet, "/nosuchmodule")
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("status = %d, want 404", ctx.Response.StatusCode())
	}
}

func TestNonGetMethodRejected(t *testing.T) {
	s := newTestQueryServer(t, "node0", "echo", nil)

	ctx := doRequest(s, fasthttp.MethodPost, "/echo")
	if ctx.Response.StatusCode() != fasthttp.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", ctx.Response.StatusCode())
	}
}

func TestMalformedTimeExprReturns400(t *testing.T) {
	s := newTestQueryServer(t, "node0", "echo", [][]byte{[]byte("x")})

	ctx := doRequest(s, fasthttp.MethodGet, "/echo?time=garbage&wait=no")
	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Fatalf("status = %d, want 400", ctx.Response.StatusCode())
	}
}

func TestStatusEndpointListsActiveModules(t *testing.T) {
	s := newTestQueryServer(t, "node0", "echo", nil)

	ctx := doRequest(s, fasthttp.MethodGet, "/status")
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status = %d, want 200", ctx.Response.StatusCode())
	}
	if !containsAll(string(ctx.Response.Body()), "echo") {
		t.Fatalf("status body missing module name: %q", ctx.Response.Body())
	}
}

func TestServicesStatusReturnsJSON(t *testing.T) {
	s := newTestQueryServer(t, "node0", "echo", nil)

	ctx := doRequest(s, fasthttp.MethodGet, "/services/status")
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status = %d, want 200", ctx.Response.StatusCode())
	}
	if !containsAll(string(ctx.Response.Body()), `"node0"`, `"echo"`) {
		t.Fatalf("services body missing fields: %q", ctx.Response.Body())
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !contains(s, sub) {
			return false
		}
	}
	return true
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
