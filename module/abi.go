package module

import (
	"time"

	"github.com/como-project/como/cmn"
	"github.com/como-project/como/pkt"
)

// Role is the tagged union spec.md §9 asks for in place of "module is a
// different struct in each process": one Module, one Role, and only the
// variant matching that role is populated.
type Role int

const (
	RoleSupervisor Role = iota
	RoleCapture
	RoleExport
	RoleQuery
)

func (r Role) String() string {
	switch r {
	case RoleSupervisor:
		return "supervisor"
	case RoleCapture:
		return "capture"
	case RoleExport:
		return "export"
	case RoleQuery:
		return "query"
	default:
		return "unknown"
	}
}

// ModuleDef is the static configuration from spec.md §3: name, output
// name, aggregation filter expression, stream size limit, flush
// interval, priority and the arguments map. Per-packet/tuple/record/
// config *types* are not named here the way the C original names them
// by string — they are simply the concrete Serializable types a
// Factory below produces; Go's type system makes the string-typed
// indirection unnecessary.
type ModuleDef struct {
	Name       string
	Output     string
	Filter     string // external grammar (spec.md §1 Non-goals); opaque here
	StreamSize int64
	FlushIvl   time.Duration
	Priority   int
	Args       map[string]string

	NewTuple  Factory // per-packet aggregation cell
	NewETuple Factory // export-stage aggregation cell
	NewRecord Factory // durable record payload
	NewConfig Factory // init() output
}

// ActionFlags is the bitmask spec.md §4.1 says `action` returns: any OR
// of {STORE, DISCARD, STOP, GO}.
type ActionFlags uint8

const (
	ActionStore ActionFlags = 1 << iota
	ActionDiscard
	ActionStop
	ActionGo
)

// IvlState is the per-window scratch `flush` produces, threaded back
// into every `update` call for packets in that window.
type IvlState struct {
	Start, End time.Duration
	Scratch    interface{}
}

// CaptureOps is the CAPTURE-role operation set.
type CaptureOps struct {
	Check  func(p *pkt.Packet) bool
	Hash   func(p *pkt.Packet) uint32
	Match  func(p *pkt.Packet, tuple Serializable) bool
	Update func(p *pkt.Packet, tuple Serializable, isNew bool) error
	Flush  func(windowStart time.Duration) (*IvlState, error)

	TableSize int // flow-table bucket count
}

// ExportOps is the EXPORT-role operation set.
type ExportOps struct {
	EMatch  func(etuple, tuple Serializable) bool
	Export  func(etuple, tuple Serializable, isNew bool) error
	Compare func(a, b Serializable) int
	Action  func(etuple Serializable, windowTS time.Duration, rank int) ActionFlags
	Store   func(etuple Serializable) ([]byte, error)
}

// QueryOps is the QUERY-role operation set. Print carries explicit state
// across calls (a *interface{} the caller owns) instead of hiding
// mutable state inside the module, per idiomatic Go's preference for
// explicit over implicit state threading.
type QueryOps struct {
	Load    func(data []byte) (size int, ts int64, err error)
	Print   func(record []byte, format string, args map[string]string, state *interface{}) ([]byte, error)
	Replay  func(record []byte) ([]pkt.Packet, error)
	Formats []string
}

// SupervisorOps is the SUPERVISOR-role operation set: `init` only.
type SupervisorOps struct {
	Init func(args map[string]string) (Serializable, error)
}

// Module is the single runtime type spec.md §9 asks for in place of a
// dual/triple-role struct: one ModuleDef, one Role, and exactly one of
// the four op-set fields populated.
type Module struct {
	Def  *ModuleDef
	Role Role

	Capture    *CaptureOps
	Export     *ExportOps
	Query      *QueryOps
	Supervisor *SupervisorOps
}

var errRoleMismatch = cmn.Errorf(cmn.KindMalformed, "module: operation invoked against wrong role")

// AsCapture returns the module's CaptureOps, or RoleMismatch if this
// Module instance was built for a different role.
func (m *Module) AsCapture() (*CaptureOps, error) {
	if m.Role != RoleCapture || m.Capture == nil {
		return nil, errRoleMismatch
	}
	return m.Capture, nil
}

func (m *Module) AsExport() (*ExportOps, error) {
	if m.Role != RoleExport || m.Export == nil {
		return nil, errRoleMismatch
	}
	return m.Export, nil
}

func (m *Module) AsQuery() (*QueryOps, error) {
	if m.Role != RoleQuery || m.Query == nil {
		return nil, errRoleMismatch
	}
	return m.Query, nil
}

func (m *Module) AsSupervisor() (*SupervisorOps, error) {
	if m.Role != RoleSupervisor || m.Supervisor == nil {
		return nil, errRoleMismatch
	}
	return m.Supervisor, nil
}
