package module

import (
	"sync"

	"github.com/como-project/como/cmn"
)

// Builder produces the four possible per-role op-sets for one module
// kind. A real module package (modules/tuple, modules/protocol, or a
// third-party module loaded from libdir) registers one Builder; SUPERVISOR
// calls the role-appropriate method when activating that module in a
// given process, mirroring the factory/Renewable split the teacher uses
// to turn one xaction "kind" into a per-invocation *XactTCB
// (ghjramos-aistore/xact/xs/tcb.go's tcbFactory.New/Start).
type Builder interface {
	Def() *ModuleDef
	BuildSupervisor() *SupervisorOps
	BuildCapture() *CaptureOps
	BuildExport() *ExportOps
	BuildQuery() *QueryOps
}

// Registry is the process-wide "name -> Builder" table SUPERVISOR
// broadcasts ModuleAdd against and CAPTURE/EXPORT/QUERY use to
// instantiate their local Module for a newly attached module. It
// replaces the original's global `map` of loaded .so handles (spec.md
// §9: "process-wide globals... replace with an explicit context").
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

func NewRegistry() *Registry { return &Registry{builders: make(map[string]Builder)} }

func (r *Registry) Add(b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[b.Def().Name] = b
}

func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.builders, name)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for n := range r.builders {
		names = append(names, n)
	}
	return names
}

// Build instantiates a *Module in role for the named module. Returns a
// Malformed "not registered" error if the name is unknown.
func (r *Registry) Build(name string, role Role) (*Module, error) {
	r.mu.RLock()
	b, ok := r.builders[name]
	r.mu.RUnlock()
	if !ok {
		return nil, cmn.Errorf(cmn.KindMalformed, "module %q not registered", name)
	}

	m := &Module{Def: b.Def(), Role: role}
	switch role {
	case RoleSupervisor:
		m.Supervisor = b.BuildSupervisor()
	case RoleCapture:
		m.Capture = b.BuildCapture()
	case RoleExport:
		m.Export = b.BuildExport()
	case RoleQuery:
		m.Query = b.BuildQuery()
	default:
		return nil, cmn.Errorf(cmn.KindMalformed, "unknown role %d", role)
	}
	return m, nil
}
