package supervisor

import (
	"github.com/como-project/como/cmn"
	"github.com/como-project/como/ipc"
	"github.com/como-project/como/module"
)

// ModuleSpec is one entry in a parsed config: enough to identify and
// activate a module, keyed by (Name, Node) identity per spec.md §4.6.
type ModuleSpec struct {
	Name string
	Node string
	Args map[string]string
}

func (s ModuleSpec) key() string { return s.Node + "/" + s.Name }

// Diff computes, from the active set and a freshly parsed shadow config,
// the modules to remove and the modules to add — identity is (name,
// node), per spec.md §4.6's SIGHUP handling.
func Diff(active, next []ModuleSpec) (removed, added []ModuleSpec) {
	activeByKey := make(map[string]ModuleSpec, len(active))
	for _, m := range active {
		activeByKey[m.key()] = m
	}
	nextByKey := make(map[string]ModuleSpec, len(next))
	for _, m := range next {
		nextByKey[m.key()] = m
	}

	for k, m := range activeByKey {
		if _, ok := nextByKey[k]; !ok {
			removed = append(removed, m)
		}
	}
	for k, m := range nextByKey {
		if _, ok := activeByKey[k]; !ok {
			added = append(added, m)
		}
	}
	return removed, added
}

// PeerSet is the broadcast target for module lifecycle messages — the
// subset of attached peers SUPERVISOR talks to (CAPTURE, EXPORT,
// STORAGE), addressed uniformly so Apply doesn't special-case any one
// process's role.
type PeerSet interface {
	Send(class ipc.PeerClass, f *ipc.Frame) error
	CaptureFreeze() error // blocking Freeze/Ack round-trip with CAPTURE
}

// Registry resolves a module name to a Builder for activation — reused
// directly from the module package rather than SUPERVISOR keeping its
// own copy of the same lookup.
type Registry interface {
	Build(name string, role module.Role) (*module.Module, error)
}

// Apply implements spec.md §4.6's config-reload sequence: Freeze CAPTURE
// once, then send ModuleDel for each removed module to CAPTURE, EXPORT
// and STORAGE; for each added module, activate + init, then broadcast
// ModuleAdd. A
// failed activation or init removes that module and does not roll back
// peers already notified for other modules in the same reload, per
// spec.md's explicit "does not roll back peers."
func Apply(reg Registry, peers PeerSet, removed, added []ModuleSpec) []error {
	var errs []error

	if len(removed) > 0 {
		if err := peers.CaptureFreeze(); err != nil {
			return append(errs, cmn.Wrap(cmn.KindIO, err, "freeze capture for module removal"))
		}
		for _, m := range removed {
			if err := peers.Send(ipc.ClassCapture, moduleDelFrame(m)); err != nil {
				errs = append(errs, err)
			}
			if err := peers.Send(ipc.ClassExport, moduleDelFrame(m)); err != nil {
				errs = append(errs, err)
			}
			if err := peers.Send(ipc.ClassStorage, moduleDelFrame(m)); err != nil {
				errs = append(errs, err)
			}
		}
	}

	for _, m := range added {
		mod, err := reg.Build(m.Name, module.RoleSupervisor)
		if err != nil {
			errs = append(errs, cmn.Wrap(cmn.KindMalformed, err, "activate module "+m.Name))
			continue
		}
		ops, err := mod.AsSupervisor()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := ops.Init(m.Args); err != nil {
			errs = append(errs, cmn.Wrap(cmn.KindIO, err, "init module "+m.Name))
			continue
		}
		if err := peers.Send(ipc.ClassCapture, moduleAddFrame(m)); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := peers.Send(ipc.ClassExport, moduleAddFrame(m)); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := peers.Send(ipc.ClassStorage, moduleAddFrame(m)); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}

func moduleAddFrame(m ModuleSpec) *ipc.Frame {
	return &ipc.Frame{Type: ipc.MsgModuleAdd, Data: []byte(m.Name)}
}

func moduleDelFrame(m ModuleSpec) *ipc.Frame {
	return &ipc.Frame{Type: ipc.MsgModuleDel, Data: []byte(m.Name)}
}
