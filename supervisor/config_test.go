package supervisor

import (
	"testing"

	"github.com/como-project/como/ipc"
	"github.com/como-project/como/module"
)

func TestDiffIdentifiesAddedAndRemoved(t *testing.T) {
	active := []ModuleSpec{{Name: "A", Node: "n1"}, {Name: "B", Node: "n1"}}
	next := []ModuleSpec{{Name: "B", Node: "n1"}, {Name: "C", Node: "n1"}}

	removed, added := Diff(active, next)
	if len(removed) != 1 || removed[0].Name != "A" {
		t.Fatalf("expected A removed, got %+v", removed)
	}
	if len(added) != 1 || added[0].Name != "C" {
		t.Fatalf("expected C added, got %+v", added)
	}
}

type fakeBuilder struct {
	initCalls int
}

func (f *fakeBuilder) Def() *module.ModuleDef { return &module.ModuleDef{Name: "C"} }
func (f *fakeBuilder) Build(name string, role module.Role) (*module.Module, error) {
	f.initCalls++
	return &module.Module{
		Def:  &module.ModuleDef{Name: name},
		Role: module.RoleSupervisor,
		Supervisor: &module.SupervisorOps{
			Init: func(args map[string]string) (module.Serializable, error) { return nil, nil },
		},
	}, nil
}

type fakePeerSet struct {
	froze    bool
	sent     []ipc.MsgType
	sentKind []ipc.PeerClass
}

func (f *fakePeerSet) CaptureFreeze() error { f.froze = true; return nil }
func (f *fakePeerSet) Send(class ipc.PeerClass, frame *ipc.Frame) error {
	f.sent = append(f.sent, frame.Type)
	f.sentKind = append(f.sentKind, class)
	return nil
}

// TestApplyRemovesBeforeAdding exercises spec.md §8 scenario 5: the
// Freeze round-trip happens, the added module is built exactly once, and
// the first ModuleDel for the removed module is sent before the first
// ModuleAdd for the added one.
func TestApplyRemovesBeforeAdding(t *testing.T) {
	reg := &fakeBuilder{}
	peers := &fakePeerSet{}

	removed := []ModuleSpec{{Name: "A", Node: "n1"}}
	added := []ModuleSpec{{Name: "C", Node: "n1"}}

	errs := Apply(reg, peers, removed, added)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if !peers.froze {
		t.Fatal("expected CAPTURE to be frozen before removing A")
	}
	if reg.initCalls != 1 {
		t.Fatalf("expected exactly one init call for C, got %d", reg.initCalls)
	}

	var sawDel, sawAdd bool
	var delIdx, addIdx int
	for i, typ := range peers.sent {
		if typ == ipc.MsgModuleDel && !sawDel {
			sawDel, delIdx = true, i
		}
		if typ == ipc.MsgModuleAdd && !sawAdd {
			sawAdd, addIdx = true, i
		}
	}
	if !sawDel || !sawAdd {
		t.Fatalf("expected both ModuleDel and ModuleAdd to be sent, got %v", peers.sent)
	}
	if delIdx > addIdx {
		t.Fatalf("expected ModuleDel(A) to precede ModuleAdd(C), got order %v", peers.sent)
	}
}
