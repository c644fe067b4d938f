package module

import "testing"

func TestAsCaptureRejectsWrongRole(t *testing.T) {
	m := &Module{Role: RoleExport, Export: &ExportOps{}}
	if _, err := m.AsCapture(); err == nil {
		t.Fatal("expected RoleMismatch error for Export-role module")
	}
}

func TestAsCaptureAcceptsRightRole(t *testing.T) {
	ops := &CaptureOps{TableSize: 1024}
	m := &Module{Role: RoleCapture, Capture: ops}
	got, err := m.AsCapture()
	if err != nil {
		t.Fatal(err)
	}
	if got != ops {
		t.Fatal("AsCapture returned a different CaptureOps")
	}
}

type fakeBuilder struct{ def *ModuleDef }

func (f *fakeBuilder) Def() *ModuleDef                { return f.def }
func (f *fakeBuilder) BuildSupervisor() *SupervisorOps { return &SupervisorOps{} }
func (f *fakeBuilder) BuildCapture() *CaptureOps       { return &CaptureOps{TableSize: 64} }
func (f *fakeBuilder) BuildExport() *ExportOps         { return &ExportOps{} }
func (f *fakeBuilder) BuildQuery() *QueryOps           { return &QueryOps{} }

func TestRegistryBuildRoundTrip(t *testing.T) {
	reg := NewRegistry()
	reg.Add(&fakeBuilder{def: &ModuleDef{Name: "tuple"}})

	m, err := reg.Build("tuple", RoleCapture)
	if err != nil {
		t.Fatal(err)
	}
	if m.Capture == nil || m.Capture.TableSize != 64 {
		t.Fatalf("unexpected capture ops: %+v", m.Capture)
	}

	if _, err := reg.Build("missing", RoleCapture); err == nil {
		t.Fatal("expected error for unregistered module")
	}
}
