package supervisor

import "testing"

// TestResourceSchedulerElectsHigherPriorityScore exercises spec.md §8
// scenario 6: module A (priority 1) drives shared-memory usage above
// the upper threshold; module B (priority 5) scores higher under the
// priority-weighted formula and gets disabled instead of A, even though
// A is the one actually driving the pressure.
func TestResourceSchedulerElectsHigherPriorityScore(t *testing.T) {
	s := NewScheduler(2)
	s.AddModule("A", 1)
	s.AddModule("B", 5)

	var disabled string
	s.OnDisable(func(name string) { disabled = name })

	// Drive both modules' peaks up via the global resource so B's
	// priority dominates the election score, then push the global
	// resource over the upper threshold.
	usage := 0.0
	s.SetResources([]Resource{{Name: "shm", UsageFraction: func() float64 { return usage }}})

	for i := 0; i < 5; i++ {
		usage = 0.6
		s.Tick()
	}
	usage = 1.2
	s.Tick()

	if disabled != "B" {
		t.Fatalf("expected higher-priority module B to be disabled, got %q", disabled)
	}
	if !s.IsDisabled("B") {
		t.Fatal("expected B to be marked disabled")
	}
	if s.IsDisabled("A") {
		t.Fatal("expected A to remain enabled")
	}
}

func TestResourceSchedulerReenablesAfterQuietStreak(t *testing.T) {
	s := NewScheduler(2)
	s.AddModule("A", 1)

	usage := 1.5
	s.SetResources([]Resource{{Name: "shm", UsageFraction: func() float64 { return usage }}})
	s.Tick() // disables A (only module)

	if !s.IsDisabled("A") {
		t.Fatal("expected A disabled after over-threshold tick")
	}

	var enabled string
	s.OnEnable(func(name string) { enabled = name })

	usage = 0.0
	for i := 0; i < quietTicks; i++ {
		s.Tick()
	}
	if enabled != "A" {
		t.Fatalf("expected A re-enabled after %d quiet ticks, got %q", quietTicks, enabled)
	}
	if s.IsDisabled("A") {
		t.Fatal("expected A marked enabled again")
	}
}
