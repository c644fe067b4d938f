// Package supervisor implements the SUPERVISOR process from spec.md
// §4.6: process lifecycle, config diff/apply with the Freeze/Ack
// round-trip, and the resource scheduler's election/re-enable loop.
//
// Grounded on _examples/original_source/src/trunk/base/supervisor.c
// and supervisor-client.c for the startup/SIGHUP sequence, and on the
// teacher's own xact/xreg registry + errgroup-based Go/Wait pattern
// (_examples/ghjramos-aistore/xact/xs/tcb.go, xreg) for "own a set of
// long-running components, fan them out, wait for them together."
/*
 * Copyright (c) 2024, CoMo Project. All rights reserved.
 */
package supervisor

import (
	"math/rand"
	"sync"
	"time"

	"github.com/como-project/como/cmn"
)

// Tick is the resource scheduler's cadence (spec.md §4.6: "runs every
// ~50 ms").
const Tick = 50 * time.Millisecond

const (
	upperThreshold = 1.0
	lowerThreshold = 0.5
	quietTicks     = 20 // consecutive below-lower-threshold ticks before a re-enable attempt
	lowPassDelta   = 0.02
)

// ModuleState is a tracked module's scheduler-visible state.
type ModuleState struct {
	Name     string
	Priority int
	Disabled bool

	peak float64 // low-pass peak usage, spec.md §4.6's p_i
}

// Resource is one tracked quantity (global shared-memory usage, or one
// module's EXPORT memory) the scheduler watches, spec.md §4.6: "Tracked
// resources: shared-memory usage (global), per-module EXPORT memory."
type Resource struct {
	Name          string
	UsageFraction func() float64 // usage_i / upper_threshold input, already normalized to [0, +inf)
	Limiting      *ModuleState   // nil for the global resource; the module this resource belongs to otherwise
}

// Scheduler runs the election/re-enable loop spec.md §4.6 describes.
// K is the "(K-1)·p_limiting" weight given to a module's own limiting
// resource on top of the sum over all resources.
type Scheduler struct {
	mu sync.Mutex

	modules   map[string]*ModuleState
	resources []Resource
	K         float64

	belowLowerStreak int
	onDisable        func(name string)
	onEnable         func(name string)
}

func NewScheduler(k float64) *Scheduler {
	if k < 1 {
		k = 2
	}
	return &Scheduler{modules: make(map[string]*ModuleState), K: k}
}

func (s *Scheduler) AddModule(name string, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[name] = &ModuleState{Name: name, Priority: priority}
}

func (s *Scheduler) RemoveModule(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.modules, name)
}

// SetResources replaces the resource set the scheduler watches. Every
// Tick calls each Resource's UsageFraction again, so a set installed
// once keeps sampling current usage.
func (s *Scheduler) SetResources(resources []Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources = resources
}

// OnDisable/OnEnable register observers for the scheduler's decisions —
// spec.md §4.6: "Resource-management decisions are observable."
func (s *Scheduler) OnDisable(f func(name string)) { s.onDisable = f }
func (s *Scheduler) OnEnable(f func(name string))   { s.onEnable = f }

// Tick runs one scheduler iteration: update every resource's low-pass
// peak, elect-and-disable if any resource's peak exceeds the upper
// threshold, else track the quiet streak for a random re-enable.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	overLimit := false
	allBelowLower := true

	for i := range s.resources {
		r := &s.resources[i]
		usage := r.UsageFraction()
		target := r.Limiting
		if target == nil {
			// Global resource: charge every active module's low-pass peak
			// equally, since spec.md ties election to "priority ×
			// (sum of p_i + (K-1)*p_limiting)" across all modules.
			for _, m := range s.modules {
				if m.Disabled {
					continue
				}
				m.peak = lowPass(m.peak, usage)
			}
		} else {
			target.peak = lowPass(target.peak, usage)
		}
		if usage > upperThreshold {
			overLimit = true
		}
		if usage >= lowerThreshold {
			allBelowLower = false
		}
	}

	if overLimit {
		s.electAndDisableLocked()
		s.belowLowerStreak = 0
		return
	}

	if allBelowLower {
		s.belowLowerStreak++
		if s.belowLowerStreak >= quietTicks {
			s.reenableRandomLocked()
			s.belowLowerStreak = 0
		}
	} else {
		s.belowLowerStreak = 0
	}
}

// electAndDisableLocked picks the module maximizing
// priority * (sum_i p_i + (K-1)*p_limiting) among active modules and
// disables it. s.mu must be held.
func (s *Scheduler) electAndDisableLocked() {
	sumPeak := 0.0
	for _, m := range s.modules {
		if !m.Disabled {
			sumPeak += m.peak
		}
	}

	var chosen *ModuleState
	bestScore := -1.0
	for _, m := range s.modules {
		if m.Disabled {
			continue
		}
		score := float64(m.Priority) * (sumPeak + (s.K-1)*m.peak)
		if score > bestScore {
			bestScore = score
			chosen = m
		}
	}
	if chosen == nil {
		return
	}
	chosen.Disabled = true
	cmn.Infof("resource scheduler: disabling module %s (priority=%d score=%.3f)", chosen.Name, chosen.Priority, bestScore)
	if s.onDisable != nil {
		s.onDisable(chosen.Name)
	}
}

func (s *Scheduler) reenableRandomLocked() {
	var disabled []*ModuleState
	for _, m := range s.modules {
		if m.Disabled {
			disabled = append(disabled, m)
		}
	}
	if len(disabled) == 0 {
		return
	}
	chosen := disabled[rand.Intn(len(disabled))]
	chosen.Disabled = false
	chosen.peak = 0
	cmn.Infof("resource scheduler: re-enabling module %s", chosen.Name)
	if s.onEnable != nil {
		s.onEnable(chosen.Name)
	}
}

// lowPass applies spec.md §4.6's p_i <- max(p_i - delta, usage).
func lowPass(prev, usage float64) float64 {
	decayed := prev - lowPassDelta
	if usage > decayed {
		return usage
	}
	return decayed
}

// IsDisabled reports a module's current scheduler state, for tests and
// for SUPERVISOR's status broadcast.
func (s *Scheduler) IsDisabled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[name]
	return ok && m.Disabled
}
