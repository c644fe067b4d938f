package supervisor

import (
	"github.com/lufia/iostat"

	"github.com/como-project/como/cmn"
)

// DiskResource builds the third tracked resource SPEC_FULL.md's "Extra
// tracked resource: disk I/O" section adds on top of spec.md §4.6's
// shared-memory and per-module EXPORT memory: the bytes written per tick,
// summed over every drive lufia/iostat reports, normalized against a
// configured ceiling so it folds into the same UsageFraction contract
// every other Resource uses.
//
// limiting, when non-nil, charges the reading to that module's low-pass
// peak; when nil (as cmd/comosupervisor passes it) the reading is charged
// to every active module's, like the global resource.
func DiskResource(name string, limiting *ModuleState, maxBytesPerTick uint64) Resource {
	var lastWritten uint64
	haveSample := false

	return Resource{
		Name:     name,
		Limiting: limiting,
		UsageFraction: func() float64 {
			drives, err := iostat.ReadDriveStats()
			if err != nil {
				cmn.Warnf("scheduler: iostat sample failed: %v", err)
				return 0
			}
			var written uint64
			for _, d := range drives {
				written += d.BytesWritten
			}
			if !haveSample {
				lastWritten = written
				haveSample = true
				return 0
			}
			delta := written - lastWritten
			lastWritten = written
			if maxBytesPerTick == 0 {
				return 0
			}
			return float64(delta) / float64(maxBytesPerTick)
		},
	}
}
