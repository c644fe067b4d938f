package module

import (
	"github.com/OneOfOne/xxhash"

	"github.com/como-project/como/pkt"
)

// DefaultHash gives modules that don't need a custom fingerprint a
// ready-made `hash` callback (spec.md §4.1), built on OneOfOne/xxhash —
// already a direct dependency of the teacher's own go.mod. It satisfies
// match(p,q) ⇒ hash(p)==hash(q) by construction whenever the module's
// `match` reduces to "same key bytes", since equal inputs to keyFn
// always hash identically.
func DefaultHash(keyFn func(p *pkt.Packet) []byte) func(p *pkt.Packet) uint32 {
	return func(p *pkt.Packet) uint32 {
		return uint32(xxhash.Checksum64(keyFn(p)))
	}
}
