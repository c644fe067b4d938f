package capture

import "github.com/como-project/como/pkt"

// Sniffer is the external collaborator spec.md §6 describes:
// start(src) -> fd, next(src, out[], max) -> count, stop(src). Specific
// backends (libpcap/BPF/hardware rings) are explicitly out of scope
// (spec.md §1); CAPTURE only ever depends on this interface, resolved
// from the `-s sniffer,dev[,args]` flag by code outside the core.
type Sniffer interface {
	// Start opens the packet source named by src (the part after the
	// sniffer name in "-s sniffer,dev[,args]") and returns a descriptor
	// CAPTURE's event loop can select on alongside its IPC peers.
	Start(src string) (fd int, err error)
	// Next fills out with up to max packets already available on the
	// source, without blocking past what Start's fd indicates is ready.
	// Returned packets must carry a monotonically non-decreasing
	// timestamp and fully populated layer offsets (spec.md §6).
	Next(out []pkt.Packet, max int) (count int, err error)
	// Stop releases the source.
	Stop() error
}
