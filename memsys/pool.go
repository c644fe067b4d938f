// Package memsys implements the shared-memory pool allocator described
// in spec.md §4.4: a single process-wide arena split into power-of-two
// blocks, a free list per size class plus a non-empty bitmap, splitting
// on allocation and bulk (non-buddy-merging) coalescing on memmap close.
//
// Grounded on _examples/original_source/src/branches/2.0/libcomo/pool.c
// and libcomo/shmem.c for the allocator shape, and on the teacher's own
// memsys usage (cluster.T.PageMM().GetSlab(...) in
// _examples/ghjramos-aistore/xact/xs/tcb.go) for "a slab pool handed to
// a long-running task and bulk-freed on completion" as the idiomatic Go
// analogue of mdl-private memmaps.
/*
 * Copyright (c) 2024, CoMo Project. All rights reserved.
 */
package memsys

import (
	"encoding/binary"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/como-project/como/cmn"
)

const (
	MinOrder = 5  // smallest block: 2^5  = 32 bytes
	MaxOrder = 30 // largest block:  2^30 = 1 GiB

	numOrders  = MaxOrder - MinOrder + 1
	headerSize = 16 // 2 words: magic(8) + order(8)

	inUseMagic uint64 = 0xC0C0FEEDC0C0FEED
	freeMagic  uint64 = 0xF4EEF4EEF4EEF4EE
)

// Ptr is a handle into a Pool's backing arena — an integer offset, not a
// language pointer, per the "re-express pointer-heavy structures as
// owned collections indexed by a handle" guidance in spec.md §9. A Ptr
// is only meaningful relative to the Pool that produced it.
type Ptr uint64

const NilPtr Ptr = ^Ptr(0)

// Pool is the process-wide shared-memory arena. Mutation discipline is
// the one spec.md §5 describes: "at most one process between Freeze and
// Ack"; Pool itself holds no internal lock, the same no-locks-by-design
// stance the original takes ("there are no locks").
type Pool struct {
	backing   []byte
	freeHead  [numOrders]Ptr // singly-linked free list per order, NilPtr-terminated
	bitmap    uint64         // bit i set iff freeHead[i] != NilPtr (numOrders <= 26)
	file      *os.File       // non-nil when backed by a shared mmap file
	totalSize int64
	peak      int64 // high-water mark of bytes handed out, for resource-scheduler feedback
	inUse     int64

	mu sync.Mutex // guards the Go-level bookkeeping above during concurrent test use;
	// production capture/export/storage each run single-threaded per
	// spec.md §5, so this is never contended in the real event loop.
}

// NewPrivate creates a pool backed by a plain process-local byte slice —
// used by unit tests and by any one-process deployment that never needs
// cross-process shared tuples.
func NewPrivate(size int64) *Pool {
	p := &Pool{backing: make([]byte, size), totalSize: size}
	p.seed()
	return p
}

// NewShared creates (or attaches to, if it already exists at the right
// size) a POSIX-shared mmap file at path, usable as the pool backing by
// every CoMo process that mmaps the same path MAP_SHARED. This is the
// cross-process analogue of libcomo/shmem.c's System V segment, done
// with a plain file + mmap so CAPTURE/EXPORT/STORAGE (separate exec'd
// processes, not fork children) can all attach to it.
func NewShared(path string, size int64) (*Pool, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, cmn.Wrap(cmn.KindIO, err, "open shared pool file")
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, cmn.Wrap(cmn.KindIO, err, "size shared pool file")
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, cmn.Wrap(cmn.KindIO, err, "mmap shared pool file")
	}
	pool := &Pool{backing: data, file: f, totalSize: size}
	// A freshly created shared file reads as all zero; a zero magic
	// never matches inUseMagic/freeMagic, so seeding is idempotent to
	// run whenever a process attaches — harmless if another process
	// already seeded, since we only seed an arena with nothing carved
	// from it yet (bitmap stays zero until seed() or a peer's seed()
	// runs first and this process simply attaches without re-seeding).
	if isZero(data) {
		pool.seed()
	}
	return pool, nil
}

func isZero(b []byte) bool {
	const probe = 64
	n := probe
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if b[i] != 0 {
			return false
		}
	}
	return true
}

// seed carves the whole backing arena into free blocks, largest order
// first, and threads them onto the appropriate free lists — the
// allocator's initial state before any Alloc/Free call.
func (p *Pool) seed() {
	var off int64
	for off < p.totalSize {
		remaining := p.totalSize - off
		order := MaxOrder
		for order > MinOrder && (int64(1)<<uint(order)) > remaining {
			order--
		}
		sz := int64(1) << uint(order)
		if sz > remaining {
			break // leftover smaller than the minimum block: wasted, same as the original allocator
		}
		blk := Ptr(off)
		p.writeHeader(blk, freeMagic, order)
		p.pushFree(order-MinOrder, blk)
		off += sz
	}
}

// Close unmaps a shared pool. Private pools are plain garbage.
func (p *Pool) Close() error {
	if p.file == nil {
		return nil
	}
	err := unix.Munmap(p.backing)
	p.file.Close()
	return err
}

func orderFor(n int) int {
	need := n + headerSize
	order := MinOrder
	sz := 1 << MinOrder
	for sz < need {
		sz <<= 1
		order++
	}
	return order
}

// Alloc rounds n up to the smallest 2^k block that fits header+payload
// and returns a handle to the payload. Satisfies the testable property
// in spec.md §8: block.size == smallest_power_of_two >= n + header.
func (p *Pool) Alloc(n int) (Ptr, error) {
	if n < 0 {
		return NilPtr, cmn.Errorf(cmn.KindMalformed, "negative alloc size %d", n)
	}
	order := orderFor(n)
	if order > MaxOrder {
		return NilPtr, cmn.Errorf(cmn.KindOverload, "requested size %d exceeds max block 2^%d", n, MaxOrder)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	j := p.smallestNonEmptyAtLeast(order - MinOrder)
	if j < 0 {
		return NilPtr, cmn.Errorf(cmn.KindOverload, "pool exhausted for order %d", order)
	}
	blk := p.popFree(j)
	curOrder := j + MinOrder

	// Split repeatedly, pushing the right half back at each level until
	// the remaining block matches the requested order.
	for curOrder > order {
		curOrder--
		half := int64(1) << uint(curOrder)
		right := blk + Ptr(half)
		p.writeHeader(right, freeMagic, curOrder)
		p.pushFree(curOrder-MinOrder, right)
	}

	p.writeHeader(blk, inUseMagic, order)
	p.inUse += int64(1) << uint(order)
	if p.inUse > p.peak {
		p.peak = p.inUse
	}
	return blk + headerSize, nil
}

// Free verifies ptr's block lies within the pool and carries the in-use
// magic, then pushes it back onto its size-class free list. Per spec.md
// §8: free(alloc(s)) leaves pool usage unchanged and peak non-decreasing
// (peak is a high-water mark, so Free alone never moves it).
func (p *Pool) Free(ptr Ptr) error {
	if ptr == NilPtr {
		return nil
	}
	blk := ptr - headerSize

	p.mu.Lock()
	defer p.mu.Unlock()

	if int64(blk) < 0 || int64(blk)+headerSize > p.totalSize {
		return cmn.Errorf(cmn.KindFatal, "pool corruption: free() ptr %d out of bounds", ptr)
	}
	magic, order := p.readHeader(blk)
	if magic != inUseMagic {
		return cmn.Errorf(cmn.KindFatal, "pool corruption: free() on block with bad magic %x", magic)
	}
	p.writeHeader(blk, freeMagic, order)
	p.pushFree(order-MinOrder, blk)
	p.inUse -= int64(1) << uint(order)
	return nil
}

// Bytes returns the payload slice for ptr, bounded by its block's size
// minus the header — never the whole underlying arena, so a module
// cannot walk off the end of its own allocation by accident.
func (p *Pool) Bytes(ptr Ptr) []byte {
	blk := ptr - headerSize
	_, order := p.readHeader(blk)
	sz := (int64(1) << uint(order)) - headerSize
	return p.backing[ptr : int64(ptr)+sz]
}

// UsageStats feeds the resource scheduler's low-pass peak-usage formula
// (spec.md §4.6).
func (p *Pool) UsageStats() (inUse, peak, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse, p.peak, p.totalSize
}

func (p *Pool) smallestNonEmptyAtLeast(minIdx int) int {
	mask := p.bitmap &^ ((uint64(1) << uint(minIdx)) - 1)
	if mask == 0 {
		return -1
	}
	return trailingZeros64(mask)
}

func (p *Pool) popFree(idx int) Ptr {
	head := p.freeHead[idx]
	next := p.readNext(head)
	p.freeHead[idx] = next
	if next == NilPtr {
		p.bitmap &^= uint64(1) << uint(idx)
	}
	return head
}

func (p *Pool) pushFree(idx int, blk Ptr) {
	p.writeNext(blk, p.freeHead[idx])
	p.freeHead[idx] = blk
	p.bitmap |= uint64(1) << uint(idx)
}

// Free-list linkage reuses the payload area of a free block (it carries
// no data while free) to store the "next" handle — the intrusive-list
// idiom spec.md §9 asks us to re-express as indices rather than
// language pointers; here the index just happens to live inside the
// block it chains.
func (p *Pool) writeNext(blk Ptr, next Ptr) {
	binary.BigEndian.PutUint64(p.backing[blk+headerSize:], uint64(next))
}

func (p *Pool) readNext(blk Ptr) Ptr {
	if blk == NilPtr {
		return NilPtr
	}
	return Ptr(binary.BigEndian.Uint64(p.backing[blk+headerSize:]))
}

func (p *Pool) writeHeader(blk Ptr, magic uint64, order int) {
	binary.BigEndian.PutUint64(p.backing[blk:], magic)
	binary.BigEndian.PutUint64(p.backing[blk+8:], uint64(order))
}

func (p *Pool) readHeader(blk Ptr) (magic uint64, order int) {
	magic = binary.BigEndian.Uint64(p.backing[blk:])
	order = int(binary.BigEndian.Uint64(p.backing[blk+8:]))
	return
}

func trailingZeros64(x uint64) int {
	if x == 0 {
		return 64
	}
	n := 0
	for x&1 == 0 {
		n++
		x >>= 1
	}
	return n
}
