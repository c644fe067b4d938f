package memsys

import "github.com/como-project/como/cmn"

// Kind distinguishes the three memmap roles from spec.md §4.4.
type Kind int

const (
	KindCaptureArena Kind = iota // per-window tuples, cleared on flush
	KindExportArena              // sort+action scratch, cleared on table release
	KindPersistent                // survives windows, freed only on module remove
)

// MemMap is a per-module, per-process bag of blocks borrowed from a
// Pool. It never reallocates: once a block is returned to the pool via
// Close/Release, the MemMap forgets it.
type MemMap struct {
	pool  *Pool
	kind  Kind
	owner string // module name, for error messages and leak accounting
	blocks []Ptr
}

func NewMemMap(pool *Pool, kind Kind, owner string) *MemMap {
	return &MemMap{pool: pool, kind: kind, owner: owner}
}

func (m *MemMap) Kind() Kind { return m.kind }

// Alloc borrows a block from the pool and remembers it as belonging to
// this map, so a later Release/Close can bulk-return it.
func (m *MemMap) Alloc(n int) (Ptr, error) {
	ptr, err := m.pool.Alloc(n)
	if err != nil {
		return NilPtr, err
	}
	m.blocks = append(m.blocks, ptr)
	return ptr, nil
}

func (m *MemMap) Bytes(ptr Ptr) []byte { return m.pool.Bytes(ptr) }

// Free returns a single block early. Per spec.md §4.4, freeing a
// pointer outside its owning map is undefined; we at least catch
// "not in this map" when debug checks are enabled.
func (m *MemMap) Free(ptr Ptr) error {
	if cmn.DebugEnabled() && !m.owns(ptr) {
		return cmn.Errorf(cmn.KindFatal, "memmap %s: free of pointer not owned by this map", m.owner)
	}
	m.remove(ptr)
	return m.pool.Free(ptr)
}

func (m *MemMap) owns(ptr Ptr) bool {
	for _, b := range m.blocks {
		if b == ptr {
			return true
		}
	}
	return false
}

func (m *MemMap) remove(ptr Ptr) {
	for i, b := range m.blocks {
		if b == ptr {
			m.blocks[i] = m.blocks[len(m.blocks)-1]
			m.blocks = m.blocks[:len(m.blocks)-1]
			return
		}
	}
}

// Release bulk-returns every block this map currently owns to the pool
// and empties the map, without closing it — the capture sub-arena and
// export per-window arena use this every window/table boundary (flush,
// table release). This is the "coalescing is only performed when a
// memmap is closed" bulk-return path from spec.md §4.4/§9; no
// adjacent-buddy merge is attempted, only the individual Free() of each
// owned block (see DESIGN.md "buddy coalescing").
func (m *MemMap) Release() int {
	n := len(m.blocks)
	for _, b := range m.blocks {
		_ = m.pool.Free(b)
	}
	m.blocks = m.blocks[:0]
	return n
}

// Close is Release plus forgetting the map altogether — used for the
// shared-persistent map when a module is removed.
func (m *MemMap) Close() int {
	n := m.Release()
	m.pool = nil
	return n
}

// InUse reports how many blocks this map currently holds, used by the
// resource scheduler's per-module EXPORT memory tracking.
func (m *MemMap) InUse() int { return len(m.blocks) }
