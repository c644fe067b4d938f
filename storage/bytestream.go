// Package storage implements the STORAGE process from spec.md §4.3: a
// single-writer/many-reader, file-chunked, mmap-based append-only
// bytestream server, plus a chunk index and cold-archive hand-off for
// chunks that age out of local disk.
//
// Grounded on _examples/original_source/src/trunk/include/storage.h and
// base/storage-client.c for the chunk/open/map/seek/close API (no
// server-side storage.c was retrieved; the client header and its
// comments are what fix the wire contract), and on the teacher's own
// mmap-backed slab usage (memsys in _examples/ghjramos-aistore) for
// doing the mapping with golang.org/x/sys/unix instead of cgo.
/*
 * Copyright (c) 2024, CoMo Project. All rights reserved.
 */
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/como-project/como/cmn"
)

// chunkNameWidth is the width of a chunk filename: a 16-digit zero-padded
// lowercase hex absolute start offset, per spec.md §6.
const chunkNameWidth = 16

func chunkName(offset int64) string { return fmt.Sprintf("%0*x", chunkNameWidth, offset) }

func parseChunkName(name string) (int64, error) {
	var offset int64
	if _, err := fmt.Sscanf(name, "%x", &offset); err != nil {
		return 0, cmn.Wrap(cmn.KindMalformed, err, "parse chunk filename "+name)
	}
	return offset, nil
}

// chunk is one physical file of a bytestream: immutable once superseded,
// only the tail chunk ever grows.
type chunk struct {
	start int64
	file  *os.File
	data  []byte // mmap'd view, grown (remapped) as the writer commits
	size  int64  // current committed length of this chunk
}

func (c *chunk) end() int64 { return c.start + c.size }

func (c *chunk) unmap() {
	if c.data != nil {
		_ = unix.Munmap(c.data)
		c.data = nil
	}
}

// Bytestream is one (node, module) logical append-only byte sequence:
// an ordered set of chunk files under dir, with at most one writer.
type Bytestream struct {
	mu  sync.Mutex
	cnd *sync.Cond

	dir        string
	chunkCap   int64 // streamsize/2: max bytes per chunk
	chunks     []*chunk
	commitOfs  int64 // writer's linearization point: total bytes committed
	writerOpen bool
	closed     bool
}

// OpenBytestream opens (creating dir if needed) the bytestream backing
// one module's stream, recovering any chunk files already on disk.
func OpenBytestream(dir string, streamSize int64) (*Bytestream, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cmn.Wrap(cmn.KindIO, err, "mkdir bytestream dir")
	}
	b := &Bytestream{dir: dir, chunkCap: streamSize / 2}
	b.cnd = sync.NewCond(&b.mu)
	if err := b.recover(); err != nil {
		return nil, err
	}
	return b, nil
}

// recover scans dir for existing chunk files (in start-offset order) and
// rebuilds in-memory chunk metadata without re-reading file contents —
// the single-stream counterpart of index.go's RecoverAll, which walks
// every stream directory with godirwalk to rebuild the chunk index.
func (b *Bytestream) recover() error {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return cmn.Wrap(cmn.KindIO, err, "read bytestream dir")
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && len(e.Name()) == chunkNameWidth {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		start, err := parseChunkName(name)
		if err != nil {
			return err
		}
		fi, err := os.Stat(filepath.Join(b.dir, name))
		if err != nil {
			return cmn.Wrap(cmn.KindIO, err, "stat chunk file")
		}
		b.chunks = append(b.chunks, &chunk{start: start, size: fi.Size()})
		b.commitOfs = start + fi.Size()
	}
	return nil
}

// OpenWriter claims the single writer slot for this bytestream,
// positioned at the tail.
func (b *Bytestream) OpenWriter() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writerOpen {
		return cmn.Errorf(cmn.KindMalformed, "bytestream %s: writer already open", b.dir)
	}
	if len(b.chunks) == 0 {
		if err := b.openChunkLocked(0); err != nil {
			return err
		}
	} else if tail := b.chunks[len(b.chunks)-1]; tail.file == nil {
		f, err := os.OpenFile(filepath.Join(b.dir, chunkName(tail.start)), os.O_RDWR, 0o644)
		if err != nil {
			return cmn.Wrap(cmn.KindIO, err, "reopen tail chunk for write")
		}
		tail.file = f
	}
	b.writerOpen = true
	return nil
}

func (b *Bytestream) openChunkLocked(start int64) error {
	name := filepath.Join(b.dir, chunkName(start))
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return cmn.Wrap(cmn.KindIO, err, "create chunk file")
	}
	b.chunks = append(b.chunks, &chunk{start: start, file: f})
	return nil
}

// Append writes rec to the tail, sealing the current chunk and opening a
// fresh one first if rec would push the tail past chunkCap (spec.md §4.3:
// "the writer opens a new chunk whenever the current chunk would exceed
// S/2 bytes"). Commit is the linearization point: Append wakes every
// blocked reader once the new bytes are durable.
func (b *Bytestream) Append(rec []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.writerOpen {
		return cmn.Errorf(cmn.KindMalformed, "bytestream %s: append with no writer open", b.dir)
	}
	tail := b.chunks[len(b.chunks)-1]
	if tail.size > 0 && tail.size+int64(len(rec)) > b.chunkCap {
		if err := b.sealTailLocked(); err != nil {
			return err
		}
		if err := b.openChunkLocked(b.commitOfs); err != nil {
			return err
		}
		tail = b.chunks[len(b.chunks)-1]
	}

	if _, err := tail.file.WriteAt(rec, tail.size); err != nil {
		return cmn.Wrap(cmn.KindIO, err, "write chunk data")
	}
	tail.size += int64(len(rec))
	b.commitOfs += int64(len(rec))
	tail.unmap() // invalidate any stale mapping; next Map call remaps fresh
	b.cnd.Broadcast()
	return nil
}

func (b *Bytestream) sealTailLocked() error {
	tail := b.chunks[len(b.chunks)-1]
	if tail.file != nil {
		tail.unmap()
		err := tail.file.Close()
		tail.file = nil
		if err != nil {
			return cmn.Wrap(cmn.KindIO, err, "close sealed chunk")
		}
	}
	return nil
}

// CloseWriter truncates the tail chunk at finalOfs (spec.md §4.3
// close(fd, final_ofs)) and releases the writer slot.
func (b *Bytestream) CloseWriter(finalOfs int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.writerOpen {
		return nil
	}
	tail := b.chunks[len(b.chunks)-1]
	if finalOfs >= tail.start && finalOfs < b.commitOfs {
		newSize := finalOfs - tail.start
		if err := tail.file.Truncate(newSize); err != nil {
			return cmn.Wrap(cmn.KindIO, err, "truncate tail chunk at close")
		}
		tail.size = newSize
		b.commitOfs = finalOfs
	}
	b.writerOpen = false
	b.closed = true
	b.cnd.Broadcast()
	return nil
}

// CommitOffset returns the writer's current linearization point.
func (b *Bytestream) CommitOffset() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.commitOfs
}

// FirstOffset returns the start offset of the oldest live chunk, the
// floor of any valid reader position.
func (b *Bytestream) FirstOffset() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunks) == 0 {
		return 0
	}
	return b.chunks[0].start
}

// chunkFor returns the chunk containing offset, or nil if none does.
func (b *Bytestream) chunkFor(offset int64) *chunk {
	for _, c := range b.chunks {
		if offset >= c.start && offset < c.start+max64(c.size, b.chunkCap) {
			return c
		}
	}
	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
