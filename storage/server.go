package storage

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/como-project/como/cmn"
)

// Mode is how a client opened a bytestream, per spec.md §4.3.
type Mode int

const (
	ModeWriter Mode = iota
	ModeReader
	ModeReaderNonBlock
)

// DefaultWatchdog is the per-client blocked-read timeout spec.md §4.3
// names: 60s, after which a stalled writer no longer blocks that one
// reader (other clients on the same bytestream are unaffected).
const DefaultWatchdog = 60 * time.Second

// Client is one open handle on a bytestream: a STORAGE-side FD standing
// in for the original's per-process fd, since here CAPTURE/EXPORT/QUERY
// are reached over IPC rather than sharing STORAGE's address space.
type Client struct {
	stream *Bytestream
	mode   Mode
	pos    int64 // absolute offset within the logical bytestream
	mapped *chunk
}

// Server multiplexes every bytestream STORAGE is responsible for, keyed
// by stream name ("node/module"), replacing the original's per-client
// intrusive region list with a plain map (spec.md §9).
type Server struct {
	mu       sync.Mutex
	streams  map[string]*Bytestream
	baseDir  string
	watchdog time.Duration
}

func NewServer(baseDir string) *Server {
	return &Server{streams: make(map[string]*Bytestream), baseDir: baseDir, watchdog: DefaultWatchdog}
}

// Stream returns (creating on first use) the named bytestream.
func (s *Server) Stream(name string, streamSize int64) (*Bytestream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.streams[name]; ok {
		return b, nil
	}
	b, err := OpenBytestream(s.baseDir+"/"+name, streamSize)
	if err != nil {
		return nil, err
	}
	s.streams[name] = b
	return b, nil
}

// Open claims a client handle on a bytestream in the given mode, per
// spec.md §4.3: Writer positions at the tail, Reader positions at byte 0
// of the oldest chunk.
func (s *Server) Open(name string, mode Mode, streamSize int64) (*Client, error) {
	b, err := s.Stream(name, streamSize)
	if err != nil {
		return nil, err
	}
	c := &Client{stream: b, mode: mode}
	switch mode {
	case ModeWriter:
		if err := b.OpenWriter(); err != nil {
			return nil, err
		}
		c.pos = b.CommitOffset()
	case ModeReader, ModeReaderNonBlock:
		c.pos = b.FirstOffset()
	}
	return c, nil
}

// Map asks for a mapped view of at least sz bytes at ofs, per spec.md
// §4.3. The view never crosses a chunk boundary: the request is first
// cut at the end of the chunk holding ofs (its start plus the larger of
// its size and chunkCap), and actualSz is truncated to the chunk's
// committed end. Blocking readers wait (bounded by the server watchdog)
// until the writer's commit point covers the cut request or the writer
// closes; ReaderNonBlock returns a zero-length view instead of blocking.
func (s *Server) Map(c *Client, ofs int64, sz int) (view []byte, actualSz int, err error) {
	b := c.stream
	b.mu.Lock()
	defer b.mu.Unlock()

	deadline := time.Now().Add(s.watchdog)
	for {
		end := ofs + int64(sz)
		if ck := b.chunkFor(ofs); ck != nil {
			if limit := ck.start + max64(ck.size, b.chunkCap); end > limit {
				end = limit
			}
		}
		if end <= b.commitOfs || b.closed {
			break
		}
		if c.mode == ModeReaderNonBlock {
			return nil, 0, nil // EOF view, not an error
		}
		if !b.waitUntil(deadline) {
			return nil, 0, cmn.Errorf(cmn.KindIO, "bytestream %s: reader watchdog timeout at offset %d", b.dir, ofs)
		}
	}

	ck := b.chunkFor(ofs)
	if ck == nil {
		return nil, 0, cmn.Errorf(cmn.KindMalformed, "bytestream %s: offset %d not in any chunk", b.dir, ofs)
	}
	if c.mapped != nil && c.mapped != ck {
		c.mapped.unmap()
	}
	if ck.data == nil {
		if err := mapChunk(ck); err != nil {
			return nil, 0, err
		}
	}
	c.mapped = ck

	within := ofs - ck.start
	avail := ck.size - within
	actualSz = sz
	if int64(actualSz) > avail {
		actualSz = int(avail)
	}
	c.pos = ofs + int64(actualSz)
	return ck.data[within : within+int64(actualSz)], actualSz, nil
}

func mapChunk(c *chunk) error {
	info, err := c.file.Stat()
	if err != nil {
		return cmn.Wrap(cmn.KindIO, err, "stat chunk for mmap")
	}
	if info.Size() == 0 {
		c.data = nil
		return nil
	}
	data, err := unix.Mmap(int(c.file.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return cmn.Wrap(cmn.KindIO, err, "mmap chunk")
	}
	c.data = data
	return nil
}

// waitUntil blocks on the bytestream's commit condition until woken or
// deadline passes, returning false on timeout. b.mu must be held.
func (b *Bytestream) waitUntil(deadline time.Time) bool {
	done := make(chan struct{})
	timer := time.AfterFunc(time.Until(deadline), func() {
		b.mu.Lock()
		close(done)
		b.cnd.Broadcast()
		b.mu.Unlock()
	})
	defer timer.Stop()

	select {
	case <-done:
		return false
	default:
	}
	b.cnd.Wait()
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// SeekNext/SeekPrev move to the first byte of the next/previous chunk,
// discarding the current mapping, per spec.md §4.3 seek(fd, Next|Prev).
func (c *Client) SeekNext() (int64, error) {
	b := c.stream
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ck := range b.chunks {
		if ck.start == c.mapped.startOrPos(c.pos) && i+1 < len(b.chunks) {
			c.pos = b.chunks[i+1].start
			c.unmapLocked()
			return c.pos, nil
		}
	}
	return c.pos, cmn.Errorf(cmn.KindMalformed, "no next chunk after offset %d", c.pos)
}

func (c *Client) SeekPrev() (int64, error) {
	b := c.stream
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ck := range b.chunks {
		if ck.start == c.mapped.startOrPos(c.pos) && i > 0 {
			c.pos = b.chunks[i-1].start
			c.unmapLocked()
			return c.pos, nil
		}
	}
	return c.pos, cmn.Errorf(cmn.KindMalformed, "no previous chunk before offset %d", c.pos)
}

func (c *Client) unmapLocked() {
	if c.mapped != nil {
		c.mapped.unmap()
		c.mapped = nil
	}
}

// startOrPos returns the chunk's start offset if c is non-nil, else
// falls back to pos itself so Seek still works before any Map call.
func (c *chunk) startOrPos(pos int64) int64 {
	if c == nil {
		return pos
	}
	return c.start
}

// Close releases this client's handle. A Writer close truncates the tail
// chunk at finalOfs and frees the writer slot for the bytestream.
func (c *Client) Close(finalOfs int64) error {
	c.unmapLocked()
	if c.mode == ModeWriter {
		return c.stream.CloseWriter(finalOfs)
	}
	return nil
}

// Pos reports the client's current absolute offset.
func (c *Client) Pos() int64 { return c.pos }
