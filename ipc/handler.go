package ipc

import (
	"io"

	"github.com/como-project/como/cmn"
)

// Outcome is the event loop's interpretation of a handler's result, per
// spec.md §7: "handlers return an explicit outcome in
// {Ok, Eof, Err, Close, Again}; the event loop interprets them."
type Outcome int

const (
	OutcomeOk Outcome = iota
	OutcomeEof
	OutcomeErr
	OutcomeClose
	OutcomeAgain
)

// HandlerFunc processes one decoded frame from one peer. It must not
// block on anything but the work it was handed — no handler may itself
// wait on IPC or the sniffer, preserving the "one handler runs to
// completion before the next message is read" invariant (spec.md §4.5).
type HandlerFunc func(peer *Peer, frame *Frame) Outcome

// inbound pairs a frame with the peer it arrived from, the unit the
// fan-in channel below carries.
type inbound struct {
	peer  *Peer
	frame *Frame
	err   error
}

// Loop is the cooperative, single-threaded-per-process event loop
// described in spec.md §4.5/§5. Implementation note (spec.md §9,
// "cooperative loop masquerading as async"): rather than a raw select()
// over file descriptors, each peer gets its own blocking reader
// goroutine that only ever decodes frames and posts them to one shared
// channel; a single consumer goroutine drains that channel and runs
// handlers to completion one at a time. This reproduces "at most one
// handler running" without reimplementing poll() by hand, while keeping
// each peer's reads strictly FIFO (spec.md: "per-peer FIFO; no global
// ordering across peers" is satisfied since each peer's own goroutine
// posts its frames in the order it read them).
type Loop struct {
	registry *Registry
	handlers map[MsgType]HandlerFunc
	inboxCh  chan inbound
	onGone   func(*Peer)
}

func NewLoop(registry *Registry) *Loop {
	return &Loop{
		registry: registry,
		handlers: make(map[MsgType]HandlerFunc),
		inboxCh:  make(chan inbound, 256),
	}
}

// Register installs the handler for a message type. Registration
// happens once per process during startup, per spec.md §9's "process
// wide... handler table" replacement.
func (l *Loop) Register(t MsgType, fn HandlerFunc) { l.handlers[t] = fn }

// OnPeerGone installs a callback fired exactly once when a peer's
// reader goroutine observes EOF or a fatal decode error — cleanup for
// that peer only, never an abort of the whole process (spec.md §7:
// "IPC handlers see EOF as a peer-close signal and clean up that peer
// without affecting others").
func (l *Loop) OnPeerGone(fn func(*Peer)) { l.onGone = fn }

// AddPeer starts a peer's dedicated reader goroutine and registers it.
func (l *Loop) AddPeer(p *Peer) {
	l.registry.Add(p)
	go l.readPeer(p)
}

func (l *Loop) readPeer(p *Peer) {
	for {
		frame, err := Decode(p.Conn)
		if err != nil {
			l.inboxCh <- inbound{peer: p, err: err}
			return
		}
		if p.Compress == CompressLZ4 && len(frame.Data) > 0 {
			raw, derr := DecompressPayload(frame.Data)
			if derr != nil {
				l.inboxCh <- inbound{peer: p, err: derr}
				return
			}
			frame.Data = raw
		}
		l.inboxCh <- inbound{peer: p, frame: frame}
	}
}

// Run drains the fan-in channel, dispatching one frame to one handler
// at a time, until stop is closed.
func (l *Loop) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case msg := <-l.inboxCh:
			l.dispatch(msg)
		}
	}
}

func (l *Loop) dispatch(msg inbound) {
	if msg.err != nil {
		l.registry.Remove(msg.peer.SessionID)
		if msg.err != io.EOF && cmn.KindOf(msg.err) == cmn.KindFatal {
			cmn.Fatalf("ipc: fatal error from peer %s: %v", msg.peer.SessionID, msg.err)
		}
		if l.onGone != nil {
			l.onGone(msg.peer)
		}
		return
	}

	h, ok := l.handlers[msg.frame.Type]
	if !ok {
		cmn.Warnf("ipc: no handler registered for message type %d", msg.frame.Type)
		return
	}

	switch h(msg.peer, msg.frame) {
	case OutcomeClose:
		msg.peer.Close()
		l.registry.Remove(msg.peer.SessionID)
	case OutcomeErr:
		cmn.LogErrorf("ipc: handler for type %d returned error outcome", msg.frame.Type)
	case OutcomeAgain:
		// handler asked to be retried; re-enqueue at the tail of the
		// shared channel, so every frame already pending runs first,
		// including later frames from this same peer.
		l.inboxCh <- msg
	case OutcomeEof, OutcomeOk:
		// nothing further to do
	}
}
