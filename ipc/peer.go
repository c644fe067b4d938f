package ipc

import (
	"net"
	"sync"

	"github.com/teris-io/shortid"

	"github.com/como-project/como/cmn"
)

// Peer is one connected process as seen by another: a live socket plus
// the identity and negotiated session parameters latched at Connect.
// spec.md §9 asks that intrusive peer lists be re-expressed as owned,
// indexed collections rather than hand-linked pointers; Registry below
// is that collection, keyed by SessionID.
type Peer struct {
	SessionID  string
	Sender     SenderID
	Conn       net.Conn
	Compress   Compression
	comoutLock sync.Mutex // serializes writes; reads happen on the peer's own reader goroutine
}

// Send writes a frame to the peer, compressing its payload first when
// compression was negotiated at Connect. Writes are blocking and
// complete before the caller's next loop iteration, matching spec.md
// §4.5 ("Writes are blocking and complete before the next loop
// iteration").
func (p *Peer) Send(f *Frame) error {
	p.comoutLock.Lock()
	defer p.comoutLock.Unlock()

	if p.Compress == CompressLZ4 && len(f.Data) > 0 && f.Type != MsgConnect {
		compressed, err := CompressPayload(f.Data)
		if err != nil {
			return err
		}
		out := *f
		out.Data = compressed
		return Encode(p.Conn, &out)
	}
	return Encode(p.Conn, f)
}

// Close drops the connection; per spec.md §4.5, closing a peer socket
// drops all pending messages to it.
func (p *Peer) Close() error { return p.Conn.Close() }

// Registry owns every Peer a process currently talks to, indexed by
// SessionID rather than chained via pointers.
type Registry struct {
	mu    sync.Mutex
	peers map[string]*Peer
}

func NewRegistry() *Registry { return &Registry{peers: make(map[string]*Peer)} }

func (r *Registry) Add(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.SessionID] = p
}

func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, sessionID)
}

func (r *Registry) Get(sessionID string) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[sessionID]
	return p, ok
}

func (r *Registry) Each(fn func(*Peer)) {
	r.mu.Lock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.Unlock()
	for _, p := range peers {
		fn(p)
	}
}

// NewSessionID generates a short, log-friendly peer/session identifier.
// spec.md §4.5 NEW: ids survive a ModuleDel/ModuleAdd churn within one
// process lifetime, which a monotonic counter reset on restart would not
// make obvious in logs — shortid gives a stable-looking opaque token
// instead.
func NewSessionID() (string, error) {
	id, err := shortid.Generate()
	if err != nil {
		return "", cmn.Wrap(cmn.KindIO, err, "generate session id")
	}
	return id, nil
}

// Handshake performs the Connect round-trip described in spec.md §4.5:
// a type-0 message whose payload carries the sender's identity and its
// preferred compression; every later message waits for this to finish.
// Byte order itself needs no negotiation under the fixed big-endian wire
// format (spec.md §4.5 NEW), so the single payload byte here is purely
// the compression preference, not an order flag.
func Handshake(conn net.Conn, self SenderID, preferCompress bool) (*Peer, error) {
	sessionID, err := NewSessionID()
	if err != nil {
		return nil, err
	}

	localPref := byte(CompressNone)
	if preferCompress {
		localPref = byte(CompressLZ4)
	}
	if err := Encode(conn, &Frame{Type: MsgConnect, Sender: self, Data: []byte{localPref}}); err != nil {
		return nil, err
	}
	reply, err := Decode(conn)
	if err != nil {
		return nil, err
	}
	if reply.Type != MsgConnect {
		return nil, cmn.Errorf(cmn.KindMalformed, "expected Connect reply, got type %d", reply.Type)
	}
	remotePref := byte(CompressNone)
	if len(reply.Data) > 0 {
		remotePref = reply.Data[0]
	}

	return &Peer{
		SessionID: sessionID,
		Sender:    reply.Sender,
		Conn:      conn,
		Compress:  negotiateCompression(localPref, remotePref),
	}, nil
}
