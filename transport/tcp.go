package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/pichain/pichain/pichainlog"
)

// reconnectBackoff is the fixed escalating wait table between dial
// attempts to a peer that is not currently reachable, mirroring the
// original's LoopingCall reconnect loop without pulling in a
// policy-configurable backoff dependency for what is a five-step table.
var reconnectBackoff = []time.Duration{
	200 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2 * time.Second,
	5 * time.Second,
}

const maxFrameBytes = 32 * 1024 * 1024

// helloPayload is exchanged on connect so each side learns the other's
// node index before any protocol message is trusted.
type helloPayload struct {
	NodeIndex int64 `json:"node_index"`
}

// TCP implements Transport over net.Conn: a 1-byte kind tag, a 4-byte
// big-endian payload length, and a JSON payload — adapted from the
// teacher's network/peer.go length-prefixed framing, generalized from a
// single message envelope to the full piChain kind set.
type TCP struct {
	self  int64
	addrs map[int64]string

	mu    sync.RWMutex
	conns map[int64]net.Conn

	inbox    chan Envelope
	listener net.Listener
	stopCh   chan struct{}
}

// NewTCP constructs a TCP transport for replica self, given the dial
// address of every other replica keyed by peer index.
func NewTCP(self int64, addrs map[int64]string) *TCP {
	return &TCP{
		self:   self,
		addrs:  addrs,
		conns:  make(map[int64]net.Conn),
		inbox:  make(chan Envelope, 1024),
		stopCh: make(chan struct{}),
	}
}

// Listen starts the accept loop on listenAddr and begins dialing every
// peer in addrs. Plain TCP only: wire encryption is an explicit Non-goal
// of the consensus protocol (§1).
func (t *TCP) Listen(listenAddr string) error {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", listenAddr, err)
	}
	t.listener = ln
	go t.acceptLoop()

	for peer, addr := range t.addrs {
		if peer == t.self {
			continue
		}
		go t.dialLoop(peer, addr)
	}
	return nil
}

func (t *TCP) SelfIndex() int64 { return t.self }

func (t *TCP) PeerIndices() []int64 {
	peers := make([]int64, 0, len(t.addrs))
	for peer := range t.addrs {
		if peer != t.self {
			peers = append(peers, peer)
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

func (t *TCP) Inbound() <-chan Envelope { return t.inbox }

func (t *TCP) Broadcast(kind Kind, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport: marshal %s: %w", kind, err)
	}
	t.mu.RLock()
	conns := make(map[int64]net.Conn, len(t.conns))
	for k, v := range t.conns {
		conns[k] = v
	}
	t.mu.RUnlock()

	for peer, conn := range conns {
		if err := writeFrame(conn, kind, raw); err != nil {
			pichainlog.Transport.Warn().Err(err).Int64("peer", peer).Msg("broadcast write failed")
		}
	}
	if SelfDelivers(kind) {
		t.inbox <- Envelope{From: t.self, Kind: kind, Payload: raw}
	}
	return nil
}

func (t *TCP) Respond(peerIndex int64, kind Kind, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport: marshal %s: %w", kind, err)
	}

	if peerIndex == t.self {
		t.inbox <- Envelope{From: t.self, Kind: kind, Payload: raw}
		return nil
	}

	t.mu.RLock()
	conn, ok := t.conns[peerIndex]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("transport: no connection to peer %d", peerIndex)
	}
	return writeFrame(conn, kind, raw)
}

func (t *TCP) Close() error {
	close(t.stopCh)
	if t.listener != nil {
		t.listener.Close()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, conn := range t.conns {
		conn.Close()
	}
	return nil
}

func (t *TCP) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.stopCh:
				return
			default:
				pichainlog.Transport.Warn().Err(err).Msg("accept error")
				continue
			}
		}
		go t.handshakeInbound(conn)
	}
}

func (t *TCP) dialLoop(peer int64, addr string) {
	attempt := 0
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		t.mu.RLock()
		_, connected := t.conns[peer]
		t.mu.RUnlock()
		if connected {
			time.Sleep(reconnectBackoff[len(reconnectBackoff)-1])
			continue
		}

		conn, err := net.Dial("tcp", addr)
		if err != nil {
			wait := reconnectBackoff[len(reconnectBackoff)-1]
			if attempt < len(reconnectBackoff) {
				wait = reconnectBackoff[attempt]
			}
			attempt++
			time.Sleep(wait)
			continue
		}
		attempt = 0
		if err := t.handshakeOutbound(conn, peer); err != nil {
			pichainlog.Transport.Warn().Err(err).Int64("peer", peer).Msg("handshake failed")
			conn.Close()
			continue
		}
	}
}

func (t *TCP) handshakeOutbound(conn net.Conn, expectPeer int64) error {
	if err := writeFrame(conn, KindHello, mustMarshal(helloPayload{NodeIndex: t.self})); err != nil {
		return err
	}
	kind, raw, err := readFrame(conn)
	if err != nil {
		return err
	}
	if kind != KindAck {
		return fmt.Errorf("transport: expected ACK, got %s", kind)
	}
	var ack helloPayload
	if err := json.Unmarshal(raw, &ack); err != nil {
		return err
	}
	if ack.NodeIndex != expectPeer {
		return fmt.Errorf("transport: dialed peer %d, got ACK from %d", expectPeer, ack.NodeIndex)
	}
	t.registerConn(ack.NodeIndex, conn)
	go t.readLoop(ack.NodeIndex, conn)
	return nil
}

func (t *TCP) handshakeInbound(conn net.Conn) {
	kind, raw, err := readFrame(conn)
	if err != nil {
		conn.Close()
		return
	}
	if kind != KindHello {
		conn.Close()
		return
	}
	var hel helloPayload
	if err := json.Unmarshal(raw, &hel); err != nil {
		conn.Close()
		return
	}
	if err := writeFrame(conn, KindAck, mustMarshal(helloPayload{NodeIndex: t.self})); err != nil {
		conn.Close()
		return
	}
	t.registerConn(hel.NodeIndex, conn)
	go t.readLoop(hel.NodeIndex, conn)
}

func (t *TCP) registerConn(peer int64, conn net.Conn) {
	t.mu.Lock()
	if old, ok := t.conns[peer]; ok {
		old.Close()
	}
	t.conns[peer] = conn
	t.mu.Unlock()
}

func (t *TCP) readLoop(peer int64, conn net.Conn) {
	defer func() {
		t.mu.Lock()
		if t.conns[peer] == conn {
			delete(t.conns, peer)
		}
		t.mu.Unlock()
		conn.Close()
	}()
	for {
		kind, raw, err := readFrame(conn)
		if err != nil {
			return
		}
		t.inbox <- Envelope{From: peer, Kind: kind, Payload: raw}
	}
}

// kindCodes maps each Kind to a single wire byte, since several kind names
// (PROPOSE_ACK, TRY_OK) are longer than would fit a fixed short tag.
var kindCodes = map[Kind]byte{
	KindHello: 1, KindAck: 2, KindTry: 3, KindTryOk: 4, KindPropose: 5,
	KindProposeAck: 6, KindCommit: 7, KindBlock: 8, KindTxn: 9,
	KindReqBlocks: 10, KindRespBlocks: 11, KindPing: 12, KindPong: 13,
	KindAckCommit: 14,
}

var codeKinds = func() map[byte]Kind {
	m := make(map[byte]Kind, len(kindCodes))
	for k, c := range kindCodes {
		m[c] = k
	}
	return m
}()

func writeFrame(w io.Writer, kind Kind, payload []byte) error {
	code, ok := kindCodes[kind]
	if !ok {
		return fmt.Errorf("transport: unknown kind %q", kind)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := w.Write([]byte{code}); err != nil {
		return err
	}
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) (Kind, json.RawMessage, error) {
	var codeByte [1]byte
	if _, err := io.ReadFull(r, codeByte[:]); err != nil {
		return "", nil, err
	}
	kind, ok := codeKinds[codeByte[0]]
	if !ok {
		return "", nil, fmt.Errorf("transport: unknown kind code %d", codeByte[0])
	}
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return "", nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrameBytes {
		return "", nil, fmt.Errorf("transport: frame too large: %d bytes", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", nil, err
	}
	return kind, buf, nil
}

func mustMarshal(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("transport: marshal: %v", err))
	}
	return raw
}
