// Package node wires the Block Store, Role Engine, Paxos Driver, RTT
// Prober, transport, and Pipeline Coordinator into a single running
// replica, mirroring the teacher's cmd/node/main.go wiring order:
// storage, then domain state, then networking, then consensus, then the
// event loop.
package node

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/pichain/pichain/config"
	"github.com/pichain/pichain/core"
	"github.com/pichain/pichain/paxos"
	"github.com/pichain/pichain/pichainlog"
	"github.com/pichain/pichain/pipeline"
	"github.com/pichain/pichain/role"
	"github.com/pichain/pichain/rtt"
	"github.com/pichain/pichain/storage"
	"github.com/pichain/pichain/transport"
)

// Node is the public host API: construct one per replica process, Start
// it, Submit commands to it, and receive committed commands through
// OnCommit.
type Node struct {
	cfg *config.Config
	db  storage.DB

	tree   *core.BlockTree
	engine *role.Engine
	driver *paxos.Driver
	prober *rtt.Prober
	tr     transport.Transport
	coord  *pipeline.Coordinator
}

// pingSender adapts a transport.Transport to rtt.Sender by unicasting a
// pipeline.Ping to the target peer.
type pingSender struct {
	tr transport.Transport
}

func (s pingSender) SendPing(peerIndex int64, sentAt time.Time) error {
	return s.tr.Respond(peerIndex, transport.KindPing, pipeline.Ping{SentAt: sentAt})
}

// Options configures New beyond what Config already carries.
type Options struct {
	// Transport overrides the default TCP transport construction, used
	// by tests to inject an in-process transport.Memory.
	Transport transport.Transport
}

// New opens (or creates) the data directory's store and wires every
// component. It does not start the network listener or event loop — call
// Start for that.
func New(cfg *config.Config, opts Options) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("node: invalid config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("node: create data dir: %w", err)
	}

	ldb, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return nil, fmt.Errorf("node: open store: %w", err)
	}
	db := storage.NewChecksummedDB(ldb)

	tree, err := core.LoadBlockTree(db)
	if err != nil {
		return nil, fmt.Errorf("node: load block tree: %w", err)
	}

	tr := opts.Transport
	if tr == nil {
		addrs := make(map[int64]string, len(cfg.Peers))
		for key, addr := range cfg.Peers {
			var idx int64
			if _, err := fmt.Sscanf(key, "%d", &idx); err != nil {
				return nil, fmt.Errorf("node: peer key %q is not an index: %w", key, err)
			}
			addrs[idx] = fmt.Sprintf("%s:%d", addr.Host, addr.Port)
		}
		tcp := transport.NewTCP(cfg.NodeIndex, addrs)
		tr = tcp
	}

	prober := rtt.NewProber(pingSender{tr: tr}, tr.PeerIndices())
	isFirst := cfg.NodeIndex == 0
	rnd := rand.New(rand.NewSource(cfg.NodeIndex + 1))
	engine := role.NewEngine(len(cfg.Peers), prober, isFirst, rnd)

	driver := paxos.NewDriver(cfg.PeerCount(), tree.Genesis())

	coord := pipeline.New(cfg, tree, engine, driver, tr, prober)

	return &Node{
		cfg:    cfg,
		db:     db,
		tree:   tree,
		engine: engine,
		driver: driver,
		prober: prober,
		tr:     tr,
		coord:  coord,
	}, nil
}

// Start begins listening (if the transport is a *transport.TCP), and
// launches the RTT Prober and Pipeline Coordinator goroutines. It returns
// once listening has started; the event loop keeps running until Stop.
func (n *Node) Start(listenAddr string) error {
	if tcp, ok := n.tr.(*transport.TCP); ok {
		if err := tcp.Listen(listenAddr); err != nil {
			return fmt.Errorf("node: listen: %w", err)
		}
	}
	go n.prober.Run()
	go n.coord.Run()
	pichainlog.Pipeline.Info().Int64("node_index", n.cfg.NodeIndex).Msg("replica started")
	return nil
}

// OnCommit registers the callback invoked with each committed block's
// ordered command contents.
func (n *Node) OnCommit(cb func([]string)) {
	n.coord.OnCommit(cb)
}

// Submit enqueues command for ordering.
func (n *Node) Submit(command string) {
	n.coord.Submit(command)
}

// Stop terminates the event loop, the RTT prober, the transport, and
// closes the backing store, in that order (consensus quiesces before the
// resources it depends on are released).
func (n *Node) Stop() error {
	n.coord.Stop()
	n.prober.Stop()
	if err := n.tr.Close(); err != nil {
		pichainlog.Pipeline.Warn().Err(err).Msg("transport close")
	}
	return n.db.Close()
}
