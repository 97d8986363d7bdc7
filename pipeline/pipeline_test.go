package pipeline_test

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/pichain/pichain/config"
	"github.com/pichain/pichain/core"
	"github.com/pichain/pichain/paxos"
	"github.com/pichain/pichain/pipeline"
	"github.com/pichain/pichain/role"
	"github.com/pichain/pichain/rtt"
	"github.com/pichain/pichain/storage"
	"github.com/pichain/pichain/transport"
)

// noopSender never actually sends a PIN; the RTT prober's ping loop is
// never started in these tests, so it is only present to satisfy
// rtt.NewProber's constructor.
type noopSender struct{}

func (noopSender) SendPing(peerIndex int64, sentAt time.Time) error { return nil }

// replica bundles everything one in-process cluster member needs, wired
// the way node.New wires a real process but over transport.Memory instead
// of sockets.
type replica struct {
	coord *pipeline.Coordinator

	mu        sync.Mutex
	committed [][]string
}

func (r *replica) onCommit(commands []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, commands)
}

func (r *replica) commandsFlat() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, batch := range r.committed {
		out = append(out, batch...)
	}
	return out
}

// peerIndicesExcept lists every replica index in [0,n) other than self.
func peerIndicesExcept(n, self int64) []int64 {
	var out []int64
	for j := int64(0); j < n; j++ {
		if j != self {
			out = append(out, j)
		}
	}
	return out
}

// newCluster wires n replicas with replica 0 alone starting QUICK, the
// convention every non-election test relies on.
func newCluster(t *testing.T, n int64) []*replica {
	t.Helper()
	replicas, _ := newClusterWithQuick(t, n, map[int64]bool{0: true})
	return replicas
}

// newClusterWithQuick wires n replicas over a shared transport.Network,
// with quick[i] selecting which replicas start QUICK instead of the usual
// single elected replica 0 — letting election and leader-race scenarios
// pick their own starting roles. It returns the network too, so tests can
// drive transport.Network.Partition/Heal.
func newClusterWithQuick(t *testing.T, n int64, quick map[int64]bool) ([]*replica, *transport.Network) {
	t.Helper()
	net := transport.NewNetwork()

	peers := make(map[string]config.PeerAddr, n)
	for i := int64(0); i < n; i++ {
		peers[itoa(i)] = config.PeerAddr{Host: "127.0.0.1", Port: int(7000 + i)}
	}

	replicas := make([]*replica, n)
	for i := int64(0); i < n; i++ {
		cfg := config.DefaultConfig()
		cfg.NodeIndex = i
		cfg.Peers = peers
		cfg.AccumulationTimeMS = 5
		cfg.RecoveryBlocksCount = 5

		peerIdx := peerIndicesExcept(n, i)

		tr := transport.NewMemory(net, i, peerIdx)
		kv := storage.NewMemDB()
		tree, err := core.NewBlockTree(kv)
		if err != nil {
			t.Fatalf("NewBlockTree: %v", err)
		}
		prober := rtt.NewProber(noopSender{}, peerIdx)
		engine := role.NewEngine(int(n), prober, quick[i], rand.New(rand.NewSource(i+1)))
		driver := paxos.NewDriver(n, tree.Genesis())

		coord := pipeline.New(cfg, tree, engine, driver, tr, prober)
		r := &replica{coord: coord}
		coord.OnCommit(r.onCommit)
		replicas[i] = r
	}

	for _, r := range replicas {
		go r.coord.Run()
	}
	t.Cleanup(func() {
		for _, r := range replicas {
			r.coord.Stop()
		}
	})
	return replicas, net
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

func waitForCommand(t *testing.T, replicas []*replica, want string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ok := true
		for _, r := range replicas {
			found := false
			for _, cmd := range r.commandsFlat() {
				if cmd == want {
					found = true
					break
				}
			}
			if !found {
				ok = false
				break
			}
		}
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for every replica to commit %q", want)
}

func TestSingleTransactionCommitsOnEveryReplica(t *testing.T) {
	replicas := newCluster(t, 3)
	replicas[0].coord.Submit("put a 1")
	waitForCommand(t, replicas, "put a 1", 5*time.Second)
}

func TestBurstOfTransactionsAllCommit(t *testing.T) {
	replicas := newCluster(t, 3)
	for i := 0; i < 10; i++ {
		replicas[0].coord.Submit("put k" + itoa(int64(i)) + " v")
	}
	for i := 0; i < 10; i++ {
		waitForCommand(t, replicas, "put k"+itoa(int64(i))+" v", 5*time.Second)
	}
}

func TestNonQuickReplicaCanAlsoSubmit(t *testing.T) {
	replicas := newCluster(t, 3)
	// Submitted at replica 1, which starts SLOW: replica 0 (QUICK) still
	// has to pick it up once its own patience timer expires.
	replicas[1].coord.Submit("put b 2")
	waitForCommand(t, replicas, "put b 2", 5*time.Second)
}

// TestAllSlowClusterElectsLeaderAndCommits covers the all-SLOW election
// scenario: no replica starts QUICK, so the first submitted command only
// promotes the fastest replica SLOW -> MEDIUM without committing (no
// proposer is QUICK yet); a second command promotes that same replica
// MEDIUM -> QUICK, at which point it starts a Paxos round as the newly
// elected leader and the cluster starts committing.
func TestAllSlowClusterElectsLeaderAndCommits(t *testing.T) {
	replicas, _ := newClusterWithQuick(t, 3, nil)

	replicas[0].coord.Submit("put a 1")
	time.Sleep(4 * time.Second)

	replicas[0].coord.Submit("put b 2")
	waitForCommand(t, replicas, "put b 2", 8*time.Second)

	replicas[0].coord.Submit("put c 3")
	waitForCommand(t, replicas, "put c 3", 3*time.Second)
}

// TestTwoQuickLeadersRaceToSingleCommit covers the two-QUICKs-racing
// scenario: replicas 0 and 1 both start QUICK and may both try to create
// and propose a block for the same submitted command at once. Paxos
// acceptor state (sMaxBlock) arbitrates between the two competing
// proposers, so only one candidate ever reaches majority and every
// replica still converges on a single committed command.
func TestTwoQuickLeadersRaceToSingleCommit(t *testing.T) {
	replicas, _ := newClusterWithQuick(t, 3, map[int64]bool{0: true, 1: true})

	replicas[0].coord.Submit("put race 1")
	waitForCommand(t, replicas, "put race 1", 5*time.Second)
}

// TestPartitionThenHealStillConverges covers the partition-then-heal
// scenario: a partition that excludes the QUICK leader (between replicas
// 1 and 2 only) still leaves the leader able to reach a majority through
// either one, so commits continue uninterrupted; healing restores full
// connectivity and commits keep converging afterward.
func TestPartitionThenHealStillConverges(t *testing.T) {
	replicas, net := newClusterWithQuick(t, 3, map[int64]bool{0: true})

	net.Partition(1, 2)
	replicas[0].coord.Submit("put during-partition 1")
	waitForCommand(t, replicas, "put during-partition 1", 5*time.Second)

	net.Heal(1, 2)
	replicas[0].coord.Submit("put after-heal 1")
	waitForCommand(t, replicas, "put after-heal 1", 5*time.Second)
}

// TestCrashedReplicaRecoversAndRejoins covers the crash-recovery scenario:
// replica 2's event loop is stopped mid-cluster (simulating a process
// crash) while its Block Store is left exactly as of its last applied
// state; the other two replicas, still a majority, keep committing. A
// fresh Coordinator takes over that same BlockTree instance at the same
// replica index (the tree is not reloaded from its store), and the
// recovered replica rejoins the cluster and resumes
// committing new commands alongside the two that never went down.
func TestCrashedReplicaRecoversAndRejoins(t *testing.T) {
	const n int64 = 3
	net := transport.NewNetwork()

	peers := make(map[string]config.PeerAddr, n)
	for i := int64(0); i < n; i++ {
		peers[itoa(i)] = config.PeerAddr{Host: "127.0.0.1", Port: int(7100 + i)}
	}

	type member struct {
		replica *replica
		tree    *core.BlockTree
		cfg     *config.Config
	}

	members := make([]*member, n)
	for i := int64(0); i < n; i++ {
		cfg := config.DefaultConfig()
		cfg.NodeIndex = i
		cfg.Peers = peers
		cfg.AccumulationTimeMS = 5
		cfg.RecoveryBlocksCount = 5

		peerIdx := peerIndicesExcept(n, i)
		tr := transport.NewMemory(net, i, peerIdx)
		kv := storage.NewMemDB()
		tree, err := core.NewBlockTree(kv)
		if err != nil {
			t.Fatalf("NewBlockTree: %v", err)
		}
		prober := rtt.NewProber(noopSender{}, peerIdx)
		engine := role.NewEngine(int(n), prober, i == 0, rand.New(rand.NewSource(i+1)))
		driver := paxos.NewDriver(n, tree.Genesis())

		coord := pipeline.New(cfg, tree, engine, driver, tr, prober)
		r := &replica{coord: coord}
		coord.OnCommit(r.onCommit)
		members[i] = &member{replica: r, tree: tree, cfg: cfg}
	}

	live := make([]*replica, n)
	for i, m := range members {
		live[i] = m.replica
		go m.replica.coord.Run()
	}
	t.Cleanup(func() {
		members[0].replica.coord.Stop()
		members[1].replica.coord.Stop()
	})

	live[0].coord.Submit("put a 1")
	waitForCommand(t, live, "put a 1", 5*time.Second)

	// Replica 2 crashes.
	members[2].replica.coord.Stop()

	live[0].coord.Submit("put b 2")
	waitForCommand(t, live[:2], "put b 2", 5*time.Second)

	// Recovery: reuse the same tree under a fresh Coordinator, engine,
	// driver, and transport registration at the same index.
	recoveredPeerIdx := peerIndicesExcept(n, 2)
	newTr := transport.NewMemory(net, 2, recoveredPeerIdx)
	newProber := rtt.NewProber(noopSender{}, recoveredPeerIdx)
	newEngine := role.NewEngine(int(n), newProber, false, rand.New(rand.NewSource(99)))
	newDriver := paxos.NewDriver(n, members[2].tree.Genesis())
	recovered := pipeline.New(members[2].cfg, members[2].tree, newEngine, newDriver, newTr, newProber)
	recoveredReplica := &replica{coord: recovered}
	recovered.OnCommit(recoveredReplica.onCommit)
	go recovered.Run()
	t.Cleanup(recovered.Stop)

	live[0].coord.Submit("put c 3")
	waitForCommand(t, []*replica{live[0], live[1], recoveredReplica}, "put c 3", 8*time.Second)
}
