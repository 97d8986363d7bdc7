package kvstore_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/pichain/pichain/config"
	"github.com/pichain/pichain/kvstore"
	"github.com/pichain/pichain/node"
	"github.com/pichain/pichain/transport"
)

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

func TestKVStorePutPropagatesToEveryReplica(t *testing.T) {
	const n = 3
	net := transport.NewNetwork()

	peers := make(map[string]config.PeerAddr, n)
	for i := int64(0); i < n; i++ {
		peers[itoa(i)] = config.PeerAddr{Host: "127.0.0.1", Port: int(7200 + i)}
	}

	stores := make([]*kvstore.Store, n)
	var nodes []*node.Node
	for i := int64(0); i < n; i++ {
		cfg := config.DefaultConfig()
		cfg.NodeIndex = i
		cfg.Peers = peers
		cfg.AccumulationTimeMS = 5
		cfg.DataDir = filepath.Join(t.TempDir(), "replica-"+itoa(i))

		var peerIdx []int64
		for j := int64(0); j < n; j++ {
			if j != i {
				peerIdx = append(peerIdx, j)
			}
		}
		mem := transport.NewMemory(net, i, peerIdx)

		nd, err := node.New(cfg, node.Options{Transport: mem})
		if err != nil {
			t.Fatalf("node.New(%d): %v", i, err)
		}
		stores[i] = kvstore.New(nd)
		nodes = append(nodes, nd)
	}

	for _, nd := range nodes {
		if err := nd.Start(""); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	t.Cleanup(func() {
		for _, nd := range nodes {
			_ = nd.Stop()
		}
	})

	if err := stores[0].Put("color", "blue"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		allSet := true
		for _, s := range stores {
			v, ok := s.Get("color")
			if !ok || v != "blue" {
				allSet = false
			}
		}
		if allSet {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for every replica's kvstore to converge")
}

func TestKVStorePutRejectsWhitespace(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.NodeIndex = 0
	cfg.Peers = map[string]config.PeerAddr{
		"0": {Host: "127.0.0.1", Port: 7300},
		"1": {Host: "127.0.0.1", Port: 7301},
		"2": {Host: "127.0.0.1", Port: 7302},
	}
	cfg.DataDir = filepath.Join(t.TempDir(), "kv-reject")

	net := transport.NewNetwork()
	mem := transport.NewMemory(net, 0, []int64{1, 2})
	nd, err := node.New(cfg, node.Options{Transport: mem})
	if err != nil {
		t.Fatalf("node.New: %v", err)
	}
	defer nd.Stop()

	s := kvstore.New(nd)
	if err := s.Put("bad key", "v"); err == nil {
		t.Fatalf("Put must reject a key containing a space")
	}
}
