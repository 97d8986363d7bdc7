package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pichain/pichain/config"
)

func threePeerConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.NodeIndex = 0
	cfg.Peers = map[string]config.PeerAddr{
		"0": {Host: "127.0.0.1", Port: 7000},
		"1": {Host: "127.0.0.1", Port: 7001},
		"2": {Host: "127.0.0.1", Port: 7002},
	}
	return cfg
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := threePeerConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := cfg.PeerCount(); got != 3 {
		t.Fatalf("PeerCount = %d, want 3", got)
	}
}

func TestValidateRejectsTooFewPeers(t *testing.T) {
	cfg := threePeerConfig()
	delete(cfg.Peers, "2")
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate must reject a 2-peer cluster (cannot tolerate any failure)")
	}
}

func TestValidateRejectsMissingOwnIndex(t *testing.T) {
	cfg := threePeerConfig()
	cfg.NodeIndex = 9
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate must reject a node index absent from the peer table")
	}
}

func TestValidateRejectsNonPositiveMaxTxnCount(t *testing.T) {
	cfg := threePeerConfig()
	cfg.MaxTxnCount = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate must reject a non-positive max_txn_count")
	}
}

func TestValidateRejectsEmptyDataDir(t *testing.T) {
	cfg := threePeerConfig()
	cfg.DataDir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate must reject an empty data_dir")
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
node_index: 1
data_dir: ` + filepath.Join(dir, "data") + `
peers:
  "0":
    host: 127.0.0.1
    port: 7000
  "1":
    host: 127.0.0.1
    port: 7001
  "2":
    host: 127.0.0.1
    port: 7002
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := config.Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NodeIndex != 1 {
		t.Fatalf("NodeIndex = %d, want 1", cfg.NodeIndex)
	}
	if cfg.PeerCount() != 3 {
		t.Fatalf("PeerCount = %d, want 3", cfg.PeerCount())
	}
	if cfg.MaxTxnCount != 7500 {
		t.Fatalf("MaxTxnCount = %d, want the default 7500 to survive an unset file field", cfg.MaxTxnCount)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatalf("Load must error on a config file that does not exist")
	}
}
