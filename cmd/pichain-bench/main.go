// Command pichain-bench measures commit throughput by submitting a
// configured rate of transactions to a local replica and timing how long
// it takes every one of them to commit, adapted from the original
// project's pichain_performance.py load generator.
package main

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/pichain/pichain/config"
	"github.com/pichain/pichain/node"
	"github.com/pichain/pichain/pichainlog"
)

func main() {
	var cfgPath string
	var listenAddr string
	var rps int
	var iterations int

	root := &cobra.Command{
		Use:   "pichain-bench",
		Short: "Measure piChain commit throughput",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath, listenAddr, rps, iterations)
		},
	}

	flags := root.Flags()
	flags.StringVar(&cfgPath, "config", "config.yaml", "path to config file")
	flags.StringVar(&listenAddr, "listen", ":7000", "address to listen on for peer connections")
	flags.IntVar(&rps, "rps", 4300, "transactions submitted per second")
	flags.IntVar(&iterations, "iterations", 5, "number of one-second batches to send")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgPath, listenAddr string, rps, iterations int) error {
	pichainlog.Init("warn", false)

	cfg, err := config.Load(cfgPath, nil)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	n, err := node.New(cfg, node.Options{})
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}

	total := int64(rps * iterations)
	var committed int64
	done := make(chan struct{})

	n.OnCommit(func(commands []string) {
		if atomic.AddInt64(&committed, int64(len(commands))) >= total {
			select {
			case <-done:
			default:
				close(done)
			}
		}
	})

	if err := n.Start(listenAddr); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer n.Stop()

	start := time.Now()
	for i := 0; i < iterations; i++ {
		batchStart := time.Now()
		for j := 0; j < rps; j++ {
			n.Submit(fmt.Sprintf("put k%d_%d v", i, j))
		}
		elapsed := time.Since(batchStart)
		if elapsed < time.Second {
			time.Sleep(time.Second - elapsed)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Minute):
		fmt.Fprintf(os.Stderr, "timed out waiting for commits: %d/%d committed\n", atomic.LoadInt64(&committed), total)
	}

	fmt.Printf("elapsed time = %s\n", time.Since(start))
	return nil
}
