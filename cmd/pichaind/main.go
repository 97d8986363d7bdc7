// Command pichaind starts a single piChain replica from a config file.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pichain/pichain/config"
	"github.com/pichain/pichain/node"
	"github.com/pichain/pichain/pichainlog"
)

func main() {
	var cfgPath string
	var listenAddr string
	var logLevel string
	var jsonLogs bool

	root := &cobra.Command{
		Use:   "pichaind",
		Short: "Run a piChain replicated-log replica",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath, listenAddr, logLevel, jsonLogs, cmd.Flags())
		},
	}

	flags := root.Flags()
	flags.StringVar(&cfgPath, "config", "config.yaml", "path to config file")
	flags.StringVar(&listenAddr, "listen", ":7000", "address to listen on for peer connections")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.BoolVar(&jsonLogs, "log-json", false, "emit structured JSON logs instead of console output")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgPath, listenAddr, logLevel string, jsonLogs bool, fs *pflag.FlagSet) error {
	pichainlog.Init(logLevel, jsonLogs)

	cfg, err := loadConfig(cfgPath, fs)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	n, err := node.New(cfg, node.Options{})
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}

	n.OnCommit(func(commands []string) {
		for _, cmd := range commands {
			pichainlog.Pipeline.Info().Str("command", cmd).Msg("committed")
		}
	})

	if err := n.Start(listenAddr); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	go readStdinCommands(n)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	pichainlog.Pipeline.Info().Msg("shutting down")
	return n.Stop()
}

// readStdinCommands lets an operator submit ad-hoc transactions by typing
// lines on stdin, matching the original's interactive REPL mode.
func readStdinCommands(n *node.Node) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		n.Submit(line)
	}
}

func loadConfig(path string, fs *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(path, fs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			pichainlog.Pipeline.Warn().Str("path", path).Msg("config file not found, using defaults")
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}
