// Package pichainlog provides structured logging for a replica, adapted
// from klingnet's internal/log package: one global logger plus a
// component logger per subsystem.
package pichainlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the base logger every component logger derives from.
var Logger zerolog.Logger

// Component loggers, one per package that does meaningful work.
var (
	BlockTree = Logger.With().Str("component", "blocktree").Logger()
	Role      = Logger.With().Str("component", "role").Logger()
	Paxos     = Logger.With().Str("component", "paxos").Logger()
	Pipeline  = Logger.With().Str("component", "pipeline").Logger()
	Transport = Logger.With().Str("component", "transport").Logger()
	RTT       = Logger.With().Str("component", "rtt").Logger()
	Storage   = Logger.With().Str("component", "storage").Logger()
)

func init() {
	Logger = NewConsoleLogger(os.Stdout, "info")
	initComponentLoggers()
}

// Init reconfigures the base and component loggers: level is one of
// debug/info/warn/error, jsonOutput selects structured JSON over colored
// console output.
func Init(level string, jsonOutput bool) {
	if jsonOutput {
		Logger = NewJSONLogger(os.Stdout, level)
	} else {
		Logger = NewConsoleLogger(os.Stdout, level)
	}
	initComponentLoggers()
}

// NewConsoleLogger creates a colored console logger writing to w.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	return zerolog.New(output).Level(parseLevel(level)).With().Timestamp().Logger()
}

// NewJSONLogger creates a structured JSON logger writing to w.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func initComponentLoggers() {
	BlockTree = Logger.With().Str("component", "blocktree").Logger()
	Role = Logger.With().Str("component", "role").Logger()
	Paxos = Logger.With().Str("component", "paxos").Logger()
	Pipeline = Logger.With().Str("component", "pipeline").Logger()
	Transport = Logger.With().Str("component", "transport").Logger()
	RTT = Logger.With().Str("component", "rtt").Logger()
	Storage = Logger.With().Str("component", "storage").Logger()
}

// WithReplica returns logger with a replica_index field attached, for
// telling replicas apart when several run in one process.
func WithReplica(logger zerolog.Logger, nodeIndex int64) zerolog.Logger {
	return logger.With().Int64("replica_index", nodeIndex).Logger()
}
