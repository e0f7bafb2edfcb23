// Package engine owns namespaces and everything that happens inside
// them: the items arena, the index registry, query execution with
// joins and aggregations, transactions with the copy-on-write commit
// path, the per-namespace WAL and replication state, and the
// background optimization routine.
package engine

import (
	"time"

	"github.com/thedenisnikulin/reindexer/wal"
)

// Logger is a simple interface for logging.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// noopLogger is a default logger that does nothing.
type noopLogger struct{}

func (l *noopLogger) Infof(format string, args ...interface{})  {}
func (l *noopLogger) Warnf(format string, args ...interface{})  {}
func (l *noopLogger) Errorf(format string, args ...interface{}) {}

// NoopLogger returns a logger that discards everything.
func NoopLogger() Logger { return &noopLogger{} }

// Config carries per-namespace settings.
type Config struct {
	// WALCapacity is the ring size of the in-memory WAL.
	WALCapacity int
	// ServerID is stamped into every produced LSN.
	ServerID int16
	// OptimizationTimeout is the idle period after the last write before
	// the background routine starts index optimization.
	OptimizationTimeout time.Duration
	// OptimizationSortWorkers caps the workers building sort orders.
	OptimizationSortWorkers int
	// JoinCacheSize and QueryCountCacheSize size the per-namespace caches.
	JoinCacheSize       int
	QueryCountCacheSize int
	Logger              Logger
}

// DefaultConfig returns the settings used when none are supplied.
func DefaultConfig() Config {
	return Config{
		WALCapacity:             wal.DefaultCapacity,
		OptimizationTimeout:     800 * time.Millisecond,
		OptimizationSortWorkers: 4,
		JoinCacheSize:           256,
		QueryCountCacheSize:     256,
		Logger:                  NoopLogger(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.WALCapacity <= 0 {
		c.WALCapacity = def.WALCapacity
	}
	if c.OptimizationTimeout <= 0 {
		c.OptimizationTimeout = def.OptimizationTimeout
	}
	if c.OptimizationSortWorkers <= 0 {
		c.OptimizationSortWorkers = def.OptimizationSortWorkers
	}
	if c.JoinCacheSize <= 0 {
		c.JoinCacheSize = def.JoinCacheSize
	}
	if c.QueryCountCacheSize <= 0 {
		c.QueryCountCacheSize = def.QueryCountCacheSize
	}
	if c.Logger == nil {
		c.Logger = def.Logger
	}
	return c
}
