// Package config holds the handle's open-time options. The module has no
// config file of its own — it only reads another process's datadir — so
// Options is constructed in-process and validated at Open time.
package config

import (
	"fmt"
	"runtime"
)

// CacheVariant selects the UTXO cache implementation for the connected-block
// pipeline.
type CacheVariant int

const (
	// CacheInMemory keeps the UTXO cache in a sharded in-process map.
	CacheInMemory CacheVariant = iota
	// CacheOnDisk keeps the UTXO cache in a temporary LevelDB directory.
	CacheOnDisk
)

// Options configures an open of the datadir handle.
type Options struct {
	// DataDir is the Bitcoin Core node's data directory (the parent of
	// blocks/ and indexes/).
	DataDir string

	// WithTxIndex requests that indexes/txindex/ be opened, if present.
	WithTxIndex bool

	// Workers is the number of parallel worker goroutines per pipeline
	// stage. Zero means NumCPU.
	Workers int

	// QueueDepth bounds the number of in-flight blocks queued between the
	// pipeline's two ordered stages. Zero means 2x Workers.
	QueueDepth int

	// Cache selects the UTXO cache implementation for streamed connects.
	Cache CacheVariant
}

// DefaultOptions returns sane defaults for a datadir at dataDir, tx-index
// enabled, one worker per core, in-memory UTXO cache.
func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:     dataDir,
		WithTxIndex: true,
		Workers:     runtime.NumCPU(),
		Cache:       CacheInMemory,
	}
}

// Normalize fills in zero-valued fields with defaults and validates the rest.
func (o Options) Normalize() (Options, error) {
	if o.DataDir == "" {
		return o, fmt.Errorf("config: DataDir must not be empty")
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 2 * o.Workers
	}
	return o, nil
}
