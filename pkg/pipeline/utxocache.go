// Package pipeline is the ordered-parallel pipeline that turns a stream of
// raw blocks into connected blocks, joining every non-coinbase input to the
// output it spends.
package pipeline

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/richochetclementine1315/btc-datadir/pkg/errs"
)

// UTXOCache is the pipeline's working set: outputs inserted by stage 1 and
// taken (looked up and removed in one step) by stage 2. Implementations
// must be safe for concurrent Insert/Take from many goroutines.
type UTXOCache interface {
	// InsertOutputs records every non-nil output of one transaction. A nil
	// entry in outputs (an unspendable/pruned output) is skipped.
	InsertOutputs(txid chainhash.Hash, outputs []*wire.TxOut) error
	// Take removes and returns the output at (txid, vout), if present.
	Take(txid chainhash.Hash, vout uint32) (*wire.TxOut, bool, error)
	// Len reports the number of outputs still cached; after a full stream
	// that is the number of outputs no streamed block has spent.
	Len() (int, error)
	Close() error
}

// txSlots holds the outputs of a single transaction, indexed by vout. A nil
// slot means "absent or already taken".
type txSlots struct {
	mu   sync.Mutex
	outs []*wire.TxOut
	live int
}

// MemCache is an in-memory UTXOCache. Keys are sharded by the txid's first
// byte — txids are already cryptographic hashes, so reusing a byte of hash
// as the shard selector avoids hashing the key a second time.
// Two lock levels are used: the shard map lock is held only while looking
// up, inserting or removing a transaction's slot container; the
// per-transaction lock is held only while touching that transaction's
// outputs. The one nesting is in Take: before removing an emptied container,
// the shard lock is held while the container's lock re-checks its live count.
type MemCache struct {
	shards [256]*shard
}

type shard struct {
	mu sync.Mutex
	m  map[chainhash.Hash]*txSlots
}

// NewMemCache creates an empty in-memory UTXO cache.
func NewMemCache() *MemCache {
	c := &MemCache{}
	for i := range c.shards {
		c.shards[i] = &shard{m: make(map[chainhash.Hash]*txSlots)}
	}
	return c
}

func (c *MemCache) shardFor(txid chainhash.Hash) *shard {
	return c.shards[txid[0]]
}

func (c *MemCache) InsertOutputs(txid chainhash.Hash, outputs []*wire.TxOut) error {
	anyLive := false
	for _, out := range outputs {
		if out != nil {
			anyLive = true
			break
		}
	}
	if !anyLive {
		return nil
	}

	sh := c.shardFor(txid)
	sh.mu.Lock()
	slots, ok := sh.m[txid]
	if !ok {
		slots = &txSlots{}
		sh.m[txid] = slots
	}
	sh.mu.Unlock()

	slots.mu.Lock()
	if len(slots.outs) < len(outputs) {
		grown := make([]*wire.TxOut, len(outputs))
		copy(grown, slots.outs)
		slots.outs = grown
	}
	for vout, out := range outputs {
		if out == nil {
			continue
		}
		if slots.outs[vout] == nil {
			slots.live++
		}
		slots.outs[vout] = out
	}
	slots.mu.Unlock()
	return nil
}

func (c *MemCache) Take(txid chainhash.Hash, vout uint32) (*wire.TxOut, bool, error) {
	sh := c.shardFor(txid)
	sh.mu.Lock()
	slots, ok := sh.m[txid]
	sh.mu.Unlock()
	if !ok {
		return nil, false, nil
	}

	slots.mu.Lock()
	var out *wire.TxOut
	found := false
	if int(vout) < len(slots.outs) && slots.outs[vout] != nil {
		out = slots.outs[vout]
		slots.outs[vout] = nil
		slots.live--
		found = true
	}
	empty := slots.live == 0
	slots.mu.Unlock()

	if empty {
		sh.mu.Lock()
		if cur, ok := sh.m[txid]; ok && cur == slots {
			cur.mu.Lock()
			if cur.live == 0 {
				delete(sh.m, txid)
			}
			cur.mu.Unlock()
		}
		sh.mu.Unlock()
	}

	if !found {
		return nil, false, nil
	}
	return out, true, nil
}

func (c *MemCache) Len() (int, error) {
	total := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		for _, slots := range sh.m {
			slots.mu.Lock()
			total += slots.live
			slots.mu.Unlock()
		}
		sh.mu.Unlock()
	}
	return total, nil
}

func (c *MemCache) Close() error { return nil }

// encodeTxOut consensus-encodes a TxOut's value and pkScript, for storage
// as a UTXO cache entry.
func encodeTxOut(out *wire.TxOut) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, out.Value); err != nil {
		return nil, errs.Io("encoding utxo cache value", err)
	}
	if err := wire.WriteVarBytes(&buf, 0, out.PkScript); err != nil {
		return nil, errs.Io("encoding utxo cache pkScript", err)
	}
	return buf.Bytes(), nil
}

func decodeTxOut(data []byte) (*wire.TxOut, error) {
	r := bytes.NewReader(data)
	var value int64
	if err := binary.Read(r, binary.LittleEndian, &value); err != nil {
		return nil, errs.Decode("utxo cache value", err)
	}
	script, err := wire.ReadVarBytes(r, 0, wire.MaxMessagePayload, "pkScript")
	if err != nil {
		return nil, errs.Decode("utxo cache pkScript", err)
	}
	return &wire.TxOut{Value: value, PkScript: script}, nil
}

// utxoKey builds the 36-byte (32-byte txid + 4-byte little-endian vout) key
// used by the on-disk cache variant.
func utxoKey(txid chainhash.Hash, vout uint32) []byte {
	key := make([]byte, 36)
	copy(key, txid[:])
	binary.LittleEndian.PutUint32(key[32:], vout)
	return key
}
