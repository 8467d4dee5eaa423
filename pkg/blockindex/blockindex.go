// Package blockindex loads the block-index records out of a node's
// blocks/index/ LevelDB store and reconstructs the longest chain by walking
// parent-hash links from the max-height record backwards.
package blockindex

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/richochetclementine1315/btc-datadir/internal/logger"
	"github.com/richochetclementine1315/btc-datadir/pkg/errs"
)

// Status bitmask constants, as defined by Bitcoin Core (src/chain.h).
const (
	ValidHeader       uint32 = 1
	ValidTree         uint32 = 2
	ValidTransactions uint32 = 3
	ValidChain        uint32 = 4
	ValidScripts      uint32 = 5
	ValidMask         uint32 = ValidHeader | ValidTree | ValidTransactions | ValidChain | ValidScripts
	HaveData          uint32 = 8
	HaveUndo          uint32 = 16
)

// NoPos marks an absent data_pos/undo_pos.
const NoPos uint32 = 0xFFFFFFFF

// blockIndexKeyPrefix is the leading byte of every block-index record key.
const blockIndexKeyPrefix = 'b'

// Record is one block-index entry: one validated block's metadata and header.
type Record struct {
	Version   int32
	Height    int32
	Status    uint32
	NTx       uint32
	FileIndex int32 // -1 if neither data nor undo present
	DataPos   uint32
	UndoPos   uint32
	Header    wire.BlockHeader
}

// IsValid reports whether the record may enter the chain: genesis always
// may; anything else needs scripts validated and block data on disk.
func (r *Record) IsValid() bool {
	return r.Height == 0 || (r.Status&ValidMask >= ValidScripts && r.Status&HaveData != 0)
}

// HasData reports whether n_tx > 0, i.e. the block's transactions were
// actually downloaded rather than just its header.
func (r *Record) HasData() bool {
	return r.NTx > 0
}

func decodeRecord(value []byte) (*Record, error) {
	r := bytes.NewReader(value)
	var rec Record

	readVarint := func() (uint64, error) { return ReadCoreVarInt(r) }

	v, err := readVarint()
	if err != nil {
		return nil, errs.Decode("block index version", err)
	}
	rec.Version = int32(v)

	v, err = readVarint()
	if err != nil {
		return nil, errs.Decode("block index height", err)
	}
	rec.Height = int32(v)

	v, err = readVarint()
	if err != nil {
		return nil, errs.Decode("block index status", err)
	}
	rec.Status = uint32(v)

	v, err = readVarint()
	if err != nil {
		return nil, errs.Decode("block index n_tx", err)
	}
	rec.NTx = uint32(v)

	if rec.Status&(HaveData|HaveUndo) != 0 {
		v, err = readVarint()
		if err != nil {
			return nil, errs.Decode("block index file_index", err)
		}
		rec.FileIndex = int32(v)
	} else {
		rec.FileIndex = -1
	}

	if rec.Status&HaveData != 0 {
		v, err = readVarint()
		if err != nil {
			return nil, errs.Decode("block index data_pos", err)
		}
		rec.DataPos = uint32(v)
	} else {
		rec.DataPos = NoPos
	}

	if rec.Status&HaveUndo != 0 {
		v, err = readVarint()
		if err != nil {
			return nil, errs.Decode("block index undo_pos", err)
		}
		rec.UndoPos = uint32(v)
	} else {
		rec.UndoPos = NoPos
	}

	if err := rec.Header.Deserialize(r); err != nil {
		return nil, errs.Decode("block index header", err)
	}
	return &rec, nil
}

// Chain is the reconstructed longest chain: an ordered slice indexed by
// height, plus a total header-hash -> height map covering every reachable
// record.
type Chain struct {
	byHeight     []*Record
	hashToHeight map[chainhash.Hash]int32
}

// Load opens the LevelDB store at indexDir (typically <datadir>/blocks/index)
// read-only, scans every 'b'-prefixed record, keeps the valid ones, and
// walks the longest chain back from the max-height record.
func Load(indexDir string) (*Chain, error) {
	db, err := leveldb.OpenFile(indexDir, &opt.Options{ReadOnly: true})
	if err != nil {
		return nil, errs.KvStore("opening block index", err)
	}
	defer db.Close()

	byHash := make(map[chainhash.Hash]*Record)
	var maxHeight int32 = -1
	var maxHash chainhash.Hash

	iter := db.NewIterator(nil, nil)
	defer iter.Release()

	for iter.Next() {
		key := iter.Key()
		if len(key) == 0 || key[0] != blockIndexKeyPrefix {
			continue
		}
		// value's lifetime ends at the next iter.Next() call; copy it.
		value := append([]byte(nil), iter.Value()...)
		rec, err := decodeRecord(value)
		if err != nil {
			return nil, err
		}
		if !rec.IsValid() {
			continue
		}
		hash := chainhash.Hash(rec.Header.BlockHash())
		byHash[hash] = rec
		if rec.Height > maxHeight {
			maxHeight = rec.Height
			maxHash = hash
		}
	}
	if err := iter.Error(); err != nil {
		return nil, errs.KvStore("iterating block index", err)
	}

	if maxHeight < 0 {
		return &Chain{hashToHeight: map[chainhash.Hash]int32{}}, nil
	}

	// Walk parents from the max-height record back to genesis, asserting
	// monotonically decreasing height; a broken link means a corrupt
	// datadir, which is fatal.
	ordered := make([]*Record, 0, maxHeight+1)
	cur, ok := byHash[maxHash]
	if !ok {
		panic("blockindex: max-height record vanished mid-walk")
	}
	for {
		ordered = append(ordered, cur)
		if cur.Height == 0 {
			break
		}
		parentHash := chainhash.Hash(cur.Header.PrevBlock)
		parent, ok := byHash[parentHash]
		if !ok {
			panic(fmt.Sprintf("blockindex: corrupt datadir, missing parent of height %d", cur.Height))
		}
		if parent.Height != cur.Height-1 {
			panic(fmt.Sprintf("blockindex: corrupt datadir, parent height %d is not %d-1", parent.Height, cur.Height))
		}
		cur = parent
	}
	// reverse in place
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}

	hashToHeight := make(map[chainhash.Hash]int32, len(byHash))
	for h, r := range byHash {
		hashToHeight[h] = r.Height
	}

	logger.Info("loaded block index", logger.Int32("chain_height", maxHeight), logger.Int("total_records", len(byHash)))

	return &Chain{byHeight: ordered, hashToHeight: hashToHeight}, nil
}

// BlockCount returns the largest h such that every block [0,h) has
// transaction data present.
func (c *Chain) BlockCount() int32 {
	for i, r := range c.byHeight {
		if !r.HasData() {
			return int32(i)
		}
	}
	return int32(len(c.byHeight))
}

// RecordAt returns the longest-chain record at the given height.
func (c *Chain) RecordAt(height int32) (*Record, error) {
	if height < 0 || int(height) >= len(c.byHeight) {
		return nil, errs.BlockIndexRecordNotFound(height)
	}
	return c.byHeight[height], nil
}

// HeightOfHash returns the height for a header hash, searching the total
// reachable set (not just the longest chain slice).
func (c *Chain) HeightOfHash(hash chainhash.Hash) (int32, error) {
	h, ok := c.hashToHeight[hash]
	if !ok {
		return 0, errs.BlockHashNotFound(hash)
	}
	return h, nil
}

// Len is the total number of records in the longest chain (including
// header-only blocks with n_tx == 0).
func (c *Chain) Len() int32 {
	return int32(len(c.byHeight))
}
