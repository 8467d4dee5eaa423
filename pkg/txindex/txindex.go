// Package txindex is an optional lookup of txid -> on-disk position,
// backed by the node's indexes/txindex/ LevelDB store, plus the derived
// txid -> block-height mapping.
package txindex

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/richochetclementine1315/btc-datadir/internal/logger"
	"github.com/richochetclementine1315/btc-datadir/pkg/blockindex"
	"github.com/richochetclementine1315/btc-datadir/pkg/errs"
)

const txIndexKeyPrefix = 't'

// GenesisTxid is Bitcoin Core's hard-coded genesis-transaction id. The
// txindex never contains an entry for it.
var GenesisTxid = mustHash("4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b")

func mustHash(hex string) chainhash.Hash {
	h, err := chainhash.NewHashFromStr(hex)
	if err != nil {
		panic(err)
	}
	return *h
}

// Position is the on-disk location of one transaction.
type Position struct {
	FileIndex int32
	DataPos   uint32
	TxOffset  uint32
}

// Index is the optional tx-index lookup. A nil *Index (or one for which
// Open failed) answers every query with errs.ErrTxDbUnavailable.
type Index struct {
	db              *leveldb.DB
	heightByDataPos map[dataPosKey]int32
}

type dataPosKey struct {
	fileIndex int32
	dataPos   uint32
}

// Open opens the LevelDB store at txIndexDir (typically
// <datadir>/indexes/txindex) and precomputes the (file_index, data_pos) ->
// height map from chain's records, so GetBlockHeight needs no further I/O.
func Open(txIndexDir string, chain *blockindex.Chain) (*Index, error) {
	db, err := leveldb.OpenFile(txIndexDir, &opt.Options{ReadOnly: true})
	if err != nil {
		return nil, errs.KvStore("opening tx index", err)
	}

	idx := &Index{db: db, heightByDataPos: make(map[dataPosKey]int32)}
	for h := int32(0); h < chain.Len(); h++ {
		rec, err := chain.RecordAt(h)
		if err != nil {
			continue
		}
		idx.heightByDataPos[dataPosKey{rec.FileIndex, rec.DataPos}] = h
	}
	logger.Info("opened transaction index", logger.Int("positions", len(idx.heightByDataPos)))
	return idx, nil
}

// Close releases the underlying LevelDB handle.
func (idx *Index) Close() error {
	if idx == nil || idx.db == nil {
		return nil
	}
	return idx.db.Close()
}

// GetTxPosition looks up the on-disk position of txid.
func (idx *Index) GetTxPosition(txid chainhash.Hash) (Position, error) {
	if idx == nil || idx.db == nil {
		return Position{}, errs.ErrTxDbUnavailable
	}
	key := make([]byte, 0, 33)
	key = append(key, txIndexKeyPrefix)
	key = append(key, txid[:]...)

	value, err := idx.db.Get(key, nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return Position{}, errs.TransactionRecordNotFound(txid)
		}
		return Position{}, errs.KvStore("reading tx index", err)
	}

	r := bytes.NewReader(value)
	fileIndex, err := blockindex.ReadCoreVarInt(r)
	if err != nil {
		return Position{}, errs.Decode("tx index file_index", err)
	}
	dataPos, err := blockindex.ReadCoreVarInt(r)
	if err != nil {
		return Position{}, errs.Decode("tx index data_pos", err)
	}
	txOffset, err := blockindex.ReadCoreVarInt(r)
	if err != nil {
		return Position{}, errs.Decode("tx index tx_offset", err)
	}
	return Position{FileIndex: int32(fileIndex), DataPos: uint32(dataPos), TxOffset: uint32(txOffset)}, nil
}

// IsGenesisTx reports whether txid is Bitcoin Core's genesis transaction.
func IsGenesisTx(txid chainhash.Hash) bool {
	return txid == GenesisTxid
}

// GetBlockHeight derives the height containing txid by cross-referencing
// the block index. Returns 0 directly for the genesis txid without any
// lookup, since the txindex never records it.
func (idx *Index) GetBlockHeight(txid chainhash.Hash) (int32, error) {
	if IsGenesisTx(txid) {
		return 0, nil
	}
	if idx == nil || idx.db == nil {
		return 0, errs.ErrTxDbUnavailable
	}
	pos, err := idx.GetTxPosition(txid)
	if err != nil {
		return 0, err
	}
	h, ok := idx.heightByDataPos[dataPosKey{pos.FileIndex, pos.DataPos}]
	if !ok {
		return 0, errs.CannotFindHeightForTransaction(txid)
	}
	return h, nil
}
