package pipeline

import (
	"os"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/richochetclementine1315/btc-datadir/pkg/errs"
)

// DiskCache is a UTXOCache backed by an ephemeral LevelDB database, for
// datasets too large to hold comfortably in memory. The
// database lives in a temp directory created by NewDiskCache and is
// destroyed on Close.
type DiskCache struct {
	db  *leveldb.DB
	dir string
}

// NewDiskCache creates a fresh, empty on-disk UTXO cache under a new
// temporary directory beneath baseDir (os.TempDir() if baseDir is empty).
func NewDiskCache(baseDir string) (*DiskCache, error) {
	dir, err := os.MkdirTemp(baseDir, "btc-datadir-utxocache-*")
	if err != nil {
		return nil, errs.Io("creating utxo cache directory", err)
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, errs.KvStore("opening utxo cache", err)
	}
	return &DiskCache{db: db, dir: dir}, nil
}

func (c *DiskCache) InsertOutputs(txid chainhash.Hash, outputs []*wire.TxOut) error {
	batch := new(leveldb.Batch)
	for vout, out := range outputs {
		if out == nil {
			continue
		}
		value, err := encodeTxOut(out)
		if err != nil {
			return err
		}
		batch.Put(utxoKey(txid, uint32(vout)), value)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := c.db.Write(batch, nil); err != nil {
		return errs.KvStore("writing utxo cache entries", err)
	}
	return nil
}

func (c *DiskCache) Take(txid chainhash.Hash, vout uint32) (*wire.TxOut, bool, error) {
	key := utxoKey(txid, vout)
	value, err := c.db.Get(key, nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, errs.KvStore("reading utxo cache entry", err)
	}
	out, err := decodeTxOut(value)
	if err != nil {
		return nil, false, err
	}
	if err := c.db.Delete(key, nil); err != nil {
		return nil, false, errs.KvStore("deleting utxo cache entry", err)
	}
	return out, true, nil
}

func (c *DiskCache) Len() (int, error) {
	iter := c.db.NewIterator(nil, nil)
	defer iter.Release()
	n := 0
	for iter.Next() {
		n++
	}
	if err := iter.Error(); err != nil {
		return 0, errs.KvStore("iterating utxo cache", err)
	}
	return n, nil
}

// Close closes the underlying database and removes its temp directory.
func (c *DiskCache) Close() error {
	closeErr := c.db.Close()
	if err := os.RemoveAll(c.dir); err != nil && closeErr == nil {
		closeErr = errs.Io("removing utxo cache directory", err)
	}
	return closeErr
}
