package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/richochetclementine1315/btc-datadir/internal/config"
	"github.com/richochetclementine1315/btc-datadir/pkg/blockfile"
	"github.com/richochetclementine1315/btc-datadir/pkg/blockindex"
	"github.com/richochetclementine1315/btc-datadir/pkg/blocktypes"
	"github.com/richochetclementine1315/btc-datadir/pkg/errs"
)

func TestMemCacheInsertTakeLen(t *testing.T) {
	c := NewMemCache()
	var txid chainhash.Hash
	txid[0] = 0x11

	require.NoError(t, c.InsertOutputs(txid, []*wire.TxOut{
		{Value: 10, PkScript: []byte{0x01}},
		nil,
		{Value: 20, PkScript: []byte{0x02}},
	}))
	n, err := c.Len()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	out, found, err := c.Take(txid, 0)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(10), out.Value)

	n, err = c.Len()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, found, err = c.Take(txid, 1)
	require.NoError(t, err)
	require.False(t, found)

	_, found, err = c.Take(txid, 0)
	require.NoError(t, err)
	require.False(t, found, "already taken")

	var other chainhash.Hash
	other[0] = 0x22
	_, found, err = c.Take(other, 0)
	require.NoError(t, err)
	require.False(t, found)
}

func TestDiskCacheInsertTakeLen(t *testing.T) {
	c, err := NewDiskCache(t.TempDir())
	require.NoError(t, err)

	var txid chainhash.Hash
	txid[0] = 0xAA
	require.NoError(t, c.InsertOutputs(txid, []*wire.TxOut{
		{Value: 100, PkScript: []byte{0xAB, 0xCD}},
	}))

	n, err := c.Len()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	out, found, err := c.Take(txid, 0)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(100), out.Value)
	require.Equal(t, []byte{0xAB, 0xCD}, out.PkScript)

	n, err = c.Len()
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.NoError(t, c.Close())
}

func writeCoreVarInt(buf *bytes.Buffer, n uint64) {
	var tmp [10]byte
	l := len(tmp) - 1
	tmp[l] = byte(n & 0x7f)
	for n > 0x7f {
		n = (n >> 7) - 1
		l--
		tmp[l] = byte(n&0x7f) | 0x80
	}
	buf.Write(tmp[l:])
}

type fixtureRecord struct {
	height  int32
	dataPos uint32
	nTx     uint32
	header  wire.BlockHeader
}

func encodeFixtureRecord(t *testing.T, rec fixtureRecord) []byte {
	t.Helper()
	var buf bytes.Buffer
	writeCoreVarInt(&buf, 1)                                                // version
	writeCoreVarInt(&buf, uint64(uint32(rec.height)))                       // height
	writeCoreVarInt(&buf, uint64(blockindex.ValidMask|blockindex.HaveData)) // status
	writeCoreVarInt(&buf, uint64(rec.nTx))                                  // n_tx
	writeCoreVarInt(&buf, 0)                                                // file_index
	writeCoreVarInt(&buf, uint64(rec.dataPos))                              // data_pos
	require.NoError(t, rec.header.Serialize(&buf))
	return buf.Bytes()
}

// buildFixture lays out a three-block chain on disk. Height 0 is the
// genesis block (coinbase only; its output is unspendable and never
// inserted into the UTXO cache). Height 1 is a coinbase producing one
// spendable output.
// Height 2 is a coinbase plus a transaction spending height 1's coinbase
// output. Returns the opened block-file index and chain.
func buildFixture(t *testing.T) (*blockfile.Index, *blockindex.Chain) {
	t.Helper()
	dir := t.TempDir()
	blocksDir := filepath.Join(dir, "blocks")
	require.NoError(t, os.MkdirAll(blocksDir, 0o755))

	coinbase0 := wire.NewMsgTx(wire.TxVersion)
	coinbase0.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 0xFFFFFFFF}, SignatureScript: []byte{0x01}, Sequence: wire.MaxTxInSequenceNum})
	coinbase0.AddTxOut(&wire.TxOut{Value: 5_000_000_000, PkScript: []byte{0x51}})

	block0 := wire.MsgBlock{Header: wire.BlockHeader{Version: 1}}
	block0.AddTransaction(coinbase0)
	genesisHash := block0.Header.BlockHash()

	coinbase1 := wire.NewMsgTx(wire.TxVersion)
	coinbase1.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 0xFFFFFFFF}, SignatureScript: []byte{0x02}, Sequence: wire.MaxTxInSequenceNum})
	coinbase1.AddTxOut(&wire.TxOut{Value: 5_000_000_000, PkScript: []byte{0x52}})

	block1 := wire.MsgBlock{Header: wire.BlockHeader{Version: 1, PrevBlock: genesisHash}}
	block1.AddTransaction(coinbase1)
	h1Hash := block1.Header.BlockHash()

	coinbase2 := wire.NewMsgTx(wire.TxVersion)
	coinbase2.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 0xFFFFFFFF}, SignatureScript: []byte{0x04}, Sequence: wire.MaxTxInSequenceNum})
	coinbase2.AddTxOut(&wire.TxOut{Value: 5_000_000_000, PkScript: []byte{0x54}})

	spend := wire.NewMsgTx(wire.TxVersion)
	spend.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: coinbase1.TxHash(), Index: 0}, SignatureScript: []byte{0x03}, Sequence: wire.MaxTxInSequenceNum})
	spend.AddTxOut(&wire.TxOut{Value: 4_999_999_000, PkScript: []byte{0x53}})

	block2 := wire.MsgBlock{Header: wire.BlockHeader{Version: 1, PrevBlock: h1Hash}}
	block2.AddTransaction(coinbase2)
	block2.AddTransaction(spend)
	h2Hash := block2.Header.BlockHash()

	var fileBuf bytes.Buffer
	dataPos := make(map[int32]uint32)
	appendBlock := func(height int32, blk *wire.MsgBlock) {
		var b bytes.Buffer
		require.NoError(t, blk.Serialize(&b))
		var magic [4]byte
		binary.LittleEndian.PutUint32(magic[:], 0xD9B4BEF9)
		fileBuf.Write(magic[:])
		var size [4]byte
		binary.LittleEndian.PutUint32(size[:], uint32(b.Len()))
		fileBuf.Write(size[:])
		dataPos[height] = uint32(fileBuf.Len())
		fileBuf.Write(b.Bytes())
	}
	appendBlock(0, &block0)
	appendBlock(1, &block1)
	appendBlock(2, &block2)

	require.NoError(t, os.WriteFile(filepath.Join(blocksDir, "blk00000.dat"), fileBuf.Bytes(), 0o644))

	blocks, err := blockfile.Open(blocksDir)
	require.NoError(t, err)

	indexDir := filepath.Join(dir, "index")
	db, err := leveldb.OpenFile(indexDir, nil)
	require.NoError(t, err)

	rec0 := encodeFixtureRecord(t, fixtureRecord{height: 0, dataPos: dataPos[0], nTx: 1, header: block0.Header})
	rec1 := encodeFixtureRecord(t, fixtureRecord{height: 1, dataPos: dataPos[1], nTx: 1, header: block1.Header})
	rec2 := encodeFixtureRecord(t, fixtureRecord{height: 2, dataPos: dataPos[2], nTx: 2, header: block2.Header})
	require.NoError(t, db.Put(append([]byte{'b'}, genesisHash[:]...), rec0, nil))
	require.NoError(t, db.Put(append([]byte{'b'}, h1Hash[:]...), rec1, nil))
	require.NoError(t, db.Put(append([]byte{'b'}, h2Hash[:]...), rec2, nil))
	require.NoError(t, db.Close())

	chain, err := blockindex.Load(indexDir)
	require.NoError(t, err)

	return blocks, chain
}

func TestPipelineStreamConnectsBlocks(t *testing.T) {
	blocks, chain := buildFixture(t)
	opts, err := config.Options{DataDir: "unused", Workers: 2, QueueDepth: 4, Cache: config.CacheInMemory}.Normalize()
	require.NoError(t, err)

	p := New(blocks, chain, opts)
	cache := NewMemCache()
	p.newCache = func() (UTXOCache, error) { return cache, nil }

	out, stop := p.Stream(context.Background(), []int32{0, 1, 2})
	defer stop()

	var got []blocktypes.ConnectedBlock
	for item := range out {
		require.NoError(t, item.Err)
		got = append(got, item.Val)
	}
	require.Len(t, got, 3)
	require.Len(t, got[0].Transactions, 1)
	require.Len(t, got[1].Transactions, 1)
	require.Len(t, got[2].Transactions, 2)

	// Coinbase transactions connect to nothing.
	for _, blk := range got {
		require.Empty(t, blk.Transactions[0].Inputs)
	}

	// Height 2's spend is joined to height 1's coinbase output.
	spend := got[2].Transactions[1]
	require.Len(t, spend.Inputs, 1)
	require.Equal(t, int64(5_000_000_000), spend.Inputs[0].PrevOut.Value)
	require.Equal(t, []byte{0x52}, spend.Inputs[0].PrevOut.PkScript)

	// Still cached: height 2's coinbase output and the spend's own output.
	// Height 0's coinbase was never inserted, height 1's was consumed.
	n, err := cache.Len()
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestPipelineStreamReportsUnresolvedOutpoint(t *testing.T) {
	blocks, chain := buildFixture(t)
	opts, err := config.Options{DataDir: "unused", Workers: 1, QueueDepth: 2, Cache: config.CacheOnDisk}.Normalize()
	require.NoError(t, err)

	p := New(blocks, chain, opts)
	// Stream only height 2, skipping height 1: its spend references height
	// 1's coinbase output, which was never inserted since height 1 was
	// never processed. The stream must end with an unresolved-outpoint error.
	out, stop := p.Stream(context.Background(), []int32{2})
	defer stop()

	var lastErr error
	count := 0
	for item := range out {
		count++
		lastErr = item.Err
	}
	require.Equal(t, 1, count)
	require.ErrorIs(t, lastErr, errs.ErrOutpointUnresolved)
}

func TestPipelineStreamFullBlocksOrderAndHalt(t *testing.T) {
	blocks, chain := buildFixture(t)
	opts, err := config.Options{DataDir: "unused", Workers: 2, QueueDepth: 4}.Normalize()
	require.NoError(t, err)

	p := New(blocks, chain, opts)

	// Out-of-order, repeated heights: emission order must match input order.
	out, stop := p.StreamFullBlocks(context.Background(), []int32{2, 0, 0, 1})
	var sizes []int
	for item := range out {
		require.NoError(t, item.Err)
		sizes = append(sizes, len(item.Val.Transactions))
	}
	stop()
	require.Equal(t, []int{2, 1, 1, 1}, sizes)

	// A height past the end of the chain halts the stream at that point.
	out2, stop2 := p.StreamFullBlocks(context.Background(), []int32{0, 99})
	defer stop2()
	var got []Result[blocktypes.Full]
	for item := range out2 {
		got = append(got, item)
	}
	require.Len(t, got, 2)
	require.NoError(t, got[0].Err)
	require.Error(t, got[1].Err)
}
