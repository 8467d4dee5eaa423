package blockindex

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
)

// writeCoreVarInt is the test-only encoder matching ReadCoreVarInt, used to
// build block-index fixtures (the real module only ever reads this format).
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

func encodeRecord(t *testing.T, rec Record) []byte {
	t.Helper()
	var buf bytes.Buffer
	writeCoreVarInt(&buf, uint64(uint32(rec.Version)))
	writeCoreVarInt(&buf, uint64(uint32(rec.Height)))
	writeCoreVarInt(&buf, uint64(rec.Status))
	writeCoreVarInt(&buf, uint64(rec.NTx))
	if rec.Status&(HaveData|HaveUndo) != 0 {
		writeCoreVarInt(&buf, uint64(uint32(rec.FileIndex)))
	}
	if rec.Status&HaveData != 0 {
		writeCoreVarInt(&buf, uint64(rec.DataPos))
	}
	if rec.Status&HaveUndo != 0 {
		writeCoreVarInt(&buf, uint64(rec.UndoPos))
	}
	require.NoError(t, rec.Header.Serialize(&buf))
	return buf.Bytes()
}

func header(prev chainhash.Hash, nonce uint32) wire.BlockHeader {
	return wire.BlockHeader{PrevBlock: prev, Nonce: nonce, Version: 1}
}

func TestLoadReconstructsChain(t *testing.T) {
	dir := t.TempDir()
	db, err := leveldb.OpenFile(dir, nil)
	require.NoError(t, err)

	genesisHeader := header(chainhash.Hash{}, 1)
	genesis := Record{
		Height: 0, Status: ValidMask, NTx: 1,
		FileIndex: 0, DataPos: 100, UndoPos: NoPos,
		Header: genesisHeader,
	}
	genesisHash := genesisHeader.BlockHash()

	h1Header := header(genesisHash, 2)
	h1 := Record{
		Height: 1, Status: ValidMask | HaveData | HaveUndo, NTx: 1,
		FileIndex: 0, DataPos: 200, UndoPos: 50,
		Header: h1Header,
	}
	h1Hash := h1Header.BlockHash()

	require.NoError(t, db.Put(append([]byte{'b'}, genesisHash[:]...), encodeRecord(t, genesis), nil))
	require.NoError(t, db.Put(append([]byte{'b'}, h1Hash[:]...), encodeRecord(t, h1), nil))
	require.NoError(t, db.Put([]byte("not-a-block-record"), []byte("ignored"), nil))
	require.NoError(t, db.Close())

	chain, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, int32(2), chain.Len())
	require.Equal(t, int32(2), chain.BlockCount())

	rec0, err := chain.RecordAt(0)
	require.NoError(t, err)
	require.Equal(t, int32(0), rec0.Height)

	rec1, err := chain.RecordAt(1)
	require.NoError(t, err)
	require.Equal(t, int32(1), rec1.Height)
	require.Equal(t, genesisHash, rec1.Header.PrevBlock)

	height, err := chain.HeightOfHash(h1Hash)
	require.NoError(t, err)
	require.Equal(t, int32(1), height)

	_, err = chain.HeightOfHash(chainhash.Hash{0xFF})
	require.Error(t, err)

	_, err = chain.RecordAt(5)
	require.Error(t, err)
}

func TestLoadDropsInvalidRecords(t *testing.T) {
	dir := t.TempDir()
	db, err := leveldb.OpenFile(dir, nil)
	require.NoError(t, err)

	genesisHeader := header(chainhash.Hash{}, 1)
	genesis := Record{Height: 0, Status: ValidMask | HaveData, NTx: 1, FileIndex: 0, DataPos: 8, UndoPos: NoPos, Header: genesisHeader}
	genesisHash := genesisHeader.BlockHash()

	// height 1 has HAVE_DATA but not enough validity level: dropped.
	badHeader := header(genesisHash, 2)
	bad := Record{Height: 1, Status: HaveData, NTx: 1, FileIndex: 0, DataPos: 16, UndoPos: NoPos, Header: badHeader}
	badHash := badHeader.BlockHash()

	require.NoError(t, db.Put(append([]byte{'b'}, genesisHash[:]...), encodeRecord(t, genesis), nil))
	require.NoError(t, db.Put(append([]byte{'b'}, badHash[:]...), encodeRecord(t, bad), nil))
	require.NoError(t, db.Close())

	chain, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, int32(1), chain.Len())
}

func TestLoadPanicsOnBrokenChain(t *testing.T) {
	dir := t.TempDir()
	db, err := leveldb.OpenFile(dir, nil)
	require.NoError(t, err)

	// height 1 whose parent hash matches nothing in the store: corrupt datadir.
	orphanHeader := header(chainhash.Hash{0xAB}, 2)
	orphan := Record{Height: 1, Status: ValidMask | HaveData, NTx: 1, FileIndex: 0, DataPos: 16, UndoPos: NoPos, Header: orphanHeader}
	orphanHash := orphanHeader.BlockHash()

	require.NoError(t, db.Put(append([]byte{'b'}, orphanHash[:]...), encodeRecord(t, orphan), nil))
	require.NoError(t, db.Close())

	require.Panics(t, func() {
		_, _ = Load(dir)
	})
}
