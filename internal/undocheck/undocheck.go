// Package undocheck decodes Bitcoin Core's undo files (rev*.dat) into the
// previous outputs they record for a block's non-coinbase transactions.
//
// The connected-block pipeline does not use undo files: it reconstructs
// every spent output purely by forward-streaming the UTXO cache, and the
// core datadir reader never opens rev*.dat on its own. This package exists
// only as an optional cross-check for tests: when a fixture happens to ship
// a matching rev*.dat, a test can decode it here and compare its outputs
// against what pkg/pipeline resolved independently, as a second, unrelated
// source of truth for the same spent outputs.
package undocheck

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"

	"github.com/richochetclementine1315/btc-datadir/pkg/blockindex"
	"github.com/richochetclementine1315/btc-datadir/pkg/utils"
)

// ParseBlockUndo scans r (positioned at the start of a rev*.dat file, or
// anywhere before the record it's looking for) for the undo record whose
// tx-undo count equals nonCoinbaseTxCount, skipping any mismatched records
// it encounters along the way, and returns one []*wire.TxOut per
// non-coinbase transaction, in block order.
//
// Bitcoin Core's rev*.dat record format:
//
//	[4 bytes: network magic][4 bytes: CBlockUndo size, little-endian]
//	[CBlockUndo data: CompactSize num_tx_undos, then per tx:
//	  CompactSize num_inputs, then per input: nCode/nValue/nSize CVarInt
//	  fields and trailing script bytes, Bitcoin Core's TxInUndoFormatter]
//	[32 bytes: double-SHA256 of the CBlockUndo, at the end]

// Source is what ParseBlockUndo reads from — a seekable reader that also
// exposes ReadByte, since Bitcoin Core's CVarInt fields are decoded one
// byte at a time. bytes.Reader satisfies this directly; wrap a plain file
// with bufio.NewReader(f) combined with the file's Seek if needed.
type Source interface {
	io.Reader
	io.ByteReader
	io.Seeker
}

func ParseBlockUndo(r Source, nonCoinbaseTxCount int) ([][]*wire.TxOut, error) {
	wantCount := uint64(nonCoinbaseTxCount)

	for {
		recordStart, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, fmt.Errorf("undocheck: seek: %w", err)
		}

		var header [8]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return nil, fmt.Errorf("undocheck: no matching undo record found: %w", err)
		}
		undoSize := uint32(header[4]) | uint32(header[5])<<8 | uint32(header[6])<<16 | uint32(header[7])<<24

		txUndoCount, err := utils.ReadCompactSize(r)
		if err != nil {
			return nil, fmt.Errorf("undocheck: tx undo count: %w", err)
		}
		if txUndoCount != wantCount {
			next := recordStart + 8 + int64(undoSize) + 32
			if _, err := r.Seek(next, io.SeekStart); err != nil {
				return nil, fmt.Errorf("undocheck: skip mismatched record: %w", err)
			}
			continue
		}

		outs := make([][]*wire.TxOut, 0, txUndoCount)
		for i := uint64(0); i < txUndoCount; i++ {
			inputCount, err := utils.ReadCompactSize(r)
			if err != nil {
				return nil, fmt.Errorf("undocheck: tx %d input count: %w", i, err)
			}
			txOuts := make([]*wire.TxOut, 0, inputCount)
			for j := uint64(0); j < inputCount; j++ {
				out, err := readUndoPrevout(r)
				if err != nil {
					return nil, fmt.Errorf("undocheck: tx %d input %d: %w", i, j, err)
				}
				txOuts = append(txOuts, out)
			}
			outs = append(outs, txOuts)
		}
		return outs, nil
	}
}

// readUndoPrevout decodes one Coin entry (undo.h's TxInUndoFormatter): a
// CVarInt nCode (nHeight*2 + isCoinbase), an optional dummy version byte
// when nHeight > 0, a compressed-amount CVarInt, and a script encoded per
// Bitcoin Core's special script-compression scheme.
func readUndoPrevout(r Source) (*wire.TxOut, error) {
	nCode, err := blockindex.ReadCoreVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("nCode: %w", err)
	}
	nHeight := nCode >> 1

	if nHeight > 0 {
		if _, err := blockindex.ReadCoreVarInt(r); err != nil {
			return nil, fmt.Errorf("version dummy: %w", err)
		}
	}

	compressedAmount, err := blockindex.ReadCoreVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	value := utils.DecompressAmount(compressedAmount)

	nSize, err := blockindex.ReadCoreVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("nSize: %w", err)
	}

	script, err := decompressScript(r, nSize)
	if err != nil {
		return nil, err
	}
	return &wire.TxOut{Value: value, PkScript: script}, nil
}

func decompressScript(r io.Reader, nSize uint64) ([]byte, error) {
	switch nSize {
	case 0: // P2PKH
		hash := make([]byte, 20)
		if _, err := io.ReadFull(r, hash); err != nil {
			return nil, fmt.Errorf("p2pkh hash: %w", err)
		}
		script := append([]byte{0x76, 0xa9, 0x14}, hash...)
		return append(script, 0x88, 0xac), nil

	case 1: // P2SH
		hash := make([]byte, 20)
		if _, err := io.ReadFull(r, hash); err != nil {
			return nil, fmt.Errorf("p2sh hash: %w", err)
		}
		script := append([]byte{0xa9, 0x14}, hash...)
		return append(script, 0x87), nil

	case 2, 3: // compressed P2PK
		key := make([]byte, 33)
		key[0] = byte(nSize)
		if _, err := io.ReadFull(r, key[1:]); err != nil {
			return nil, fmt.Errorf("p2pk compressed: %w", err)
		}
		script := append([]byte{0x21}, key...)
		return append(script, 0xac), nil

	case 4, 5: // uncompressed P2PK, stored as a compressed x-coordinate
		xcoord := make([]byte, 32)
		if _, err := io.ReadFull(r, xcoord); err != nil {
			return nil, fmt.Errorf("p2pk uncompressed: %w", err)
		}
		compressedKey := append([]byte{byte(nSize - 2)}, xcoord...)
		pubKey, err := btcec.ParsePubKey(compressedKey)
		if err != nil {
			script := append([]byte{0x21}, compressedKey...)
			return append(script, 0xac), nil
		}
		uncompressed := pubKey.SerializeUncompressed()
		script := append([]byte{0x41}, uncompressed...)
		return append(script, 0xac), nil

	default: // raw script
		scriptLen := nSize - 6
		script := make([]byte, scriptLen)
		if _, err := io.ReadFull(r, script); err != nil {
			return nil, fmt.Errorf("raw script (len=%d): %w", scriptLen, err)
		}
		return script, nil
	}
}

// ScriptHex is a small convenience for tests comparing decoded scripts.
func ScriptHex(out *wire.TxOut) string {
	return hex.EncodeToString(out.PkScript)
}
