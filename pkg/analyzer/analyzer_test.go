package analyzer

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/richochetclementine1315/btc-datadir/pkg/blocktypes"
)

func p2pkhScript(b byte) []byte {
	script := []byte{0x76, 0xa9, 0x14}
	script = append(script, bytes.Repeat([]byte{b}, 20)...)
	return append(script, 0x88, 0xac)
}

func TestClassifyOutputScript(t *testing.T) {
	cases := []struct {
		name   string
		script []byte
		want   string
	}{
		{"p2pkh", p2pkhScript(0xAA), "p2pkh"},
		{"p2sh", append(append([]byte{0xa9, 0x14}, bytes.Repeat([]byte{0xBB}, 20)...), 0x87), "p2sh"},
		{"p2wpkh", append([]byte{0x00, 0x14}, bytes.Repeat([]byte{0xCC}, 20)...), "p2wpkh"},
		{"p2wsh", append([]byte{0x00, 0x20}, bytes.Repeat([]byte{0xDD}, 32)...), "p2wsh"},
		{"p2tr", append([]byte{0x51, 0x20}, bytes.Repeat([]byte{0xEE}, 32)...), "p2tr"},
		{"op_return", []byte{0x6a, 0x04, 0xde, 0xad, 0xbe, 0xef}, "op_return"},
		{"empty", nil, "unknown"},
		{"garbage", []byte{0x01}, "unknown"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, ClassifyOutputScript(c.script), c.name)
	}
}

func TestClassifyInputScript(t *testing.T) {
	p2wpkhPrev := append([]byte{0x00, 0x14}, bytes.Repeat([]byte{0x01}, 20)...)
	p2trPrev := append([]byte{0x51, 0x20}, bytes.Repeat([]byte{0x02}, 32)...)

	sig := bytes.Repeat([]byte{0x03}, 64)
	require.Equal(t, "p2tr_keypath", ClassifyInputScript(nil, [][]byte{sig}, p2trPrev))

	control := append([]byte{0xc0}, bytes.Repeat([]byte{0x04}, 32)...)
	require.Equal(t, "p2tr_scriptpath", ClassifyInputScript(nil, [][]byte{{0x51}, control}, p2trPrev))

	require.Equal(t, "p2wpkh", ClassifyInputScript(nil, [][]byte{sig, sig}, p2wpkhPrev))

	// Nested p2sh-p2wpkh: scriptSig pushes 0x0014{20-byte hash}.
	nested := append([]byte{0x16, 0x00, 0x14}, bytes.Repeat([]byte{0x05}, 20)...)
	require.Equal(t, "p2sh-p2wpkh", ClassifyInputScript(nested, [][]byte{sig, sig}, nil))

	require.Equal(t, "p2pkh", ClassifyInputScript([]byte{0x01, 0x00}, nil, p2pkhScript(0x06)))
}

func TestDisassembleScript(t *testing.T) {
	require.Equal(t, "", DisassembleScript(nil))

	asm := DisassembleScript(p2pkhScript(0xAB))
	require.Contains(t, asm, "OP_DUP")
	require.Contains(t, asm, "OP_HASH160")
	require.Contains(t, asm, "abababababababababababababababababababab")
	require.Contains(t, asm, "OP_CHECKSIG")
}

func TestParseOpReturn(t *testing.T) {
	script := append([]byte{0x6a, 0x05}, []byte("hello")...)
	dataHex, dataUtf8, protocol := ParseOpReturn(script)
	require.Equal(t, "68656c6c6f", dataHex)
	require.NotNil(t, dataUtf8)
	require.Equal(t, "hello", *dataUtf8)
	require.Equal(t, "unknown", protocol)

	omni := append([]byte{0x6a, 0x04}, []byte("omni")...)
	_, _, protocol = ParseOpReturn(omni)
	require.Equal(t, "omni", protocol)

	_, _, protocol = ParseOpReturn([]byte{0x51})
	require.Equal(t, "unknown", protocol)
}

func TestParseRelativeTimelock(t *testing.T) {
	enabled, _, _ := ParseRelativeTimelock(1 << 31)
	require.False(t, enabled, "bit 31 disables the lock")

	enabled, _, _ = ParseRelativeTimelock(0xfffffffe)
	require.False(t, enabled, "final sequence carries no lock")

	enabled, tlType, value := ParseRelativeTimelock(144)
	require.True(t, enabled)
	require.Equal(t, "blocks", tlType)
	require.Equal(t, uint32(144), value)

	enabled, tlType, value = ParseRelativeTimelock((1 << 22) | 10)
	require.True(t, enabled)
	require.Equal(t, "time", tlType)
	require.Equal(t, uint32(10*512), value)
}

func TestIsRBFSignaling(t *testing.T) {
	require.True(t, IsRBFSignaling([]uint32{0xffffffff, 1}))
	require.False(t, IsRBFSignaling([]uint32{0xffffffff, 0xfffffffe}))
	require.False(t, IsRBFSignaling(nil))
}

func TestExtractBIP34Height(t *testing.T) {
	// Height 840000 = 0x0cd140, pushed little-endian as a 3-byte push.
	script := []byte{0x03, 0x40, 0xd1, 0x0c, 0x00}
	require.Equal(t, int64(840000), ExtractBIP34Height(script))

	require.Equal(t, int64(0), ExtractBIP34Height(nil))
	require.Equal(t, int64(0), ExtractBIP34Height([]byte{0x20}))
}

func TestAnalyzeConnectedTransaction(t *testing.T) {
	tx := wire.NewMsgTx(wire.TxVersion)
	var prevHash chainhash.Hash
	prevHash[0] = 0x01
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: prevHash, Index: 0},
		SignatureScript:  []byte{0x01, 0x00},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{Value: 90_000, PkScript: p2pkhScript(0xAA)})

	ctx := blocktypes.ConnectedTx{
		Tx: tx,
		Inputs: []blocktypes.ConnectedTxIn{
			{PrevOut: &wire.TxOut{Value: 100_000, PkScript: p2pkhScript(0xBB)}, Sequence: wire.MaxTxInSequenceNum},
		},
	}

	out := AnalyzeConnectedTransaction(ctx, "mainnet")
	require.True(t, out.OK)
	require.Equal(t, int64(100_000), out.TotalInputSats)
	require.Equal(t, int64(90_000), out.TotalOutputSats)
	require.Equal(t, int64(10_000), out.FeeSats)
	require.False(t, out.Segwit)
	require.Len(t, out.Vin, 1)
	require.Len(t, out.Vout, 1)
	require.Equal(t, "p2pkh", out.Vout[0].ScriptType)
	require.NotNil(t, out.Vout[0].Address)
	require.False(t, out.RbfSignaling)
}

func TestAnalyzeConnectedTransactionCoinbase(t *testing.T) {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0xFFFFFFFF},
		SignatureScript:  []byte{0x03, 0x40, 0xd1, 0x0c},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{Value: 312_500_000, PkScript: p2pkhScript(0xCC)})

	// A coinbase transaction carries no connected inputs.
	ctx := blocktypes.ConnectedTx{Tx: tx}

	out := AnalyzeConnectedTransaction(ctx, "mainnet")
	require.Zero(t, out.FeeSats, "coinbase pays no fee")
	require.Empty(t, out.Warnings)
}
