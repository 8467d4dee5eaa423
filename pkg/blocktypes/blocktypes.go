// Package blocktypes holds the output shapes callers can request
// (raw/full/compact, connected/not). Each shape gets a small incremental
// builder rather than an inheritance hierarchy.
package blocktypes

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Raw is the undecoded byte form of a block, as read off a blk file.
type Raw struct {
	Bytes []byte
}

// Full is a block with every transaction fully decoded.
type Full struct {
	Header       wire.BlockHeader
	Transactions []*wire.MsgTx
}

// FullBuilder incrementally assembles a Full block.
type FullBuilder struct {
	block Full
}

// NewFullBuilder starts a Full builder from a decoded header.
func NewFullBuilder(header wire.BlockHeader) *FullBuilder {
	return &FullBuilder{block: Full{Header: header}}
}

// AddTransaction appends one decoded transaction, in block order.
func (b *FullBuilder) AddTransaction(tx *wire.MsgTx) {
	b.block.Transactions = append(b.block.Transactions, tx)
}

// Block returns the assembled Full block.
func (b *FullBuilder) Block() Full {
	return b.block
}

// Compact is a block with header and txids only — no transaction bodies.
// Useful for callers that only need a block's shape, not its contents.
type Compact struct {
	Header wire.BlockHeader
	Txids  []chainhash.Hash
}

// CompactBuilder incrementally assembles a Compact block.
type CompactBuilder struct {
	block Compact
}

// NewCompactBuilder starts a Compact builder from a decoded header.
func NewCompactBuilder(header wire.BlockHeader) *CompactBuilder {
	return &CompactBuilder{block: Compact{Header: header}}
}

// AddTxid appends one transaction id, in block order.
func (b *CompactBuilder) AddTxid(txid chainhash.Hash) {
	b.block.Txids = append(b.block.Txids, txid)
}

// Block returns the assembled Compact block.
func (b *CompactBuilder) Block() Compact {
	return b.block
}

// ConnectedTxIn is a transaction input with its previous output already
// resolved.
type ConnectedTxIn struct {
	PrevOut  *wire.TxOut
	Sequence uint32
}

// ConnectedTx is a transaction whose non-coinbase inputs carry the output
// they spend. Inputs holds one entry per non-coinbase input of Tx, in input
// order; coinbase inputs are skipped, so a coinbase transaction has an
// empty Inputs list.
type ConnectedTx struct {
	Tx     *wire.MsgTx
	Inputs []ConnectedTxIn
}

// IsNullOutPoint reports whether op is the null outpoint (all-zero hash,
// index 0xFFFFFFFF) a coinbase input carries in place of a real
// previous-output reference.
func IsNullOutPoint(op wire.OutPoint) bool {
	return op.Index == 0xFFFFFFFF && op.Hash == chainhash.Hash{}
}

// ConnectedBlock is a block in which every non-coinbase input has been
// replaced by the output it spends.
type ConnectedBlock struct {
	Header       wire.BlockHeader
	Transactions []ConnectedTx
}

// ConnectedBuilder incrementally assembles a ConnectedBlock.
type ConnectedBuilder struct {
	block ConnectedBlock
}

// NewConnectedBuilder starts a Connected builder from a decoded header.
func NewConnectedBuilder(header wire.BlockHeader) *ConnectedBuilder {
	return &ConnectedBuilder{block: ConnectedBlock{Header: header}}
}

// AddConnectedTransaction appends one transaction together with its
// resolved inputs, in block order.
func (b *ConnectedBuilder) AddConnectedTransaction(tx *wire.MsgTx, inputs []ConnectedTxIn) {
	b.block.Transactions = append(b.block.Transactions, ConnectedTx{Tx: tx, Inputs: inputs})
}

// Block returns the assembled ConnectedBlock.
func (b *ConnectedBuilder) Block() ConnectedBlock {
	return b.block
}
