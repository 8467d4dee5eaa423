// Package core is the public surface of the datadir reader, composing the
// block-file index, the block index, the optional transaction index, and
// the connected-block pipeline behind one handle.
package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/richochetclementine1315/btc-datadir/internal/config"
	"github.com/richochetclementine1315/btc-datadir/internal/logger"
	"github.com/richochetclementine1315/btc-datadir/pkg/blockfile"
	"github.com/richochetclementine1315/btc-datadir/pkg/blockindex"
	"github.com/richochetclementine1315/btc-datadir/pkg/blocktypes"
	"github.com/richochetclementine1315/btc-datadir/pkg/errs"
	"github.com/richochetclementine1315/btc-datadir/pkg/pipeline"
	"github.com/richochetclementine1315/btc-datadir/pkg/txindex"
)

// Handle is an immutable view over a node's datadir. Every field below is read-only
// after Open; the handle may be shared freely across goroutines. Only a
// connected-block stream owns mutable state of its own (its UTXO cache),
// scoped to that one stream.
type Handle struct {
	blocks *blockfile.Index
	chain  *blockindex.Chain
	txIdx  *txindex.Index // nil if not opened
	opts   config.Options
}

// Open builds a Handle from opts.DataDir, loading the block-index chain and
// the block-file index, and optionally the transaction index.
func Open(opts config.Options) (*Handle, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	if info, statErr := os.Stat(opts.DataDir); statErr != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", errs.ErrDataDirMissing, opts.DataDir)
	}

	blocksDir := filepath.Join(opts.DataDir, "blocks")
	blocks, err := blockfile.Open(blocksDir)
	if err != nil {
		return nil, err
	}

	chain, err := blockindex.Load(filepath.Join(blocksDir, "index"))
	if err != nil {
		return nil, err
	}

	var txIdx *txindex.Index
	if opts.WithTxIndex {
		txIdx, err = txindex.Open(filepath.Join(opts.DataDir, "indexes", "txindex"), chain)
		if err != nil {
			logger.Warn("transaction index not available", logger.ErrF(err))
			txIdx = nil
		}
	}

	logger.Info("opened datadir handle",
		logger.String("data_dir", opts.DataDir),
		logger.Bool("tx_index", txIdx != nil))

	return &Handle{blocks: blocks, chain: chain, txIdx: txIdx, opts: opts}, nil
}

// Close releases the transaction index's underlying store, if open. The
// block-file index and block index hold no resources that need closing.
func (h *Handle) Close() error {
	return h.txIdx.Close()
}

// BlockCount returns the largest h such that every block [0,h) has
// transaction data present.
func (h *Handle) BlockCount() int32 {
	return h.chain.BlockCount()
}

// Header returns the decoded header at height.
func (h *Handle) Header(height int32) (wire.BlockHeader, error) {
	rec, err := h.chain.RecordAt(height)
	if err != nil {
		return wire.BlockHeader{}, err
	}
	return rec.Header, nil
}

// HashAt returns the header hash at height.
func (h *Handle) HashAt(height int32) (chainhash.Hash, error) {
	rec, err := h.chain.RecordAt(height)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return rec.Header.BlockHash(), nil
}

// HeightOf returns the height of a header hash, searching the total
// reachable record set (not just the longest chain).
func (h *Handle) HeightOf(hash chainhash.Hash) (int32, error) {
	return h.chain.HeightOfHash(hash)
}

// RawBlock returns the raw consensus-encoded bytes of the block at height.
func (h *Handle) RawBlock(height int32) ([]byte, error) {
	rec, err := h.chain.RecordAt(height)
	if err != nil {
		return nil, err
	}
	return h.blocks.ReadRawBlock(rec.FileIndex, rec.DataPos)
}

// Block returns the fully-decoded block at height.
func (h *Handle) Block(height int32) (blocktypes.Full, error) {
	rec, err := h.chain.RecordAt(height)
	if err != nil {
		return blocktypes.Full{}, err
	}
	block, err := h.blocks.ReadBlock(rec.FileIndex, rec.DataPos)
	if err != nil {
		return blocktypes.Full{}, err
	}
	builder := blocktypes.NewFullBuilder(block.Header)
	for _, tx := range block.Transactions {
		builder.AddTransaction(tx)
	}
	return builder.Block(), nil
}

// Transaction looks up a transaction by txid, requiring the transaction
// index to be open — except for the genesis txid, which is extracted
// directly from block 0, bypassing the tx-index entirely, since Bitcoin
// Core's txindex never records it.
func (h *Handle) Transaction(txid chainhash.Hash) (*wire.MsgTx, error) {
	if txindex.IsGenesisTx(txid) {
		return h.genesisTransaction()
	}
	if h.txIdx == nil {
		return nil, errs.ErrTxDbUnavailable
	}
	pos, err := h.txIdx.GetTxPosition(txid)
	if err != nil {
		return nil, err
	}
	return h.blocks.ReadTransaction(pos.FileIndex, pos.DataPos, pos.TxOffset)
}

func (h *Handle) genesisTransaction() (*wire.MsgTx, error) {
	rec, err := h.chain.RecordAt(0)
	if err != nil {
		return nil, err
	}
	block, err := h.blocks.ReadBlock(rec.FileIndex, rec.DataPos)
	if err != nil {
		return nil, err
	}
	if len(block.Transactions) == 0 {
		return nil, errs.TransactionRecordNotFound(txindex.GenesisTxid)
	}
	return block.Transactions[0], nil
}

// BlockHeightOf returns the height of the block containing txid, requiring
// the transaction index to be open (except for the genesis txid).
func (h *Handle) BlockHeightOf(txid chainhash.Hash) (int32, error) {
	if txindex.IsGenesisTx(txid) {
		return 0, nil
	}
	if h.txIdx == nil {
		return 0, errs.ErrTxDbUnavailable
	}
	return h.txIdx.GetBlockHeight(txid)
}

// StreamBlocks returns full blocks for heights [start, end) in ascending
// order, read in parallel.
func (h *Handle) StreamBlocks(ctx context.Context, start, end int32) (<-chan pipeline.Result[blocktypes.Full], func()) {
	heights := make([]int32, 0, max32(end-start, 0))
	for height := start; height < end; height++ {
		heights = append(heights, height)
	}
	return h.StreamBlocksAt(ctx, heights)
}

// StreamBlocksAt returns full blocks for an explicit, possibly repeated,
// possibly non-monotonic sequence of heights, in that same order. The
// stream halts at the first height that cannot be read.
func (h *Handle) StreamBlocksAt(ctx context.Context, heights []int32) (<-chan pipeline.Result[blocktypes.Full], func()) {
	p := pipeline.New(h.blocks, h.chain, h.opts)
	return p.StreamFullBlocks(ctx, heights)
}

// StreamConnectedBlocks returns connected blocks for heights [0, end) in
// ascending order, running the full two-stage ordered-parallel pipeline.
func (h *Handle) StreamConnectedBlocks(ctx context.Context, end int32) (<-chan pipeline.Result[blocktypes.ConnectedBlock], func()) {
	heights := make([]int32, end)
	for height := int32(0); height < end; height++ {
		heights[height] = height
	}
	p := pipeline.New(h.blocks, h.chain, h.opts)
	return p.Stream(ctx, heights)
}

// ConnectedBlock connects a single block by height, for small
// random-access use. Connecting block h requires every output created in
// blocks [0, h) to be in the UTXO cache, so this streams the whole prefix
// and keeps only the last item — slow at scale (use StreamConnectedBlocks
// for bulk access).
func (h *Handle) ConnectedBlock(height int32) (blocktypes.ConnectedBlock, error) {
	if _, err := h.chain.RecordAt(height); err != nil {
		return blocktypes.ConnectedBlock{}, err
	}
	heights := make([]int32, height+1)
	for i := range heights {
		heights[i] = int32(i)
	}
	p := pipeline.New(h.blocks, h.chain, h.opts)
	out, stop := p.Stream(context.Background(), heights)
	defer stop()
	var last blocktypes.ConnectedBlock
	got := false
	for item := range out {
		if item.Err != nil {
			return blocktypes.ConnectedBlock{}, item.Err
		}
		last, got = item.Val, true
	}
	if !got {
		return blocktypes.ConnectedBlock{}, errs.BlockIndexRecordNotFound(height)
	}
	return last, nil
}

// ConnectedTransaction connects a single transaction by txid: finds its
// containing block height via the tx-index (genesis txid fast-paths to
// block 0, same as Transaction), then connects that whole block and
// returns the matching transaction.
func (h *Handle) ConnectedTransaction(txid chainhash.Hash) (blocktypes.ConnectedTx, error) {
	height, err := h.BlockHeightOf(txid)
	if err != nil {
		return blocktypes.ConnectedTx{}, err
	}
	block, err := h.ConnectedBlock(height)
	if err != nil {
		return blocktypes.ConnectedTx{}, err
	}
	if txindex.IsGenesisTx(txid) {
		return block.Transactions[0], nil
	}
	for _, tx := range block.Transactions {
		if tx.Tx.TxHash() != txid {
			continue
		}
		if want := nonCoinbaseInputs(tx.Tx); len(tx.Inputs) != want {
			return blocktypes.ConnectedTx{}, errs.MissingOutputs(want, len(tx.Inputs))
		}
		return tx, nil
	}
	return blocktypes.ConnectedTx{}, errs.TransactionRecordNotFound(txid)
}

// nonCoinbaseInputs counts the inputs of tx that reference a real previous
// output, i.e. the number of entries a fully-connected version must carry.
func nonCoinbaseInputs(tx *wire.MsgTx) int {
	n := 0
	for _, txIn := range tx.TxIn {
		if !blocktypes.IsNullOutPoint(txIn.PreviousOutPoint) {
			n++
		}
	}
	return n
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}
