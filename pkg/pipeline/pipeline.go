package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/wire"

	"github.com/richochetclementine1315/btc-datadir/internal/config"
	"github.com/richochetclementine1315/btc-datadir/internal/logger"
	"github.com/richochetclementine1315/btc-datadir/pkg/blockfile"
	"github.com/richochetclementine1315/btc-datadir/pkg/blockindex"
	"github.com/richochetclementine1315/btc-datadir/pkg/blocktypes"
	"github.com/richochetclementine1315/btc-datadir/pkg/errs"
)

// blockRead is stage 1's output: a decoded block at a known height, with
// every one of its outputs already inserted into the UTXO cache.
type blockRead struct {
	Height int32
	Block  *wire.MsgBlock
}

// Result is one item emitted by a pipeline stream: either a value, in
// caller-supplied order, or the error that ended the stream.
type Result[T any] struct {
	Val T
	Err error
}

func toResult[T any](item idxItem[T]) Result[T] {
	return Result[T]{Val: item.Val, Err: item.Err}
}

// Pipeline runs the two-stage ordered-parallel connect over a range of
// heights read from blocks and chain.
type Pipeline struct {
	blocks  *blockfile.Index
	chain   *blockindex.Chain
	opts    config.Options
	newCache func() (UTXOCache, error)
}

// New builds a Pipeline against an already-open block-file index and chain,
// using opts (already Normalize()d) to size its worker pools and pick a
// UTXO cache variant.
func New(blocks *blockfile.Index, chain *blockindex.Chain, opts config.Options) *Pipeline {
	p := &Pipeline{blocks: blocks, chain: chain, opts: opts}
	switch opts.Cache {
	case config.CacheOnDisk:
		p.newCache = func() (UTXOCache, error) { return NewDiskCache("") }
	default:
		p.newCache = func() (UTXOCache, error) { return NewMemCache(), nil }
	}
	return p
}

// Stream runs the pipeline over heights (in the given, possibly repeated,
// possibly non-monotonic order) and
// returns connected blocks on the returned channel in that same order.
// Closing stop (or cancelling ctx) ends the stream promptly, cleaning up
// the UTXO cache; the channel is always closed when the stream ends, with
// or without error.
func (p *Pipeline) Stream(ctx context.Context, heights []int32) (<-chan Result[blocktypes.ConnectedBlock], func()) {
	cache, err := p.newCache()
	if err != nil {
		out := make(chan Result[blocktypes.ConnectedBlock], 1)
		out <- Result[blocktypes.ConnectedBlock]{Err: err}
		close(out)
		return out, func() {}
	}

	runCtx, cancel := context.WithCancel(ctx)
	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			cancel()
			if cerr := cache.Close(); cerr != nil {
				logger.Warn("closing utxo cache", logger.ErrF(cerr))
			}
		})
	}

	feed := make(chan idxItem[int32])
	go func() {
		defer close(feed)
		for i, h := range heights {
			select {
			case feed <- idxItem[int32]{Idx: i, Val: h}:
			case <-runCtx.Done():
				return
			}
		}
	}()

	stage1Out := runOrderedStream(runCtx, feed, p.opts.Workers, p.opts.QueueDepth,
		func(ctx context.Context, height int32) (blockRead, error) {
			return p.readAndInsert(cache, height)
		})

	stage2Out := runOrderedStream(runCtx, stage1Out, p.opts.Workers, p.opts.QueueDepth,
		func(ctx context.Context, br blockRead) (blocktypes.ConnectedBlock, error) {
			return p.connect(cache, br)
		})

	out := make(chan Result[blocktypes.ConnectedBlock])
	go func() {
		defer close(out)
		defer stop()
		for item := range stage2Out {
			if item.Err != nil {
				logger.Error("connected-block stream ended", logger.ErrF(item.Err))
			}
			select {
			case out <- toResult(item):
			case <-ctx.Done():
				return
			}
			if item.Err != nil {
				return
			}
		}
	}()

	return out, stop
}

// readAndInsert is stage 1's per-height unit of work: read the block,
// decode it, and insert every transaction's outputs into the shared cache
// before returning. Because this function runs to completion before its
// result is ever released to stage 2 (the reorder buffer only releases
// strictly in order), every output of this block is visible to stage 2
// before stage 2 can see this block's inputs — regardless of how other
// heights are interleaved across workers.
func (p *Pipeline) readAndInsert(cache UTXOCache, height int32) (blockRead, error) {
	rec, err := p.chain.RecordAt(height)
	if err != nil {
		return blockRead{}, err
	}
	if !rec.HasData() {
		return blockRead{}, fmt.Errorf("height %d has no transaction data: %w", height, errs.ErrBlockIndexRecordNotFound)
	}
	block, err := p.blocks.ReadBlock(rec.FileIndex, rec.DataPos)
	if err != nil {
		return blockRead{}, err
	}
	for txIndex, tx := range block.Transactions {
		// The genesis coinbase's outputs are a well-known Bitcoin Core
		// quirk: unspendable, and never inserted.
		if height == 0 && txIndex == 0 {
			continue
		}
		if err := cache.InsertOutputs(tx.TxHash(), tx.TxOut); err != nil {
			return blockRead{}, err
		}
	}
	return blockRead{Height: height, Block: block}, nil
}

// connect is stage 2's per-block unit of work: replace every non-coinbase
// input with the output it spends, taking (looking up and removing) each
// from the shared cache. A miss is a hard, stream-ending error.
func (p *Pipeline) connect(cache UTXOCache, br blockRead) (blocktypes.ConnectedBlock, error) {
	builder := blocktypes.NewConnectedBuilder(br.Block.Header)
	for _, tx := range br.Block.Transactions {
		inputs := make([]blocktypes.ConnectedTxIn, 0, len(tx.TxIn))
		for _, txIn := range tx.TxIn {
			// Coinbase inputs reference nothing; they are skipped, leaving
			// a coinbase transaction with an empty connected-input list.
			if blocktypes.IsNullOutPoint(txIn.PreviousOutPoint) {
				continue
			}
			prevTxid := txIn.PreviousOutPoint.Hash
			out, found, err := cache.Take(prevTxid, txIn.PreviousOutPoint.Index)
			if err != nil {
				return blocktypes.ConnectedBlock{}, err
			}
			if !found {
				return blocktypes.ConnectedBlock{}, errs.OutpointUnresolved(prevTxid, txIn.PreviousOutPoint.Index)
			}
			inputs = append(inputs, blocktypes.ConnectedTxIn{PrevOut: out, Sequence: txIn.Sequence})
		}
		builder.AddConnectedTransaction(tx, inputs)
	}
	return builder.Block(), nil
}
