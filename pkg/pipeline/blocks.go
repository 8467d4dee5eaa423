package pipeline

import (
	"context"
	"fmt"

	"github.com/richochetclementine1315/btc-datadir/internal/logger"
	"github.com/richochetclementine1315/btc-datadir/pkg/blocktypes"
	"github.com/richochetclementine1315/btc-datadir/pkg/errs"
)

// StreamFullBlocks reads and decodes heights (in the given order, possibly
// repeated or non-monotonic) in parallel, emitting fully-decoded blocks on
// the returned channel in that same order. Unlike Stream, no UTXO cache is
// involved: this is stage 1 alone, run standalone.
func (p *Pipeline) StreamFullBlocks(ctx context.Context, heights []int32) (<-chan Result[blocktypes.Full], func()) {
	runCtx, cancel := context.WithCancel(ctx)

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

	stageOut := runOrderedStream(runCtx, feed, p.opts.Workers, p.opts.QueueDepth,
		func(ctx context.Context, height int32) (blocktypes.Full, error) {
			rec, err := p.chain.RecordAt(height)
			if err != nil {
				return blocktypes.Full{}, err
			}
			if !rec.HasData() {
				return blocktypes.Full{}, fmt.Errorf("height %d has no transaction data: %w", height, errs.ErrBlockIndexRecordNotFound)
			}
			block, err := p.blocks.ReadBlock(rec.FileIndex, rec.DataPos)
			if err != nil {
				return blocktypes.Full{}, err
			}
			builder := blocktypes.NewFullBuilder(block.Header)
			for _, tx := range block.Transactions {
				builder.AddTransaction(tx)
			}
			return builder.Block(), nil
		})

	out := make(chan Result[blocktypes.Full])
	go func() {
		defer close(out)
		defer cancel()
		for item := range stageOut {
			if item.Err != nil {
				logger.Error("block stream ended", logger.ErrF(item.Err))
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

	return out, cancel
}
