package lm_data

import (
	"fmt"

	"github.com/wbrown/lm_data/types"
)

// StreamPacker concatenates per-record token and loss mask buffers into one
// stream that ignores record boundaries, and cuts it into
// (batch_size, seq_length) batches. The carry buffer belongs to the packer,
// so independent packers never share state.
type StreamPacker struct {
	BatchSize int
	SeqLength int

	carryTokens types.Tokens
	carryMasks  types.LossMasks
	ready       []types.Batch
}

func NewStreamPacker(batchSize, seqLength int) (*StreamPacker, error) {
	if batchSize <= 0 || seqLength <= 0 {
		return nil, fmt.Errorf(
			"batch_size and seq_length must be positive, got %d and %d",
			batchSize, seqLength)
	}
	return &StreamPacker{BatchSize: batchSize, SeqLength: seqLength}, nil
}

// ChunkSize is the number of flat tokens consumed by one batch.
func (sp *StreamPacker) ChunkSize() int {
	return sp.BatchSize * sp.SeqLength
}

// Buffered is the number of carried tokens not yet emitted.
func (sp *StreamPacker) Buffered() int {
	return len(sp.carryTokens)
}

// Ready is the number of batches waiting to be popped.
func (sp *StreamPacker) Ready() int {
	return len(sp.ready)
}

// Push appends one record's buffers to the carry and queues every batch that
// can be cut from it. A chunk is only cut while the carry holds strictly
// more than ChunkSize tokens.
func (sp *StreamPacker) Push(tokens types.Tokens, masks types.LossMasks) error {
	if len(tokens) != len(masks) {
		return fmt.Errorf("%d tokens but %d loss masks", len(tokens),
			len(masks))
	}
	sp.carryTokens = append(sp.carryTokens, tokens...)
	sp.carryMasks = append(sp.carryMasks, masks...)
	chunkSize := sp.ChunkSize()
	consumed := 0
	for len(sp.carryTokens)-consumed > chunkSize {
		// Copy out so the batch does not alias the carry buffer.
		chunkTokens := make(types.Tokens, chunkSize)
		copy(chunkTokens, sp.carryTokens[consumed:consumed+chunkSize])
		chunkMasks := make(types.LossMasks, chunkSize)
		copy(chunkMasks, sp.carryMasks[consumed:consumed+chunkSize])
		batchTokens, err := types.Reshape(chunkTokens, sp.BatchSize,
			sp.SeqLength)
		if err != nil {
			return err
		}
		batchMasks, err := types.Reshape(chunkMasks, sp.BatchSize,
			sp.SeqLength)
		if err != nil {
			return err
		}
		sp.ready = append(sp.ready, types.Batch{
			Tokens:    batchTokens,
			LossMasks: batchMasks,
		})
		consumed += chunkSize
	}
	if consumed > 0 {
		sp.carryTokens = append(types.Tokens(nil), sp.carryTokens[consumed:]...)
		sp.carryMasks = append(types.LossMasks(nil), sp.carryMasks[consumed:]...)
	}
	return nil
}

// Pop returns the oldest queued batch, if any.
func (sp *StreamPacker) Pop() (types.Batch, bool) {
	if len(sp.ready) == 0 {
		return types.Batch{}, false
	}
	batch := sp.ready[0]
	sp.ready[0] = types.Batch{}
	sp.ready = sp.ready[1:]
	return batch, true
}
