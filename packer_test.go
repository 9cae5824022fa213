package lm_data

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/lm_data/sources"
	"github.com/wbrown/lm_data/tokenizer"
	"github.com/wbrown/lm_data/types"
)

type memSource []types.Record

type memIterator struct {
	records []types.Record
}

func (ms memSource) Records() (sources.RecordIterator, error) {
	return &memIterator{records: ms}, nil
}

func (mi *memIterator) Next() (types.Record, error) {
	if len(mi.records) == 0 {
		return nil, io.EOF
	}
	record := mi.records[0]
	mi.records = mi.records[1:]
	return record, nil
}

func (mi *memIterator) Close() error {
	mi.records = nil
	return nil
}

func sequentialTokens(start, n int) types.Tokens {
	tokens := make(types.Tokens, n)
	for i := range tokens {
		tokens[i] = types.Token(start + i)
	}
	return tokens
}

func TestPackerEmitsOnlyWhenExceeded(t *testing.T) {
	packer, err := NewStreamPacker(2, 3)
	require.NoError(t, err)
	assert.Equal(t, 6, packer.ChunkSize())

	// Exactly one chunk is held back until a further token arrives.
	require.NoError(t, packer.Push(sequentialTokens(0, 6), repeatMask(1, 6)))
	assert.Equal(t, 0, packer.Ready())
	assert.Equal(t, 6, packer.Buffered())

	require.NoError(t, packer.Push(sequentialTokens(6, 1), repeatMask(0, 1)))
	require.Equal(t, 1, packer.Ready())
	assert.Equal(t, 1, packer.Buffered())

	batch, ok := packer.Pop()
	require.True(t, ok)
	assert.Equal(t, []types.Tokens{{0, 1, 2}, {3, 4, 5}}, batch.Tokens)
	assert.Equal(t, []types.LossMasks{{1, 1, 1}, {1, 1, 1}}, batch.LossMasks)
	rows, cols := batch.Shape()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 3, cols)

	_, ok = packer.Pop()
	assert.False(t, ok)
}

func TestPackerMultipleChunksFromOneRecord(t *testing.T) {
	packer, err := NewStreamPacker(1, 4)
	require.NoError(t, err)
	require.NoError(t, packer.Push(sequentialTokens(0, 13), repeatMask(1, 13)))
	assert.Equal(t, 3, packer.Ready())
	assert.Equal(t, 1, packer.Buffered())
	for i := 0; i < 3; i++ {
		batch, ok := packer.Pop()
		require.True(t, ok)
		assert.Equal(t, sequentialTokens(i*4, 4), batch.FlatTokens())
	}
}

func TestPackerBatchesDoNotAliasCarry(t *testing.T) {
	packer, err := NewStreamPacker(1, 2)
	require.NoError(t, err)
	require.NoError(t, packer.Push(sequentialTokens(0, 3), repeatMask(1, 3)))
	batch, ok := packer.Pop()
	require.True(t, ok)
	require.NoError(t, packer.Push(sequentialTokens(3, 3), repeatMask(1, 3)))
	assert.Equal(t, types.Tokens{0, 1}, batch.FlatTokens())
}

func TestPackerRejectsMismatch(t *testing.T) {
	packer, err := NewStreamPacker(1, 2)
	require.NoError(t, err)
	assert.Error(t, packer.Push(sequentialTokens(0, 3), repeatMask(1, 2)))
	_, err = NewStreamPacker(0, 2)
	assert.Error(t, err)
}

func TestIndependentPackers(t *testing.T) {
	a, _ := NewStreamPacker(1, 2)
	b, _ := NewStreamPacker(1, 2)
	require.NoError(t, a.Push(sequentialTokens(0, 2), repeatMask(1, 2)))
	assert.Equal(t, 2, a.Buffered())
	assert.Equal(t, 0, b.Buffered())
}

func streamRecords(n int) memSource {
	records := make(memSource, n)
	for i := range records {
		records[i] = types.Record{
			"prompt":     fmt.Sprintf("q%d", i),
			"completion": strings.Repeat("x", i%7),
		}
	}
	return records
}

func TestStreamingIsLosslessAndOrdered(t *testing.T) {
	tp := newProcessor(t, withFields("[prompt],completion"))
	records := streamRecords(50)

	var expectedTokens types.Tokens
	var expectedMasks types.LossMasks
	for _, record := range records {
		tokens, masks, err := tp.Process(record)
		require.NoError(t, err)
		expectedTokens = append(expectedTokens, tokens...)
		expectedMasks = append(expectedMasks, masks...)
	}

	ds, err := NewStreamingDataset(records, tp, 3, 5)
	require.NoError(t, err)
	iter, err := ds.Batches()
	require.NoError(t, err)
	defer iter.Close()

	var gotTokens types.Tokens
	var gotMasks types.LossMasks
	numBatches := 0
	for {
		batch, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		rows, cols := batch.Shape()
		require.Equal(t, 3, rows)
		require.Equal(t, 5, cols)
		require.Len(t, batch.LossMasks, 3)
		gotTokens = append(gotTokens, batch.FlatTokens()...)
		gotMasks = append(gotMasks, batch.FlatLossMasks()...)
		numBatches++
	}
	require.Greater(t, numBatches, 0)
	n := numBatches * 15
	// Whatever was emitted is an exact prefix of the stream; only the carry
	// is left, and it never reaches a full chunk plus one token.
	assert.Equal(t, expectedTokens[:n], gotTokens)
	assert.Equal(t, expectedMasks[:n], gotMasks)
	assert.LessOrEqual(t, len(expectedTokens)-n, 15)
}

func TestStreamingCarryCrossesRestarts(t *testing.T) {
	tp := newProcessor(t, withFields("text"))
	// Each pass yields 4 tokens; a chunk needs 6, so batches must straddle
	// the restart.
	ds, err := NewStreamingDataset(
		sources.NewLoop(memSource{{"text": "abc"}}), tp, 2, 3)
	require.NoError(t, err)
	iter, err := ds.Batches()
	require.NoError(t, err)
	defer iter.Close()

	eos := tokenizer.ByteEos
	batch, err := iter.Next()
	require.NoError(t, err)
	assert.Equal(t, []types.Tokens{{'a', 'b', 'c'}, {eos, 'a', 'b'}},
		batch.Tokens)
	batch, err = iter.Next()
	require.NoError(t, err)
	assert.Equal(t, []types.Tokens{{'c', eos, 'a'}, {'b', 'c', eos}},
		batch.Tokens)
}

func TestStreamingPropagatesMissingField(t *testing.T) {
	tp := newProcessor(t, withFields("text"))
	ds, err := NewStreamingDataset(memSource{{"other": "x"}}, tp, 1, 2)
	require.NoError(t, err)
	iter, err := ds.Batches()
	require.NoError(t, err)
	_, err = iter.Next()
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestStreamingPropagatesEncodeError(t *testing.T) {
	tp, err := NewTextProcessor(withFields("text"), failingTokenizer{})
	require.NoError(t, err)
	ds, err := NewStreamingDataset(
		memSource{{"text": "fine"}, {"text": "\x00"}}, tp, 1, 4)
	require.NoError(t, err)
	iter, err := ds.Batches()
	require.NoError(t, err)
	defer iter.Close()

	// The first record fills one chunk with a token to spare.
	_, err = iter.Next()
	require.NoError(t, err)
	_, err = iter.Next()
	assert.ErrorIs(t, err, errUnencodable)
}

func TestStreamingIteratorsShareProcessor(t *testing.T) {
	cached, err := tokenizer.NewCached(tokenizer.NewBytes(), 64)
	require.NoError(t, err)
	tp, err := NewTextProcessor(withFields("[prompt],completion"), cached)
	require.NoError(t, err)
	ds, err := NewStreamingDataset(sources.NewLoop(streamRecords(10)), tp,
		2, 8)
	require.NoError(t, err)

	const iterators, batches = 2, 50
	results := make([][]types.Batch, iterators)
	var wg sync.WaitGroup
	for idx := range results {
		iter, err := ds.Batches()
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer iter.Close()
			for range batches {
				batch, err := iter.Next()
				if !assert.NoError(t, err) {
					return
				}
				results[idx] = append(results[idx], batch)
			}
		}()
	}
	wg.Wait()

	// Each iterator packs the same looping stream independently.
	require.Len(t, results[0], batches)
	assert.Equal(t, results[0], results[1])
	assert.Greater(t, cached.Hits(), int64(0))
	assert.Greater(t, cached.Misses(), int64(0))
}
