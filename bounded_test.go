package lm_data

import (
	"bytes"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/lm_data/sources"
	"github.com/wbrown/lm_data/tokenizer"
	"github.com/wbrown/lm_data/types"
)

func writeJSONLines(t *testing.T, lines ...string) string {
	path := filepath.Join(t.TempDir(), "data.jsonl")
	require.NoError(t, os.WriteFile(path,
		[]byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func quietLoggers(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	previousSources, previous := sources.Logger, Logger
	sources.Logger = log.New(&buf, "", 0)
	Logger = log.New(&buf, "", 0)
	t.Cleanup(func() {
		sources.Logger = previousSources
		Logger = previous
	})
	return &buf
}

func TestMakeExampleTruncates(t *testing.T) {
	seqLength := 4
	example := MakeExample(sequentialTokens(10, seqLength+1),
		types.LossMasks{0, 1, 1, 1, 1}, seqLength, tokenizer.BytePad)
	assert.Equal(t, types.Tokens{10, 11, 12, 13}, example.Tokens)
	assert.Equal(t, types.LossMasks{0, 1, 1, 1}, example.LossMasks)
	assert.Equal(t, types.AttentionMask{1, 1, 1, 1}, example.AttentionMask)
}

func TestMakeExamplePads(t *testing.T) {
	pad := tokenizer.BytePad
	example := MakeExample(types.Tokens{}, types.LossMasks{}, 3, pad)
	assert.Equal(t, types.Tokens{pad, pad, pad}, example.Tokens)
	assert.Equal(t, types.LossMasks{0, 0, 0}, example.LossMasks)
	assert.Equal(t, types.AttentionMask{0, 0, 0}, example.AttentionMask)

	example = MakeExample(types.Tokens{7}, types.LossMasks{1}, 3, pad)
	assert.Equal(t, types.Tokens{7, pad, pad}, example.Tokens)
	assert.Equal(t, types.LossMasks{1, 0, 0}, example.LossMasks)
	assert.Equal(t, types.AttentionMask{1, 0, 0}, example.AttentionMask)
}

func TestBoundedSeqPlusOneHasNoPadding(t *testing.T) {
	quietLoggers(t)
	tp := newProcessor(t, withFields("text"))
	// "abcd" plus EOS is five tokens against a seq_length of four.
	path := writeJSONLines(t, `{"text": "abcd"}`)
	ds, err := LoadBoundedDataset(JsonTorchDatasetConfig{
		Path: path, SeqLength: 4, BatchSize: 1}, tp)
	require.NoError(t, err)
	require.Equal(t, 1, ds.Len())
	example, err := ds.Get(0)
	require.NoError(t, err)
	assert.Equal(t, types.Tokens{'a', 'b', 'c', 'd'}, example.Tokens)
	assert.Equal(t, types.AttentionMask{1, 1, 1, 1}, example.AttentionMask)
	assert.NotContains(t, example.Tokens, tokenizer.ByteEos)
}

func TestBoundedEmptyRecordIsAllPad(t *testing.T) {
	quietLoggers(t)
	config := withFields("text")
	config.AddEosToken = false
	tp := newProcessor(t, config)
	ds, err := NewBoundedDataset(memSource{{"text": ""}}, tp, 3)
	require.NoError(t, err)
	example, err := ds.Get(0)
	require.NoError(t, err)
	pad := tokenizer.BytePad
	assert.Equal(t, types.Tokens{pad, pad, pad}, example.Tokens)
	assert.Equal(t, types.AttentionMask{0, 0, 0}, example.AttentionMask)
}

func TestBoundedSkipsMalformedLines(t *testing.T) {
	logged := quietLoggers(t)
	tp := newProcessor(t, withFields("text"))
	path := writeJSONLines(t,
		`{"text": "one"}`,
		`{"text": "broken`,
		`{"text": "two"}`)
	ds, err := LoadBoundedDataset(JsonTorchDatasetConfig{
		Path: path, SeqLength: 8, BatchSize: 1}, tp)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
	assert.Contains(t, logged.String(), "Error parsing json line 2")

	second, err := ds.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "two", tokenizer.NewBytes().Decode(second.Tokens))
}

func TestBoundedIsIdempotent(t *testing.T) {
	quietLoggers(t)
	tp := newProcessor(t, withFields("[prompt],completion"))
	path := writeJSONLines(t,
		`{"prompt": "Hi", "completion": "Hello"}`,
		`{"prompt": "A long prompt", "completion": "that gets truncated"}`,
		`{"prompt": "", "completion": ""}`)
	config := JsonTorchDatasetConfig{Path: path, SeqLength: 16, BatchSize: 2}

	load := func() []byte {
		ds, err := LoadBoundedDataset(config, tp)
		require.NoError(t, err)
		var all []byte
		for i := 0; i < ds.Len(); i++ {
			example, err := ds.Get(i)
			require.NoError(t, err)
			bin, err := example.ToBin()
			require.NoError(t, err)
			all = append(all, *bin...)
		}
		return all
	}
	first := load()
	assert.Len(t, first, 3*16*(types.TokenSize+types.MaskSize+4))
	assert.Equal(t, first, load())
}

func TestBoundedGetOutOfRange(t *testing.T) {
	quietLoggers(t)
	ds, err := NewBoundedDataset(memSource{{"text": "x"}},
		newProcessor(t, withFields("text")), 4)
	require.NoError(t, err)
	_, err = ds.Get(1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = ds.Get(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestBoundedConcurrentGet(t *testing.T) {
	quietLoggers(t)
	ds, err := NewBoundedDataset(streamRecords(20),
		newProcessor(t, withFields("[prompt],completion")), 8)
	require.NoError(t, err)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < ds.Len(); i++ {
				example, err := ds.Get(i)
				assert.NoError(t, err)
				assert.Len(t, example.Tokens, 8)
			}
		}()
	}
	wg.Wait()
}

func TestCollate(t *testing.T) {
	pad := tokenizer.BytePad
	batch, err := Collate([]types.Example{
		MakeExample(types.Tokens{1, 2}, types.LossMasks{0, 1}, 3, pad),
		MakeExample(types.Tokens{3}, types.LossMasks{1}, 3, pad),
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, []types.Tokens{{1, 2, pad}, {3, pad, pad}}, batch.Tokens)
	assert.Equal(t, []types.LossMasks{{0, 1, 0}, {1, 0, 0}}, batch.LossMasks)
	assert.Equal(t, []types.AttentionMask{{1, 1, 0}, {1, 0, 0}},
		batch.AttentionMask)
}

func collectEpoch(t *testing.T, loader *Loader) []types.Batch {
	iter, err := loader.Batches()
	require.NoError(t, err)
	defer iter.Close()
	var batches []types.Batch
	for {
		batch, err := iter.Next()
		if errors.Is(err, io.EOF) {
			return batches
		}
		require.NoError(t, err)
		batches = append(batches, batch)
	}
}

// Each record's first token is its index, so rows identify examples.
func indexedDataset(t *testing.T, n int) *BoundedDataset {
	records := make(memSource, n)
	for i := range records {
		records[i] = types.Record{"text": string(rune('A' + i))}
	}
	ds, err := NewBoundedDataset(records, newProcessor(t, withFields("text")),
		4)
	require.NoError(t, err)
	return ds
}

func rowIDs(batches []types.Batch) []int {
	var ids []int
	for _, batch := range batches {
		for _, row := range batch.Tokens {
			ids = append(ids, int(row[0]-'A'))
		}
	}
	return ids
}

func TestLoaderEpochCoversDatasetOnce(t *testing.T) {
	quietLoggers(t)
	loader, err := NewLoader(indexedDataset(t, 10), 4, 3, 0)
	require.NoError(t, err)

	batches := collectEpoch(t, loader)
	require.Len(t, batches, 3)
	rows, cols := batches[2].Shape()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 4, cols)
	assert.Len(t, batches[2].AttentionMask, 2)

	ids := rowIDs(batches)
	sort.Ints(ids)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, ids)
}

func TestLoaderIsDeterministicAndOrdered(t *testing.T) {
	quietLoggers(t)
	ds := indexedDataset(t, 25)
	single, err := NewLoader(ds, 3, 1, 7)
	require.NoError(t, err)
	parallel, err := NewLoader(ds, 3, 4, 7)
	require.NoError(t, err)

	order := single.Order(0)
	var expected []int
	for _, indices := range order {
		expected = append(expected, indices...)
	}
	assert.Equal(t, expected, rowIDs(collectEpoch(t, single)))
	assert.Equal(t, expected, rowIDs(collectEpoch(t, parallel)))

	// The next epoch reshuffles.
	assert.NotEqual(t, expected, rowIDs(collectEpoch(t, single)))
}

func TestLoaderCloseEarly(t *testing.T) {
	quietLoggers(t)
	loader, err := NewLoader(indexedDataset(t, 20), 1, 2, 0)
	require.NoError(t, err)
	iter, err := loader.Batches()
	require.NoError(t, err)
	_, err = iter.Next()
	require.NoError(t, err)
	assert.NoError(t, iter.Close())
	_, err = iter.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestLoaderEmptyDataset(t *testing.T) {
	quietLoggers(t)
	ds, err := NewBoundedDataset(memSource{}, newProcessor(t,
		withFields("text")), 4)
	require.NoError(t, err)
	loader, err := NewLoader(ds, 2, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, collectEpoch(t, loader))
}
