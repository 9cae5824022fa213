package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokensBin(t *testing.T) {
	tokens := Tokens{0, 1, 50256, 128000, -1}
	bin, err := tokens.ToBin()
	require.NoError(t, err)
	assert.Len(t, *bin, len(tokens)*TokenSize)
	assert.Equal(t, []byte{0x00, 0xf4, 0x01, 0x00}, (*bin)[12:16])
	assert.Equal(t, tokens, *TokensFromBin(bin))
}

func TestLossMasksBin(t *testing.T) {
	masks := LossMasks{0, 1, 0.5}
	bin, err := masks.ToBin()
	require.NoError(t, err)
	assert.Len(t, *bin, len(masks)*MaskSize)
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f}, (*bin)[4:8])
	assert.Equal(t, masks, *LossMasksFromBin(bin))
}

func TestExampleBin(t *testing.T) {
	example := Example{
		Tokens:        Tokens{7, 8},
		LossMasks:     LossMasks{1, 0},
		AttentionMask: AttentionMask{1, 0},
	}
	bin, err := example.ToBin()
	require.NoError(t, err)
	assert.Len(t, *bin, 2*(TokenSize+MaskSize+4))
	assert.Equal(t, byte(7), (*bin)[0])
	assert.Equal(t, byte(1), (*bin)[16])
}

func TestReshape(t *testing.T) {
	flat := Tokens{1, 2, 3, 4, 5, 6}
	rows, err := Reshape(flat, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []Tokens{{1, 2, 3}, {4, 5, 6}}, rows)

	// Rows are capped, so appending to one never overwrites the next.
	_ = append(rows[0], 99)
	assert.Equal(t, Token(4), rows[1][0])

	_, err = Reshape(flat, 4, 2)
	assert.Error(t, err)
	_, err = Reshape(LossMasks{}, 0, 5)
	assert.NoError(t, err)
}

func TestBatchFlatten(t *testing.T) {
	tokens, _ := Reshape(Tokens{1, 2, 3, 4}, 2, 2)
	masks, _ := Reshape(LossMasks{0, 1, 1, 0}, 2, 2)
	batch := Batch{Tokens: tokens, LossMasks: masks}
	rows, cols := batch.Shape()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 2, cols)
	assert.Equal(t, Tokens{1, 2, 3, 4}, batch.FlatTokens())
	assert.Equal(t, LossMasks{0, 1, 1, 0}, batch.FlatLossMasks())

	empty := Batch{}
	rows, cols = empty.Shape()
	assert.Zero(t, rows)
	assert.Zero(t, cols)
}

func TestBatchPadRows(t *testing.T) {
	batch := Batch{
		Tokens:        []Tokens{{1, 2}},
		LossMasks:     []LossMasks{{0, 1}},
		AttentionMask: []AttentionMask{{1, 1}},
	}
	padded, err := batch.PadRows(3, 2, 9)
	require.NoError(t, err)
	assert.Equal(t, []Tokens{{1, 2}, {9, 9}, {9, 9}}, padded.Tokens)
	assert.Equal(t, []LossMasks{{0, 1}, {0, 0}, {0, 0}}, padded.LossMasks)
	assert.Equal(t, []AttentionMask{{1, 1}, {0, 0}, {0, 0}},
		padded.AttentionMask)

	full, err := padded.PadRows(3, 2, 9)
	require.NoError(t, err)
	assert.Equal(t, padded, full)

	_, err = padded.PadRows(2, 2, 9)
	assert.Error(t, err)
	_, err = batch.PadRows(3, 4, 9)
	assert.Error(t, err)
}

func TestRecordFromJSON(t *testing.T) {
	record, err := RecordFromJSON([]byte(
		`{"text": "a \"quoted\" line", "n": 3, "ok": true, "nested": {"a": [1]}, "none": null}`))
	require.NoError(t, err)
	assert.Equal(t, Record{
		"text":   `a "quoted" line`,
		"n":      "3",
		"ok":     "true",
		"nested": `{"a": [1]}`,
	}, record)
	_, present := record["none"]
	assert.False(t, present)

	_, err = RecordFromJSON([]byte(`["not", "an", "object"]`))
	assert.Error(t, err)
	_, err = RecordFromJSON([]byte(`{"broken": `))
	assert.Error(t, err)
}
