package types

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

func (tokens *Tokens) ToBin() (*[]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, len(*tokens)*TokenSize))
	if err := binary.Write(buf, binary.LittleEndian, *tokens); err != nil {
		return nil, err
	}
	byt := buf.Bytes()
	return &byt, nil
}

func (masks *LossMasks) ToBin() (*[]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, len(*masks)*MaskSize))
	if err := binary.Write(buf, binary.LittleEndian, *masks); err != nil {
		return nil, err
	}
	byt := buf.Bytes()
	return &byt, nil
}

func (mask *AttentionMask) ToBin() (*[]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, len(*mask)*TokenSize))
	if err := binary.Write(buf, binary.LittleEndian, *mask); err != nil {
		return nil, err
	}
	byt := buf.Bytes()
	return &byt, nil
}

func TokensFromBin(bin *[]byte) *Tokens {
	tokens := make(Tokens, 0, len(*bin)/TokenSize)
	buf := bytes.NewReader(*bin)
	for {
		var token Token
		if err := binary.Read(buf, binary.LittleEndian, &token); err != nil {
			break
		}
		tokens = append(tokens, token)
	}
	return &tokens
}

func LossMasksFromBin(bin *[]byte) *LossMasks {
	masks := make(LossMasks, len(*bin)/MaskSize)
	if err := binary.Read(bytes.NewReader(*bin), binary.LittleEndian,
		masks); err != nil {
		masks = masks[:0]
	}
	return &masks
}

// ToBin serializes all three arrays of the example back to back.
func (example *Example) ToBin() (*[]byte, error) {
	tokensBin, err := example.Tokens.ToBin()
	if err != nil {
		return nil, err
	}
	masksBin, err := example.LossMasks.ToBin()
	if err != nil {
		return nil, err
	}
	attnBin, err := example.AttentionMask.ToBin()
	if err != nil {
		return nil, err
	}
	byt := make([]byte, 0, len(*tokensBin)+len(*masksBin)+len(*attnBin))
	byt = append(byt, *tokensBin...)
	byt = append(byt, *masksBin...)
	byt = append(byt, *attnBin...)
	return &byt, nil
}

// Reshape splits a flat slice into `rows` rows of `cols` elements,
// row-major. The rows share the flat slice's backing array.
func Reshape[S ~[]E, E any](flat S, rows, cols int) ([]S, error) {
	if rows < 0 || cols < 0 || len(flat) != rows*cols {
		return nil, fmt.Errorf("cannot reshape %d elements into (%d, %d)",
			len(flat), rows, cols)
	}
	shaped := make([]S, rows)
	for row := 0; row < rows; row++ {
		shaped[row] = flat[row*cols : (row+1)*cols : (row+1)*cols]
	}
	return shaped, nil
}

// Shape returns (batch_size, seq_length).
func (batch *Batch) Shape() (int, int) {
	if len(batch.Tokens) == 0 {
		return 0, 0
	}
	return len(batch.Tokens), len(batch.Tokens[0])
}

// FlatTokens concatenates the rows back into one stream.
func (batch *Batch) FlatTokens() Tokens {
	rows, cols := batch.Shape()
	flat := make(Tokens, 0, rows*cols)
	for _, row := range batch.Tokens {
		flat = append(flat, row...)
	}
	return flat
}

func (batch *Batch) FlatLossMasks() LossMasks {
	rows, cols := batch.Shape()
	flat := make(LossMasks, 0, rows*cols)
	for _, row := range batch.LossMasks {
		flat = append(flat, row...)
	}
	return flat
}

// PadRows extends a short batch to rows rows of cols tokens. Added rows hold
// pad with zero loss and attention masks.
func (batch *Batch) PadRows(rows, cols int, pad Token) (Batch, error) {
	have, width := batch.Shape()
	if have > rows || (have > 0 && width != cols) {
		return Batch{}, fmt.Errorf("cannot pad (%d, %d) batch to (%d, %d)",
			have, width, rows, cols)
	}
	if have == rows {
		return *batch, nil
	}
	tokens := make(Tokens, rows*cols)
	masks := make(LossMasks, rows*cols)
	copy(tokens, batch.FlatTokens())
	copy(masks, batch.FlatLossMasks())
	for idx := have * cols; idx < len(tokens); idx++ {
		tokens[idx] = pad
	}
	padded := Batch{}
	padded.Tokens, _ = Reshape(tokens, rows, cols)
	padded.LossMasks, _ = Reshape(masks, rows, cols)
	if batch.AttentionMask != nil {
		attention := make(AttentionMask, rows*cols)
		for row, values := range batch.AttentionMask {
			copy(attention[row*cols:(row+1)*cols], values)
		}
		padded.AttentionMask, _ = Reshape(attention, rows, cols)
	}
	return padded, nil
}

// RecordFromJSON decodes one JSON object into a Record. String values are
// kept as-is and null values are left out, so a null field reads as missing.
// Every other value keeps its JSON text.
func RecordFromJSON(line []byte) (Record, error) {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, err
	}
	record := make(Record, len(raw))
	for field, value := range raw {
		if string(value) == "null" {
			continue
		}
		var str string
		if len(value) > 0 && value[0] == '"' {
			if err := json.Unmarshal(value, &str); err != nil {
				return nil, err
			}
		} else {
			str = string(value)
		}
		record[field] = str
	}
	return record, nil
}
