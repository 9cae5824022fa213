package tokenizer

import "github.com/wbrown/lm_data/types"

const (
	ByteBos types.Token = 256 + iota
	ByteEos
	BytePad
)

// Bytes encodes every byte of the UTF-8 text as its own token, with three
// specials appended after the 256 byte values.
type Bytes struct{}

func NewBytes() *Bytes {
	return &Bytes{}
}

func (Bytes) Encode(text string) (types.Tokens, error) {
	tokens := make(types.Tokens, len(text))
	for idx := 0; idx < len(text); idx++ {
		tokens[idx] = types.Token(text[idx])
	}
	return tokens, nil
}

func (Bytes) Decode(tokens types.Tokens) string {
	decoded := make([]byte, 0, len(tokens))
	for _, token := range tokens {
		if token >= 0 && token < 256 {
			decoded = append(decoded, byte(token))
		}
	}
	return string(decoded)
}

func (Bytes) BosID() types.Token { return ByteBos }
func (Bytes) EosID() types.Token { return ByteEos }
func (Bytes) PadID() types.Token { return BytePad }
func (Bytes) VocabSize() int     { return 259 }
