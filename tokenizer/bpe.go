package tokenizer

import (
	"log"

	"github.com/wbrown/gpt_bpe"
	"github.com/wbrown/lm_data/types"
)

// BPE adapts a gpt_bpe.GPTEncoder.
type BPE struct {
	VocabId string
	encoder *gpt_bpe.GPTEncoder
}

// NewBPE loads a gpt_bpe vocabulary. Embedded vocabularies are tried first
// as `<id>-tokenizer`, then the id is resolved as a path or HuggingFace id.
func NewBPE(vocabId string) (*BPE, error) {
	encoder, err := gpt_bpe.NewEncoder(vocabId + "-tokenizer")
	if err != nil {
		// Fall back to path-like.
		encoder, err = gpt_bpe.NewEncoder(vocabId)
		if err != nil {
			return nil, err
		}
	}
	log.Printf("Loaded BPE tokenizer %s, %d tokens", vocabId,
		len(encoder.Encoder))
	return &BPE{VocabId: vocabId, encoder: encoder}, nil
}

func (bpe *BPE) Encode(text string) (types.Tokens, error) {
	encoded := bpe.encoder.Encode(&text)
	tokens := make(types.Tokens, len(*encoded))
	for idx, token := range *encoded {
		tokens[idx] = types.Token(token)
	}
	return tokens, nil
}

func (bpe *BPE) Decode(tokens types.Tokens) string {
	encoded := make(gpt_bpe.Tokens, len(tokens))
	for idx, token := range tokens {
		encoded[idx] = gpt_bpe.Token(token)
	}
	return bpe.encoder.Decode(&encoded)
}

func (bpe *BPE) BosID() types.Token {
	return types.Token(bpe.encoder.BosToken)
}

func (bpe *BPE) EosID() types.Token {
	return types.Token(bpe.encoder.EosToken)
}

func (bpe *BPE) PadID() types.Token {
	return types.Token(bpe.encoder.PadToken)
}

func (bpe *BPE) VocabSize() int {
	return len(bpe.encoder.Encoder)
}
