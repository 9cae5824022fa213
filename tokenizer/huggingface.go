package tokenizer

import (
	"log"

	"github.com/pkg/errors"
	hftokenizer "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	"github.com/wbrown/lm_data/types"
)

// HuggingFace adapts a HuggingFace `tokenizer.json`.
type HuggingFace struct {
	Path      string
	tokenizer *hftokenizer.Tokenizer
	vocabSize int
	bos       types.Token
	eos       types.Token
	pad       types.Token
}

// NewHuggingFace loads `tokenizer.json` and looks up the given special token
// strings in its vocabulary. A missing pad token falls back to the end of
// sequence token.
func NewHuggingFace(path, bosToken, eosToken,
	padToken string) (*HuggingFace, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, err
	}
	vocab := tk.GetVocab(true)
	lookup := func(token string, fallbacks ...string) (types.Token, bool) {
		for _, candidate := range append([]string{token}, fallbacks...) {
			if id, ok := vocab[candidate]; ok {
				return types.Token(id), true
			}
		}
		return 0, false
	}
	bos, ok := lookup(bosToken, "<|begin_of_text|>", "<|endoftext|>")
	if !ok {
		return nil, errors.Errorf("%s: bos token %q not in vocabulary",
			path, bosToken)
	}
	eos, ok := lookup(eosToken, "<|end_of_text|>", "<|endoftext|>")
	if !ok {
		return nil, errors.Errorf("%s: eos token %q not in vocabulary",
			path, eosToken)
	}
	pad, ok := lookup(padToken, "<|padding|>")
	if !ok {
		pad = eos
	}
	log.Printf("Loaded HuggingFace tokenizer %s, %d tokens", path,
		len(vocab))
	return &HuggingFace{
		Path:      path,
		tokenizer: tk,
		vocabSize: len(vocab),
		bos:       bos,
		eos:       eos,
		pad:       pad,
	}, nil
}

// Encode does not add the tokenizer's own post-processing specials; the
// text processor places BOS/EOS itself.
func (hf *HuggingFace) Encode(text string) (types.Tokens, error) {
	encoding, err := hf.tokenizer.EncodeSingle(text, false)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot encode %q with %s", text,
			hf.Path)
	}
	tokens := make(types.Tokens, len(encoding.Ids))
	for idx, id := range encoding.Ids {
		tokens[idx] = types.Token(id)
	}
	return tokens, nil
}

func (hf *HuggingFace) Decode(tokens types.Tokens) string {
	ids := make([]int, len(tokens))
	for idx, token := range tokens {
		ids[idx] = int(token)
	}
	return hf.tokenizer.Decode(ids, true)
}

func (hf *HuggingFace) BosID() types.Token {
	return hf.bos
}

func (hf *HuggingFace) EosID() types.Token {
	return hf.eos
}

func (hf *HuggingFace) PadID() types.Token {
	return hf.pad
}

func (hf *HuggingFace) VocabSize() int {
	return hf.vocabSize
}
