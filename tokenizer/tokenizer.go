// Package tokenizer wraps the tokenizers lm_data can pack with behind one
// small capability interface.
package tokenizer

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/wbrown/lm_data/types"
)

// Tokenizer is everything the text processor and datasets need from a
// vocabulary.
type Tokenizer interface {
	Encode(text string) (types.Tokens, error)
	Decode(tokens types.Tokens) string
	BosID() types.Token
	EosID() types.Token
	PadID() types.Token
	VocabSize() int
}

// Config selects and tunes a tokenizer backend.
type Config struct {
	// Name is `bytes`, a gpt_bpe vocabulary id (gpt2, pile, clip, nerdstash_v1, a
	// HuggingFace id or a local directory), a SentencePiece `.model` file or
	// a HuggingFace `tokenizer.json` file.
	Name string `yaml:"name"`
	// Special token strings, used by the `tokenizer.json` backend.
	BosToken string `yaml:"bos_token"`
	EosToken string `yaml:"eos_token"`
	PadToken string `yaml:"pad_token"`
	// CacheSize > 0 wraps the tokenizer in an ARC encode cache.
	CacheSize int `yaml:"cache_size"`
}

func DefaultConfig() Config {
	return Config{
		Name:      "gpt2",
		BosToken:  "<s>",
		EosToken:  "</s>",
		PadToken:  "<pad>",
		CacheSize: 0,
	}
}

// New resolves a Config to a Tokenizer.
func New(config Config) (Tokenizer, error) {
	if config.Name == "" {
		return nil, errors.New("tokenizer name must not be empty")
	}
	var tok Tokenizer
	var err error
	switch {
	case config.Name == "bytes":
		tok = NewBytes()
	case strings.HasSuffix(config.Name, ".model"):
		tok, err = NewSentencePiece(config.Name)
	case strings.HasSuffix(config.Name, "tokenizer.json"):
		tok, err = NewHuggingFace(config.Name, config.BosToken,
			config.EosToken, config.PadToken)
	default:
		tok, err = NewBPE(config.Name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cannot load tokenizer %s", config.Name)
	}
	if config.CacheSize > 0 {
		cached, err := NewCached(tok, config.CacheSize)
		if err != nil {
			return nil, err
		}
		return cached, nil
	}
	return tok, nil
}
