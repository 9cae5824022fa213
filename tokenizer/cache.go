package tokenizer

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/wbrown/lm_data/types"
)

// Cached memoizes Encode for repeated texts, which is common for prompts and
// templated fields. The returned Tokens are shared and must not be mutated.
// Cached is safe for concurrent use when the wrapped Tokenizer is.
type Cached struct {
	Tokenizer
	cache  *lru.ARCCache
	hits   atomic.Int64
	misses atomic.Int64
}

func NewCached(tokenizer Tokenizer, size int) (*Cached, error) {
	cache, err := lru.NewARC(size)
	if err != nil {
		return nil, err
	}
	return &Cached{Tokenizer: tokenizer, cache: cache}, nil
}

// Encode returns the cached encoding of text. Failed encodings are not
// cached.
func (cached *Cached) Encode(text string) (types.Tokens, error) {
	if hit, ok := cached.cache.Get(text); ok {
		cached.hits.Add(1)
		return hit.(types.Tokens), nil
	}
	cached.misses.Add(1)
	tokens, err := cached.Tokenizer.Encode(text)
	if err != nil {
		return nil, err
	}
	cached.cache.Add(text, tokens)
	return tokens, nil
}

// Hits is the number of Encode calls served from the cache.
func (cached *Cached) Hits() int64 {
	return cached.hits.Load()
}

// Misses is the number of Encode calls passed to the wrapped Tokenizer.
func (cached *Cached) Misses() int64 {
	return cached.misses.Load()
}

// Len is the number of cached texts.
func (cached *Cached) Len() int {
	return cached.cache.Len()
}
