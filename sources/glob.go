package sources

import (
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/wbrown/lm_data/types"
	"github.com/yargevad/filepathx"
)

// Glob reads every JSON-lines file matching a pattern, in path order.
// Local patterns support `**`; an `s3://bucket/prefix/` pattern lists every
// `.json`/`.jsonl` object under the prefix.
type Glob struct {
	Pattern string
}

func NewGlob(pattern string) *Glob {
	return &Glob{Pattern: pattern}
}

// Paths expands the pattern.
func (g *Glob) Paths() ([]string, error) {
	var paths []string
	var err error
	if strings.HasPrefix(g.Pattern, "s3://") {
		paths, err = ListS3(g.Pattern, ".json", ".jsonl")
	} else {
		paths, err = filepathx.Glob(g.Pattern)
	}
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("%s does not match any files", g.Pattern)
	}
	sort.Strings(paths)
	return paths, nil
}

type openedSource struct {
	path string
	iter RecordIterator
	err  error
}

type globIterator struct {
	opened    chan openedSource
	done      chan struct{}
	current   RecordIterator
	closeOnce sync.Once
}

func (g *Glob) Records() (RecordIterator, error) {
	paths, err := g.Paths()
	if err != nil {
		return nil, err
	}
	// We pre-emptively open the next files while the prior file is being
	// consumed.
	opened := make(chan openedSource, 2)
	done := make(chan struct{})
	go func() {
		defer close(opened)
		for _, path := range paths {
			iter, openErr := NewJSONLines(path).Records()
			select {
			case opened <- openedSource{path, iter, openErr}:
			case <-done:
				if iter != nil {
					iter.Close()
				}
				return
			}
			if openErr != nil {
				return
			}
		}
	}()
	return &globIterator{opened: opened, done: done}, nil
}

func (it *globIterator) Next() (types.Record, error) {
	for {
		if it.current == nil {
			next, ok := <-it.opened
			if !ok {
				return nil, io.EOF
			}
			if next.err != nil {
				return nil, next.err
			}
			Logger.Print("Reading ", next.path)
			it.current = next.iter
		}
		record, err := it.current.Next()
		if err == nil {
			return record, nil
		}
		it.current.Close()
		it.current = nil
		if !isEOF(err) {
			return nil, err
		}
	}
}

func (it *globIterator) Close() error {
	it.closeOnce.Do(func() {
		close(it.done)
		if it.current != nil {
			it.current.Close()
			it.current = nil
		}
		for next := range it.opened {
			if next.iter != nil {
				next.iter.Close()
			}
		}
	})
	return nil
}
