package sources

import (
	"sync/atomic"

	"github.com/wbrown/lm_data/types"
)

// Loop turns a finite source into an endless one by starting a new pass
// whenever the current one is exhausted.
type Loop struct {
	Source Source
	passes atomic.Int64
}

func NewLoop(source Source) *Loop {
	return &Loop{Source: source}
}

// Passes counts completed passes across all iterators.
func (l *Loop) Passes() int64 {
	return l.passes.Load()
}

type loopIterator struct {
	loop    *Loop
	current RecordIterator
	yielded bool
}

func (l *Loop) Records() (RecordIterator, error) {
	iter, err := l.Source.Records()
	if err != nil {
		return nil, err
	}
	return &loopIterator{loop: l, current: iter}, nil
}

// Next restarts in place rather than recursing, so an endless stream never
// grows the stack. A pass that yields nothing ends the loop with
// ErrEmptySource instead of spinning.
func (it *loopIterator) Next() (types.Record, error) {
	for {
		if it.current == nil {
			iter, err := it.loop.Source.Records()
			if err != nil {
				return nil, err
			}
			it.current = iter
		}
		record, err := it.current.Next()
		if err == nil {
			it.yielded = true
			return record, nil
		}
		it.current.Close()
		it.current = nil
		if !isEOF(err) {
			return nil, err
		}
		it.loop.passes.Add(1)
		if !it.yielded {
			return nil, ErrEmptySource
		}
		it.yielded = false
	}
}

func (it *loopIterator) Close() error {
	if it.current == nil {
		return nil
	}
	err := it.current.Close()
	it.current = nil
	return err
}
