package lm_data

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/wbrown/lm_data/sources"
	"github.com/wbrown/lm_data/tokenizer"
	"github.com/wbrown/lm_data/types"
)

var ErrIndexOutOfRange = errors.New("example index out of range")

// BoundedDataset holds every record of a finite source as one
// truncated-or-padded example. It is read-only once loaded, so Get may be
// called from any number of goroutines.
type BoundedDataset struct {
	seqLength int
	processor *TextProcessor
	examples  []types.Example
}

// MakeExample truncates or right-pads one record's buffers to seqLength.
// Truncation drops the tail and does not put an EOS token back.
func MakeExample(
	tokens types.Tokens,
	masks types.LossMasks,
	seqLength int,
	pad types.Token,
) types.Example {
	if len(tokens) > seqLength {
		tokens = tokens[:seqLength]
		masks = masks[:seqLength]
	}
	example := types.Example{
		Tokens:        make(types.Tokens, seqLength),
		LossMasks:     make(types.LossMasks, seqLength),
		AttentionMask: make(types.AttentionMask, seqLength),
	}
	copy(example.Tokens, tokens)
	copy(example.LossMasks, masks)
	for i := range tokens {
		example.AttentionMask[i] = 1
	}
	for i := len(tokens); i < seqLength; i++ {
		example.Tokens[i] = pad
	}
	return example
}

// NewBoundedDataset runs the processor over every record of a finite
// source, in order.
func NewBoundedDataset(
	source sources.Source,
	processor *TextProcessor,
	seqLength int,
) (*BoundedDataset, error) {
	if seqLength <= 0 {
		return nil, fmt.Errorf("seq_length must be positive, got %d",
			seqLength)
	}
	records, err := source.Records()
	if err != nil {
		return nil, err
	}
	defer records.Close()
	pad := processor.Tokenizer().PadID()
	ds := &BoundedDataset{seqLength: seqLength, processor: processor}
	var numTokens uint64
	for {
		record, err := records.Next()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, err
		}
		tokens, masks, err := processor.Process(record)
		if err != nil {
			return nil, err
		}
		numTokens += uint64(len(tokens))
		ds.examples = append(ds.examples,
			MakeExample(tokens, masks, seqLength, pad))
	}
	Logger.Printf("Loaded %s examples, %s tokens before truncation",
		humanize.Comma(int64(len(ds.examples))), humanize.Comma(int64(numTokens)))
	return ds, nil
}

// LoadBoundedDataset loads config.Path, which may be a local, `http(s)://`
// or `s3://` JSON-lines file or a glob of them.
func LoadBoundedDataset(
	config JsonTorchDatasetConfig,
	processor *TextProcessor,
) (*BoundedDataset, error) {
	if config.Path == "" {
		return nil, errors.New("json_torch_dataset.path must be specified")
	}
	return NewBoundedDataset(sources.FromPath(config.Path), processor,
		config.SeqLength)
}

func (ds *BoundedDataset) Len() int {
	return len(ds.examples)
}

// Get returns the stored example. The arrays are shared; callers must not
// modify them.
func (ds *BoundedDataset) Get(idx int) (types.Example, error) {
	if idx < 0 || idx >= len(ds.examples) {
		return types.Example{}, fmt.Errorf("%w: %d of %d",
			ErrIndexOutOfRange, idx, len(ds.examples))
	}
	return ds.examples[idx], nil
}

func (ds *BoundedDataset) SeqLength() int {
	return ds.seqLength
}

func (ds *BoundedDataset) VocabSize() int {
	return ds.processor.Tokenizer().VocabSize()
}

func (ds *BoundedDataset) Tokenizer() tokenizer.Tokenizer {
	return ds.processor.Tokenizer()
}

func (ds *BoundedDataset) TextProcessor() *TextProcessor {
	return ds.processor
}

// Collate stacks examples into one batch of len(examples) rows.
func Collate(examples []types.Example, seqLength int) (types.Batch, error) {
	rows := len(examples)
	tokens := make(types.Tokens, 0, rows*seqLength)
	masks := make(types.LossMasks, 0, rows*seqLength)
	attention := make(types.AttentionMask, 0, rows*seqLength)
	for _, example := range examples {
		tokens = append(tokens, example.Tokens...)
		masks = append(masks, example.LossMasks...)
		attention = append(attention, example.AttentionMask...)
	}
	var batch types.Batch
	var err error
	if batch.Tokens, err = types.Reshape(tokens, rows, seqLength); err != nil {
		return batch, err
	}
	if batch.LossMasks, err = types.Reshape(masks, rows,
		seqLength); err != nil {
		return batch, err
	}
	if batch.AttentionMask, err = types.Reshape(attention, rows,
		seqLength); err != nil {
		return batch, err
	}
	return batch, nil
}

// Loader serves a BoundedDataset as shuffled batches. Every call to Batches
// is one epoch; epoch n shuffles with Seed+n, so runs are reproducible. The
// last batch of an epoch holds the remainder and may be short. NumWorkers
// goroutines collate batches ahead of the consumer, which still receives
// them in shuffled order.
type Loader struct {
	*BoundedDataset
	BatchSize  int
	NumWorkers int
	Seed       int64

	mu    sync.Mutex
	epoch int64
}

func NewLoader(
	dataset *BoundedDataset,
	batchSize, numWorkers int,
	seed int64,
) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch_size must be positive, got %d",
			batchSize)
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Loader{
		BoundedDataset: dataset,
		BatchSize:      batchSize,
		NumWorkers:     numWorkers,
		Seed:           seed,
	}, nil
}

// Order returns the example indices of one epoch, split into batches.
func (l *Loader) Order(epoch int64) [][]int {
	perm := rand.New(rand.NewSource(l.Seed + epoch)).Perm(l.Len())
	batches := make([][]int, 0, (len(perm)+l.BatchSize-1)/l.BatchSize)
	for start := 0; start < len(perm); start += l.BatchSize {
		end := start + l.BatchSize
		if end > len(perm) {
			end = len(perm)
		}
		batches = append(batches, perm[start:end])
	}
	return batches
}

type collateResult struct {
	batch types.Batch
	err   error
}

type collateJob struct {
	indices []int
	out     chan collateResult
}

type loaderIterator struct {
	ordered   chan chan collateResult
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (l *Loader) Batches() (BatchIterator, error) {
	l.mu.Lock()
	epoch := l.epoch
	l.epoch++
	l.mu.Unlock()
	order := l.Order(epoch)

	it := &loaderIterator{
		ordered: make(chan chan collateResult, l.NumWorkers),
		done:    make(chan struct{}),
	}
	jobs := make(chan collateJob)
	for w := 0; w < l.NumWorkers; w++ {
		it.wg.Add(1)
		go func() {
			defer it.wg.Done()
			for job := range jobs {
				job.out <- l.collate(job.indices)
			}
		}()
	}
	go func() {
		defer close(it.ordered)
		defer close(jobs)
		for _, indices := range order {
			out := make(chan collateResult, 1)
			select {
			case jobs <- collateJob{indices: indices, out: out}:
			case <-it.done:
				return
			}
			select {
			case it.ordered <- out:
			case <-it.done:
				return
			}
		}
	}()
	return it, nil
}

func (l *Loader) collate(indices []int) collateResult {
	examples := make([]types.Example, 0, len(indices))
	for _, idx := range indices {
		example, err := l.Get(idx)
		if err != nil {
			return collateResult{err: err}
		}
		examples = append(examples, example)
	}
	batch, err := Collate(examples, l.SeqLength())
	return collateResult{batch: batch, err: err}
}

func (it *loaderIterator) Next() (types.Batch, error) {
	out, ok := <-it.ordered
	if !ok {
		return types.Batch{}, io.EOF
	}
	result := <-out
	return result.batch, result.err
}

func (it *loaderIterator) Close() error {
	it.closeOnce.Do(func() {
		close(it.done)
		for range it.ordered {
		}
		it.wg.Wait()
	})
	return nil
}
