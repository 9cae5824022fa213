package lm_data

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/wbrown/lm_data/sources"
	"github.com/wbrown/lm_data/tokenizer"
	"github.com/wbrown/lm_data/types"
)

// Logger receives dataset progress messages.
var Logger = log.New(os.Stderr, "", log.LstdFlags)

const (
	DatasetTypeHuggingface = "huggingface"
	DatasetTypeJson        = "json"
	DatasetTypeJsonTorch   = "json_torch"
)

var ErrUnknownDatasetType = errors.New("unknown dataset type")

// BatchIterator yields batches until its source is exhausted, which for the
// streaming datasets is never. Close stops it and releases its source.
type BatchIterator interface {
	Next() (types.Batch, error)
	Close() error
}

// Dataset is what a training loop consumes.
type Dataset interface {
	Batches() (BatchIterator, error)
	SeqLength() int
	VocabSize() int
	Tokenizer() tokenizer.Tokenizer
	TextProcessor() *TextProcessor
}

// StreamingDataset packs the records of a source into batches of
// BatchSize rows of SeqLength tokens.
type StreamingDataset struct {
	Source    sources.Source
	BatchSize int
	seqLength int
	processor *TextProcessor
}

func NewStreamingDataset(
	source sources.Source,
	processor *TextProcessor,
	batchSize, seqLength int,
) (*StreamingDataset, error) {
	if batchSize <= 0 || seqLength <= 0 {
		return nil, fmt.Errorf(
			"batch_size and seq_length must be positive, got %d and %d",
			batchSize, seqLength)
	}
	return &StreamingDataset{
		Source:    source,
		BatchSize: batchSize,
		seqLength: seqLength,
		processor: processor,
	}, nil
}

// NewHuggingfaceDataset streams a Hub dataset, starting over from its first
// shard whenever the split is exhausted.
func NewHuggingfaceDataset(
	config HuggingfaceDatasetConfig,
	processor *TextProcessor,
) (*StreamingDataset, error) {
	if config.Path == "" {
		return nil, errors.New("huggingface_dataset.path must be specified")
	}
	hub := sources.NewHub(config.Path, config.Name, config.Split,
		config.Streaming)
	hub.CacheDir = config.CacheDir
	return NewStreamingDataset(sources.NewLoop(hub), processor,
		config.BatchSize, config.SeqLength)
}

// NewJsonDataset streams a JSON-lines path, re-reading it forever.
func NewJsonDataset(
	config JsonDatasetConfig,
	processor *TextProcessor,
) (*StreamingDataset, error) {
	if config.Path == "" {
		return nil, errors.New("json_dataset.path must be specified")
	}
	return NewStreamingDataset(sources.NewLoop(sources.FromPath(config.Path)),
		processor, config.BatchSize, config.SeqLength)
}

func (ds *StreamingDataset) SeqLength() int {
	return ds.seqLength
}

func (ds *StreamingDataset) VocabSize() int {
	return ds.processor.Tokenizer().VocabSize()
}

func (ds *StreamingDataset) Tokenizer() tokenizer.Tokenizer {
	return ds.processor.Tokenizer()
}

func (ds *StreamingDataset) TextProcessor() *TextProcessor {
	return ds.processor
}

type streamIterator struct {
	records   sources.RecordIterator
	processor *TextProcessor
	packer    *StreamPacker
}

// Batches starts a new iterator with an empty carry buffer.
func (ds *StreamingDataset) Batches() (BatchIterator, error) {
	packer, err := NewStreamPacker(ds.BatchSize, ds.seqLength)
	if err != nil {
		return nil, err
	}
	records, err := ds.Source.Records()
	if err != nil {
		return nil, err
	}
	return &streamIterator{
		records:   records,
		processor: ds.processor,
		packer:    packer,
	}, nil
}

// Next pulls records until the packer has a batch ready. When the source is
// finite, io.EOF is returned once it runs dry; the carry left over at that
// point is never emitted.
func (it *streamIterator) Next() (types.Batch, error) {
	for {
		if batch, ok := it.packer.Pop(); ok {
			return batch, nil
		}
		record, err := it.records.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return types.Batch{}, io.EOF
			}
			return types.Batch{}, err
		}
		tokens, masks, err := it.processor.Process(record)
		if err != nil {
			return types.Batch{}, err
		}
		if err := it.packer.Push(tokens, masks); err != nil {
			return types.Batch{}, err
		}
	}
}

func (it *streamIterator) Close() error {
	return it.records.Close()
}

// LoadDataset builds the dataset named by config.Type.
func LoadDataset(config DatasetConfig, tok tokenizer.Tokenizer) (Dataset,
	error) {
	processor, err := NewTextProcessor(config.TextProcessor, tok)
	if err != nil {
		return nil, err
	}
	var dataset Dataset
	switch config.Type {
	case DatasetTypeHuggingface:
		dataset, err = NewHuggingfaceDataset(config.HuggingfaceDataset,
			processor)
	case DatasetTypeJson:
		dataset, err = NewJsonDataset(config.JsonDataset, processor)
	case DatasetTypeJsonTorch:
		var bounded *BoundedDataset
		bounded, err = LoadBoundedDataset(config.JsonTorchDataset, processor)
		if err != nil {
			return nil, err
		}
		dataset, err = NewLoader(bounded, config.JsonTorchDataset.BatchSize,
			config.JsonTorchDataset.NumWorkers, config.JsonTorchDataset.Seed)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDatasetType, config.Type)
	}
	if err != nil {
		return nil, err
	}
	return dataset, nil
}
