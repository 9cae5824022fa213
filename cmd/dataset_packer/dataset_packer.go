package main

import (
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/wbrown/lm_data"
	"github.com/wbrown/lm_data/tokenizer"
	"github.com/wbrown/lm_data/types"
)

// Layout is the fixed shape of every batch in a packed file.
type Layout struct {
	BatchSize int
	SeqLength int
	// Pad fills the rows of a short final batch.
	Pad types.Token
}

// WriteBatches pulls up to maxBatches batches from the iterator, or every
// batch when maxBatches is 0, and appends each one's tokens and then its
// loss masks to the output file as little-endian binary. Short batches are
// padded to the layout with pad tokens under a zero mask, so every record
// in the file has the same size. When decoder is non-nil every row is
// printed as it is written.
func WriteBatches(
	outPath string,
	batches lm_data.BatchIterator,
	maxBatches int,
	layout Layout,
	decoder tokenizer.Tokenizer,
) (numBatches int, numTokens int, err error) {
	outFile, err := os.Create(outPath)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if closeErr := outFile.Close(); err == nil {
			err = closeErr
		}
	}()
	for maxBatches == 0 || numBatches < maxBatches {
		batch, nextErr := batches.Next()
		if errors.Is(nextErr, io.EOF) {
			break
		} else if nextErr != nil {
			return numBatches, numTokens, nextErr
		}
		batch, err = batch.PadRows(layout.BatchSize, layout.SeqLength,
			layout.Pad)
		if err != nil {
			return numBatches, numTokens, err
		}
		tokens := batch.FlatTokens()
		masks := batch.FlatLossMasks()
		tokensBin, binErr := tokens.ToBin()
		if binErr != nil {
			return numBatches, numTokens, binErr
		}
		masksBin, binErr := masks.ToBin()
		if binErr != nil {
			return numBatches, numTokens, binErr
		}
		if _, err := outFile.Write(*tokensBin); err != nil {
			return numBatches, numTokens, err
		}
		if _, err := outFile.Write(*masksBin); err != nil {
			return numBatches, numTokens, err
		}
		if decoder != nil {
			showBatch(decoder, batch)
		}
		numBatches++
		numTokens += len(tokens)
	}
	return numBatches, numTokens, nil
}

func batchSizeOf(config lm_data.DatasetConfig) int {
	switch config.Type {
	case lm_data.DatasetTypeHuggingface:
		return config.HuggingfaceDataset.BatchSize
	case lm_data.DatasetTypeJsonTorch:
		return config.JsonTorchDataset.BatchSize
	default:
		return config.JsonDataset.BatchSize
	}
}

func showBatch(decoder tokenizer.Tokenizer, batch types.Batch) {
	for _, row := range batch.Tokens {
		println(len(row))
		println("======================================")
		println(decoder.Decode(row))
	}
}

func main() {
	configPath := flag.String("config", "",
		"YAML dataset config; flags that are set override it")
	datasetType := flag.String("type", lm_data.DatasetTypeJson,
		"dataset type [huggingface, json, json_torch]")
	inputPath := flag.String("input", "",
		"dataset path: JSON lines file, glob, http(s):// or s3:// for "+
			"json and json_torch, a Hub dataset id for huggingface")
	hfName := flag.String("name", "en", "Hub dataset config name")
	hfSplit := flag.String("split", "train", "Hub dataset split")
	hfStreaming := flag.Bool("streaming", false,
		"download Hub shards as they are reached")
	fields := flag.String("fields", "",
		"comma separated field spec, e.g. [prompt],completion")
	fieldsFromExample := flag.String("fields_from_example", "",
		"record field that holds the field spec")
	separator := flag.String("subfield_separator", " ",
		"separator between + joined fields")
	noEos := flag.Bool("no_eos", false,
		"do not append an end of sequence token to every record")
	prependText := flag.String("prepend_text", "",
		"text prepended to the first field")
	seqLength := flag.Int("seq_length", 1024, "sequence length")
	batchSize := flag.Int("batch_size", 8, "batch size")
	numWorkers := flag.Int("num_workers", 1,
		"collation workers for json_torch")
	seed := flag.Int64("seed", 0, "shuffle seed for json_torch")
	tokenizerId := flag.String("tokenizer", "gpt2",
		"tokenizer to use [gpt2, pile, huggingface-id, bytes, "+
			"path/to/tokenizer.model, path/to/tokenizer.json]")
	cacheSize := flag.Int("cache", 0, "encode cache entries, 0 disables")
	maxBatches := flag.Int("batches", 100,
		"batches to write, 0 for all (finite datasets only)")
	outputFile := flag.String("output", "packed.bin",
		"packed output file")
	showContexts := flag.Bool("show_contexts", false,
		"show rows as they are packed")
	flag.Parse()

	config := lm_data.DefaultDatasetConfig()
	if *configPath != "" {
		var err error
		if config, err = lm_data.LoadDatasetConfig(*configPath); err != nil {
			log.Fatal(err)
		}
	}
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if *configPath == "" || set["type"] {
		config.Type = *datasetType
	}
	applyFlags(&config, set, flagValues{
		input:             *inputPath,
		name:              *hfName,
		split:             *hfSplit,
		streaming:         *hfStreaming,
		fields:            *fields,
		fieldsFromExample: *fieldsFromExample,
		separator:         *separator,
		addEos:            !*noEos,
		prependText:       *prependText,
		seqLength:         *seqLength,
		batchSize:         *batchSize,
		numWorkers:        *numWorkers,
		seed:              *seed,
	})

	tokConfig := tokenizer.DefaultConfig()
	tokConfig.Name = *tokenizerId
	tokConfig.CacheSize = *cacheSize
	log.Printf("Tokenizer definition: %s\n", tokConfig.Name)
	log.Printf("Dataset type: %s\n", config.Type)
	log.Printf("Packed output: %s\n", *outputFile)
	tok, err := tokenizer.New(tokConfig)
	if err != nil {
		log.Fatal(err)
	}

	dataset, err := lm_data.LoadDataset(config, tok)
	if err != nil {
		log.Fatal(err)
	}
	batches, err := dataset.Batches()
	if err != nil {
		log.Fatal(err)
	}
	defer batches.Close()

	var decoder tokenizer.Tokenizer
	if *showContexts {
		decoder = dataset.Tokenizer()
	}
	begin := time.Now()
	layout := Layout{
		BatchSize: batchSizeOf(config),
		SeqLength: dataset.SeqLength(),
		Pad:       dataset.Tokenizer().PadID(),
	}
	numBatches, total, err := WriteBatches(*outputFile, batches, *maxBatches,
		layout, decoder)
	if err != nil {
		log.Fatal(err)
	}
	duration := time.Since(begin).Seconds()
	log.Printf("%s batches, %s tokens in %0.2fs, %s tokens/s",
		humanize.Comma(int64(numBatches)), humanize.Comma(int64(total)),
		duration, humanize.Commaf(float64(total)/duration))
	if cached, ok := tok.(*tokenizer.Cached); ok {
		log.Printf("Encode cache: %d hits, %d misses", cached.Hits(),
			cached.Misses())
	}
}
