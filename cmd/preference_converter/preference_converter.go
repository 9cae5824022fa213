package main

import (
	"flag"
	"log"
	"os"

	"github.com/wbrown/lm_data/pkg/preference"
	"github.com/wbrown/lm_data/sources"
	"github.com/wbrown/lm_data/types"
)

const argillaDataset = "argilla/ultrafeedback-binarized-preferences-cleaned"

type converterArgs struct {
	dataset    string
	input      string
	split      string
	reference  string
	output     string
	seed       int64
	maxSamples int
}

// loadRecords reads a local, http(s)://, s3:// or glob JSON-lines export
// when path is set, and the dataset's Hub Parquet conversion otherwise.
func loadRecords(path, dataset, split string) ([]types.Record, error) {
	if path != "" {
		return sources.Collect(sources.FromPath(path))
	}
	return sources.Collect(sources.NewHub(dataset, "", split, false))
}

func run(args converterArgs) (int, error) {
	records, err := loadRecords(args.input, args.dataset, args.split)
	if err != nil {
		return 0, err
	}
	log.Printf("Loaded %d records of %s", len(records), args.dataset)
	opts := preference.DefaultOptions()
	opts.Seed = args.seed
	opts.MaxSamples = args.maxSamples
	if args.dataset == "HuggingFaceH4/ultrafeedback_binarized" {
		reference, err := loadRecords(args.reference, argillaDataset, "train")
		if err != nil {
			return 0, err
		}
		opts.ReferencePrompts = preference.ReferencePrompts(reference)
	}
	samples, err := preference.Convert(args.dataset, records, opts)
	if err != nil {
		return 0, err
	}
	outFile, err := os.Create(args.output)
	if err != nil {
		return 0, err
	}
	if err := preference.WriteJSONLines(outFile, samples); err != nil {
		outFile.Close()
		return 0, err
	}
	return len(samples), outFile.Close()
}

func main() {
	var args converterArgs
	flag.StringVar(&args.dataset, "input_dataset", "",
		"dataset id to convert")
	flag.StringVar(&args.input, "input", "",
		"JSON lines export of the dataset, read from the Hub when empty")
	flag.StringVar(&args.split, "split", "train", "Hub split to read")
	flag.StringVar(&args.reference, "reference", "",
		"JSON lines export of "+argillaDataset+
			", used to filter HuggingFaceH4/ultrafeedback_binarized")
	flag.StringVar(&args.output, "output", "", "output JSON lines file")
	flag.Int64Var(&args.seed, "seed", 42, "shuffle seed")
	flag.IntVar(&args.maxSamples, "max_samples", 5_000_000,
		"maximum number of input records to convert")
	flag.Parse()
	if args.dataset == "" || args.output == "" {
		flag.Usage()
		log.Fatalf("Must provide -input_dataset and -output; datasets: %v",
			preference.Datasets())
	}
	written, err := run(args)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %d samples to %s", written, args.output)
}
