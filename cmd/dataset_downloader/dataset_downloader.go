package main

import (
	"flag"
	"log"
	"os"

	"github.com/wbrown/lm_data/sources"
)

func main() {
	datasetId := flag.String("dataset", "",
		"huggingface dataset id to fetch")
	name := flag.String("name", "", "dataset config name")
	split := flag.String("split", "train", "dataset split")
	destPath := flag.String("dest", "",
		"cache directory to download the parquet shards to")
	flag.Parse()
	if *datasetId == "" {
		flag.Usage()
		log.Fatal("Must provide -dataset")
	}

	hub := sources.NewHub(*datasetId, *name, *split, false)
	if *destPath != "" {
		if err := os.MkdirAll(*destPath, 0755); err != nil {
			log.Fatal(err)
		}
		hub.CacheDir = *destPath
	}
	paths, err := hub.Download()
	if err != nil {
		log.Fatalf("Error downloading dataset shards: %s", err)
	}
	for _, path := range paths {
		log.Print(path)
	}
}
