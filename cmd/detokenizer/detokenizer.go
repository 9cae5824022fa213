package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/wbrown/lm_data/tokenizer"
	"github.com/wbrown/lm_data/types"
)

// Detokenize reads batches written by dataset_packer, each batchSize *
// seqLength tokens followed by as many loss masks, and writes every row as
// text. With showMasks, context-only tokens are wrapped in brackets.
func Detokenize(
	input io.Reader,
	output io.Writer,
	tok tokenizer.Tokenizer,
	batchSize, seqLength int,
	showMasks bool,
) (numBatches int, err error) {
	chunk := batchSize * seqLength
	tokensBin := make([]byte, chunk*types.TokenSize)
	masksBin := make([]byte, chunk*types.MaskSize)
	for {
		if _, err := io.ReadFull(input, tokensBin); err == io.EOF {
			return numBatches, nil
		} else if err != nil {
			return numBatches, err
		}
		if _, err := io.ReadFull(input, masksBin); err != nil {
			return numBatches, err
		}
		tokens := *types.TokensFromBin(&tokensBin)
		masks := *types.LossMasksFromBin(&masksBin)
		for row := 0; row < batchSize; row++ {
			start, end := row*seqLength, (row+1)*seqLength
			var text string
			if showMasks {
				text = decodeMasked(tok, tokens[start:end], masks[start:end])
			} else {
				text = tok.Decode(tokens[start:end])
			}
			if _, err := fmt.Fprintf(output, "%s\n", text); err != nil {
				return numBatches, err
			}
		}
		numBatches++
	}
}

// decodeMasked decodes runs of equal mask separately so the brackets fall
// on token boundaries.
func decodeMasked(tok tokenizer.Tokenizer, tokens types.Tokens,
	masks types.LossMasks) string {
	text := ""
	for start := 0; start < len(tokens); {
		end := start + 1
		for end < len(tokens) && masks[end] == masks[start] {
			end++
		}
		decoded := tok.Decode(tokens[start:end])
		if masks[start] == 0 {
			decoded = "[" + decoded + "]"
		}
		text += decoded
		start = end
	}
	return text
}

func main() {
	tokenizerId := flag.String("tokenizer", "gpt2",
		"tokenizer id [gpt2, pile, huggingface-id, bytes, path]")
	inputFile := flag.String("input", "",
		"packed batches to detokenize")
	outputFile := flag.String("output", "detokenized.txt",
		"output file to write detokenized rows")
	batchSize := flag.Int("batch_size", 8, "batch size used when packing")
	seqLength := flag.Int("seq_length", 1024,
		"sequence length used when packing")
	showMasks := flag.Bool("show_masks", false,
		"bracket tokens that do not contribute to the loss")
	flag.Parse()

	if *inputFile == "" {
		flag.Usage()
		log.Fatal("Must provide -input")
	}
	if *outputFile == "" {
		flag.Usage()
		log.Fatal("Must provide -output")
	}
	if *batchSize <= 0 || *seqLength <= 0 {
		log.Fatal("-batch_size and -seq_length must be positive")
	}

	tokConfig := tokenizer.DefaultConfig()
	tokConfig.Name = *tokenizerId
	tok, err := tokenizer.New(tokConfig)
	if err != nil {
		log.Fatal(err)
	}

	inputFileHandle, err := os.Open(*inputFile)
	if err != nil {
		log.Fatal(err)
	}
	defer inputFileHandle.Close()

	outputFileHandle, err := os.Create(*outputFile)
	if err != nil {
		log.Fatal(err)
	}
	writer := bufio.NewWriter(outputFileHandle)

	numBatches, err := Detokenize(bufio.NewReader(inputFileHandle), writer,
		tok, *batchSize, *seqLength, *showMasks)
	if err != nil {
		log.Fatal(err)
	}
	if err := writer.Flush(); err != nil {
		log.Fatal(err)
	}
	if err := outputFileHandle.Close(); err != nil {
		log.Fatal(err)
	}
	log.Printf("Detokenized %d batches to %s", numBatches, *outputFile)
}
