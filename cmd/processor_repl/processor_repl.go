package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/wbrown/lm_data"
	"github.com/wbrown/lm_data/tokenizer"
	"github.com/wbrown/lm_data/types"
)

// A REPL that shows how a JSON record is tokenized and loss masked.

// describe renders each token of the record as `|text` for tokens that
// contribute to the loss and `[text]` for context-only tokens.
func describe(tp *lm_data.TextProcessor, line string) (string, error) {
	record, err := types.RecordFromJSON([]byte(line))
	if err != nil {
		return "", err
	}
	tokens, masks, err := tp.Process(record)
	if err != nil {
		return "", err
	}
	tok := tp.Tokenizer()
	var sb strings.Builder
	fmt.Fprintf(&sb, "%v\n%v\n", tokens, masks)
	for idx, token := range tokens {
		text := tok.Decode(types.Tokens{token})
		switch token {
		case tok.BosID():
			text = lm_data.BosMarker
		case tok.EosID():
			text = lm_data.EosMarker
		}
		if masks[idx] == 0 {
			fmt.Fprintf(&sb, "[%s]", text)
		} else {
			fmt.Fprintf(&sb, "|%s", text)
		}
	}
	sb.WriteString("\n")
	return sb.String(), nil
}

func main() {
	tokenizerId := flag.String("tokenizer", "gpt2",
		"The tokenizer to use.")
	fields := flag.String("fields", "text",
		"comma separated field spec")
	fieldsFromExample := flag.String("fields_from_example", "",
		"record field that holds the field spec, replaces -fields")
	noEos := flag.Bool("no_eos", false,
		"do not append an end of sequence token")
	prependText := flag.String("prepend_text", "",
		"text prepended to the first field")
	flag.Parse()

	config := lm_data.DefaultTextProcessorConfig()
	config.AddEosToken = !*noEos
	config.PrependText = *prependText
	if *fieldsFromExample != "" {
		config.FieldsFromExample = *fieldsFromExample
	} else {
		config.Fields = *fields
	}

	tokConfig := tokenizer.DefaultConfig()
	tokConfig.Name = *tokenizerId
	tok, err := tokenizer.New(tokConfig)
	if err != nil {
		log.Fatal(err)
	}
	tp, err := lm_data.NewTextProcessor(config, tok)
	if err != nil {
		log.Fatal(err)
	}

	reader := bufio.NewReader(os.Stdin)
	// Provide a REPL
	for {
		fmt.Print(">>> ")
		input, err := reader.ReadString('\n')
		if err == io.EOF {
			return
		} else if err != nil {
			log.Fatal(err)
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		output, err := describe(tp, input)
		if err != nil {
			fmt.Println(err)
			continue
		}
		fmt.Print(output)
	}
}
