package main

import "github.com/wbrown/lm_data"

type flagValues struct {
	input             string
	name              string
	split             string
	streaming         bool
	fields            string
	fieldsFromExample string
	separator         string
	addEos            bool
	prependText       string
	seqLength         int
	batchSize         int
	numWorkers        int
	seed              int64
}

// applyFlags copies every flag named in set into the config. Without a
// config file every flag counts as set, so the flag defaults apply.
func applyFlags(config *lm_data.DatasetConfig, set map[string]bool,
	values flagValues) {
	apply := func(name string) bool {
		return set[name] || !set["config"]
	}
	tp := &config.TextProcessor
	if apply("fields") {
		tp.Fields = values.fields
	}
	if apply("fields_from_example") {
		tp.FieldsFromExample = values.fieldsFromExample
	}
	if apply("subfield_separator") {
		tp.SubfieldSeparator = values.separator
	}
	if apply("no_eos") {
		tp.AddEosToken = values.addEos
	}
	if apply("prepend_text") {
		tp.PrependText = values.prependText
	}

	hf := &config.HuggingfaceDataset
	js := &config.JsonDataset
	jt := &config.JsonTorchDataset
	if apply("input") && values.input != "" {
		hf.Path, js.Path, jt.Path = values.input, values.input, values.input
	}
	if apply("name") {
		hf.Name = values.name
	}
	if apply("split") {
		hf.Split = values.split
	}
	if apply("streaming") {
		hf.Streaming = values.streaming
	}
	if apply("seq_length") {
		hf.SeqLength = values.seqLength
		js.SeqLength = values.seqLength
		jt.SeqLength = values.seqLength
	}
	if apply("batch_size") {
		hf.BatchSize = values.batchSize
		js.BatchSize = values.batchSize
		jt.BatchSize = values.batchSize
	}
	if apply("num_workers") {
		jt.NumWorkers = values.numWorkers
	}
	if apply("seed") {
		jt.Seed = values.seed
	}
}
