package lm_data

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// TextProcessorConfig controls how a record becomes tokens and loss masks.
// Exactly one of Fields and FieldsFromExample must be set.
type TextProcessorConfig struct {
	// FieldsFromExample names a record field holding the field spec.
	FieldsFromExample string `yaml:"fields_from_example"`
	// Fields is a static comma-separated field spec, such as
	// `[prompt],completion` or `<|bos|>,title+body`.
	Fields            string `yaml:"fields"`
	SubfieldSeparator string `yaml:"subfield_separator"`
	AddEosToken       bool   `yaml:"add_eos_token"`
	PrependText       string `yaml:"prepend_text"`
}

func DefaultTextProcessorConfig() TextProcessorConfig {
	return TextProcessorConfig{
		SubfieldSeparator: " ",
		AddEosToken:       true,
	}
}

// HuggingfaceDatasetConfig streams a Hub dataset. Path is the Hub id.
type HuggingfaceDatasetConfig struct {
	Path      string `yaml:"path"`
	Name      string `yaml:"name"`
	Split     string `yaml:"split"`
	Streaming bool   `yaml:"streaming"`
	SeqLength int    `yaml:"seq_length"`
	BatchSize int    `yaml:"batch_size"`
	CacheDir  string `yaml:"cache_dir"`
}

func DefaultHuggingfaceDatasetConfig() HuggingfaceDatasetConfig {
	return HuggingfaceDatasetConfig{
		Path:      "c4",
		Name:      "en",
		Split:     "train",
		Streaming: false,
		SeqLength: 1024,
		BatchSize: 8,
	}
}

// JsonDatasetConfig streams a JSON-lines path forever.
type JsonDatasetConfig struct {
	Path      string `yaml:"path"`
	SeqLength int    `yaml:"seq_length"`
	BatchSize int    `yaml:"batch_size"`
}

func DefaultJsonDatasetConfig() JsonDatasetConfig {
	return JsonDatasetConfig{
		SeqLength: 1024,
		BatchSize: 8,
	}
}

// JsonTorchDatasetConfig loads a JSON-lines path into bounded examples and
// serves shuffled batches of them.
type JsonTorchDatasetConfig struct {
	Path       string `yaml:"path"`
	SeqLength  int    `yaml:"seq_length"`
	BatchSize  int    `yaml:"batch_size"`
	NumWorkers int    `yaml:"num_workers"`
	Seed       int64  `yaml:"seed"`
}

func DefaultJsonTorchDatasetConfig() JsonTorchDatasetConfig {
	return JsonTorchDatasetConfig{
		SeqLength:  1024,
		BatchSize:  8,
		NumWorkers: 1,
		Seed:       0,
	}
}

// DatasetConfig selects a dataset by Type and carries the settings of every
// dataset type.
type DatasetConfig struct {
	Type               string                   `yaml:"type"`
	TextProcessor      TextProcessorConfig      `yaml:"text_processor"`
	HuggingfaceDataset HuggingfaceDatasetConfig `yaml:"huggingface_dataset"`
	JsonDataset        JsonDatasetConfig        `yaml:"json_dataset"`
	JsonTorchDataset   JsonTorchDatasetConfig   `yaml:"json_torch_dataset"`
}

func DefaultDatasetConfig() DatasetConfig {
	return DatasetConfig{
		Type:               DatasetTypeHuggingface,
		TextProcessor:      DefaultTextProcessorConfig(),
		HuggingfaceDataset: DefaultHuggingfaceDatasetConfig(),
		JsonDataset:        DefaultJsonDatasetConfig(),
		JsonTorchDataset:   DefaultJsonTorchDatasetConfig(),
	}
}

// ParseDatasetConfig overlays YAML onto the defaults; keys absent from the
// document keep their default values.
func ParseDatasetConfig(data []byte) (DatasetConfig, error) {
	config := DefaultDatasetConfig()
	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return config, errors.Wrap(err, "invalid dataset config")
	}
	return config, nil
}

func LoadDatasetConfig(path string) (DatasetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultDatasetConfig(), errors.Wrapf(err,
			"cannot read dataset config %s", path)
	}
	return ParseDatasetConfig(data)
}
