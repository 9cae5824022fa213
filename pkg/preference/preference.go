// Package preference normalizes pairwise preference datasets into a single
// chat schema: a chosen and a rejected conversation sharing one prompt.
package preference

import (
	"encoding/json"
	"io"
	"log"
	"math/rand"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/wbrown/lm_data/types"
)

// Logger receives conversion statistics.
var Logger = log.New(os.Stderr, "", log.LstdFlags)

var ErrUnknownDataset = errors.New("unknown preference dataset")

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Sample struct {
	Chosen   []Message `json:"chosen"`
	Rejected []Message `json:"rejected"`
	Source   string    `json:"source"`
}

// Options tune a conversion.
type Options struct {
	Seed       int64
	MaxSamples int
	// ReferencePrompts restricts HuggingFaceH4/ultrafeedback_binarized to
	// prompts also present in the argilla cleaned release.
	ReferencePrompts map[string]struct{}
}

func DefaultOptions() Options {
	return Options{Seed: 42, MaxSamples: 5_000_000}
}

// converter turns shuffled records into samples. rng is shared across the
// whole conversion so that random rejections are reproducible.
type converter func(records []types.Record, rng *rand.Rand,
	opts Options) ([]Sample, error)

var converters = map[string]converter{
	"nvidia/HelpSteer":     convertHelpSteer,
	"berkeley-nest/Nectar": convertNectar,
	"argilla/ultrafeedback-binarized-preferences-cleaned": convertArgilla,
	"HuggingFaceH4/ultrafeedback_binarized":               convertH4,
	"stanfordnlp/SHP":                                     convertSHP,
	"stanfordnlp/SHP-2":                                   convertSHP,
	"Intel/orca_dpo_pairs":                                convertOrca,
	"Anthropic/hh-rlhf":                                   convertHHRLHF,
	"lvwerra/stack-exchange-paired":                       convertStackExchange,
}

// Datasets lists the dataset ids Convert understands.
func Datasets() []string {
	names := lo.Keys(converters)
	sort.Strings(names)
	return names
}

// Select shuffles records with seed and keeps at most maxSamples of them.
func Select(records []types.Record, seed int64,
	maxSamples int) []types.Record {
	shuffled := make([]types.Record, len(records))
	copy(shuffled, records)
	rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	if maxSamples >= 0 && len(shuffled) > maxSamples {
		shuffled = shuffled[:maxSamples]
	}
	return shuffled
}

// Convert normalizes the records of one dataset, then cleans and filters
// the resulting samples.
func Convert(dataset string, records []types.Record,
	opts Options) ([]Sample, error) {
	convert, ok := converters[dataset]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDataset, "%s", dataset)
	}
	selected := Select(records, opts.Seed, opts.MaxSamples)
	samples, err := convert(selected, rand.New(rand.NewSource(opts.Seed)),
		opts)
	if err != nil {
		return nil, errors.Wrapf(err, "converting %s", dataset)
	}
	samples = Clean(samples)
	Logger.Printf("Before filtering: %d", len(samples))
	samples = Filter(samples)
	Logger.Printf("After filtering: %d", len(samples))
	return samples, nil
}

// Clean strips surrounding whitespace from every message.
func Clean(samples []Sample) []Sample {
	strip := func(messages []Message) []Message {
		return lo.Map(messages, func(msg Message, _ int) Message {
			return Message{Role: msg.Role,
				Content: strings.TrimSpace(msg.Content)}
		})
	}
	return lo.Map(samples, func(sample Sample, _ int) Sample {
		return Sample{
			Chosen:   strip(sample.Chosen),
			Rejected: strip(sample.Rejected),
			Source:   sample.Source,
		}
	})
}

func ContainsEmpty(sample Sample) bool {
	empty := func(msg Message) bool { return msg.Content == "" }
	return lo.SomeBy(sample.Chosen, empty) || lo.SomeBy(sample.Rejected, empty)
}

func EndsWithAssistant(sample Sample) bool {
	last := func(messages []Message) bool {
		return len(messages) > 0 &&
			messages[len(messages)-1].Role == RoleAssistant
	}
	return last(sample.Chosen) && last(sample.Rejected)
}

// Filter drops samples with an empty message or a conversation that does
// not end on an assistant turn.
func Filter(samples []Sample) []Sample {
	return lo.Filter(samples, func(sample Sample, _ int) bool {
		return !ContainsEmpty(sample) && EndsWithAssistant(sample)
	})
}

// ReferencePrompts collects the `prompt` field of every record.
func ReferencePrompts(records []types.Record) map[string]struct{} {
	prompts := lo.FilterMap(records, func(record types.Record,
		_ int) (string, bool) {
		prompt, ok := record["prompt"]
		return prompt, ok
	})
	return lo.SliceToMap(prompts, func(prompt string) (string, struct{}) {
		return prompt, struct{}{}
	})
}

func WriteJSONLines(w io.Writer, samples []Sample) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	for _, sample := range samples {
		if err := encoder.Encode(sample); err != nil {
			return err
		}
	}
	return nil
}
