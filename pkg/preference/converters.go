package preference

import (
	"encoding/json"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/wbrown/lm_data/types"
)

func field(record types.Record, name string) (string, error) {
	value, ok := record[name]
	if !ok {
		return "", errors.Errorf("record is missing field %q", name)
	}
	return value, nil
}

func numberField(record types.Record, name string) (float64, error) {
	value, err := field(record, name)
	if err != nil {
		return 0, err
	}
	number, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "field %q", name)
	}
	return number, nil
}

// messagesField decodes a field holding a JSON list of messages.
func messagesField(record types.Record, name string) ([]Message, error) {
	value, err := field(record, name)
	if err != nil {
		return nil, err
	}
	var messages []Message
	if err := json.Unmarshal([]byte(value), &messages); err != nil {
		return nil, errors.Wrapf(err, "field %q", name)
	}
	return messages, nil
}

func exchange(prompt, response string) []Message {
	return []Message{
		{Role: RoleUser, Content: prompt},
		{Role: RoleAssistant, Content: response},
	}
}

// pairFields builds a single-turn sample from three flat fields.
func pairFields(record types.Record, promptField, chosenField,
	rejectedField, source string) (Sample, error) {
	var values [3]string
	for idx, name := range []string{promptField, chosenField, rejectedField} {
		value, err := field(record, name)
		if err != nil {
			return Sample{}, err
		}
		values[idx] = value
	}
	return Sample{
		Chosen:   exchange(values[0], values[1]),
		Rejected: exchange(values[0], values[2]),
		Source:   source,
	}, nil
}

var helpSteerAttributes = []string{
	"helpfulness", "correctness", "coherence", "complexity",
}

type rated struct {
	response string
	score    float64
}

// convertHelpSteer pairs responses to the same prompt. Verbosity does not
// count towards the score. The lowest scoring response is kept as chosen
// and a random other response is rejected.
func convertHelpSteer(records []types.Record, rng *rand.Rand,
	_ Options) ([]Sample, error) {
	prompts := make([]string, 0)
	byPrompt := make(map[string][]rated)
	for _, record := range records {
		prompt, err := field(record, "prompt")
		if err != nil {
			return nil, err
		}
		response, err := field(record, "response")
		if err != nil {
			return nil, err
		}
		scores := make([]float64, 0, len(helpSteerAttributes))
		for _, attribute := range helpSteerAttributes {
			score, err := numberField(record, attribute)
			if err != nil {
				return nil, err
			}
			scores = append(scores, score)
		}
		if _, seen := byPrompt[prompt]; !seen {
			prompts = append(prompts, prompt)
		}
		byPrompt[prompt] = append(byPrompt[prompt], rated{
			response: response,
			score:    lo.Sum(scores) / float64(len(scores)),
		})
	}
	samples := make([]Sample, 0)
	for _, prompt := range prompts {
		responses := byPrompt[prompt]
		if len(responses) < 2 {
			continue
		}
		sort.SliceStable(responses, func(i, j int) bool {
			return responses[i].score < responses[j].score
		})
		rejected := responses[1+rng.Intn(len(responses)-1)]
		samples = append(samples, Sample{
			Chosen:   exchange(prompt, responses[0].response),
			Rejected: exchange(prompt, rejected.response),
			Source:   "helpsteer",
		})
	}
	return samples, nil
}

type nectarAnswer struct {
	Answer string  `json:"answer"`
	Rank   float64 `json:"rank"`
}

// convertNectar keeps the best ranked answer as chosen and rejects a random
// lower ranked one. Samples with fewer than two answers are skipped.
func convertNectar(records []types.Record, rng *rand.Rand,
	_ Options) ([]Sample, error) {
	samples := make([]Sample, 0, len(records))
	for _, record := range records {
		prompt, err := field(record, "prompt")
		if err != nil {
			return nil, err
		}
		prompt = strings.ReplaceAll(prompt, "Human: ", "")
		prompt = strings.TrimSpace(strings.ReplaceAll(prompt,
			"Assistant: ", ""))
		raw, err := field(record, "answers")
		if err != nil {
			return nil, err
		}
		var answers []nectarAnswer
		if err := json.Unmarshal([]byte(raw), &answers); err != nil {
			return nil, errors.Wrap(err, `field "answers"`)
		}
		if len(answers) < 2 {
			continue
		}
		sort.SliceStable(answers, func(i, j int) bool {
			return answers[i].Rank < answers[j].Rank
		})
		rejected := answers[1+rng.Intn(len(answers)-1)]
		samples = append(samples, Sample{
			Chosen:   exchange(prompt, answers[0].Answer),
			Rejected: exchange(prompt, rejected.Answer),
			Source:   "nectar",
		})
	}
	return samples, nil
}

func messagePair(record types.Record, source string) (Sample, error) {
	chosen, err := messagesField(record, "chosen")
	if err != nil {
		return Sample{}, err
	}
	rejected, err := messagesField(record, "rejected")
	if err != nil {
		return Sample{}, err
	}
	return Sample{Chosen: chosen, Rejected: rejected, Source: source}, nil
}

func convertArgilla(records []types.Record, _ *rand.Rand,
	_ Options) ([]Sample, error) {
	samples := make([]Sample, 0, len(records))
	for _, record := range records {
		sample, err := messagePair(record, "argilla-ultrafeedback")
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

// convertH4 keeps only prompts that survived argilla's cleaning.
func convertH4(records []types.Record, _ *rand.Rand,
	opts Options) ([]Sample, error) {
	if opts.ReferencePrompts == nil {
		return nil, errors.New(
			"HuggingFaceH4/ultrafeedback_binarized needs reference prompts")
	}
	samples := make([]Sample, 0, len(records))
	for _, record := range records {
		prompt, err := field(record, "prompt")
		if err != nil {
			return nil, err
		}
		if _, ok := opts.ReferencePrompts[prompt]; !ok {
			continue
		}
		sample, err := messagePair(record, "h4-ultrafeedback")
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

// convertSHP orders the two human references by the `labels` field: 1
// prefers A, anything else prefers B.
func convertSHP(records []types.Record, _ *rand.Rand,
	_ Options) ([]Sample, error) {
	samples := make([]Sample, 0, len(records))
	for _, record := range records {
		label, err := field(record, "labels")
		if err != nil {
			return nil, err
		}
		chosen, rejected := "human_ref_A", "human_ref_B"
		if label != "1" {
			chosen, rejected = rejected, chosen
		}
		sample, err := pairFields(record, "history", chosen, rejected, "shp")
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func convertOrca(records []types.Record, _ *rand.Rand,
	_ Options) ([]Sample, error) {
	samples := make([]Sample, 0, len(records))
	for _, record := range records {
		sample, err := pairFields(record, "question", "chosen", "rejected",
			"orca_dpo_pairs")
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func convertStackExchange(records []types.Record, _ *rand.Rand,
	_ Options) ([]Sample, error) {
	samples := make([]Sample, 0, len(records))
	for _, record := range records {
		sample, err := pairFields(record, "question", "response_j",
			"response_k", "stack-exchange-paired")
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

// ParseTurns splits an hh-rlhf transcript of `Human:` and `Assistant:`
// turns into messages, dropping empty turns.
func ParseTurns(text string) []Message {
	turns := make([]Message, 0)
	for _, entry := range strings.Split(text, "Human:") {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		parts := strings.Split(entry, "Assistant:")
		human := strings.TrimSpace(parts[0])
		if human != "" {
			turns = append(turns, Message{Role: RoleUser, Content: human})
		}
		if len(parts) > 1 {
			assistant := strings.TrimSpace(parts[1])
			if assistant != "" {
				turns = append(turns, Message{Role: RoleAssistant,
					Content: assistant})
			}
		}
	}
	return turns
}

// convertHHRLHF finds the turns both transcripts share. Transcripts that do
// not diverge after the shared prefix are malformed and skipped. The
// shared prefix is prepended to each full transcript.
func convertHHRLHF(records []types.Record, _ *rand.Rand,
	_ Options) ([]Sample, error) {
	samples := make([]Sample, 0, len(records))
	for _, record := range records {
		chosenText, err := field(record, "chosen")
		if err != nil {
			return nil, err
		}
		rejectedText, err := field(record, "rejected")
		if err != nil {
			return nil, err
		}
		chosen := ParseTurns(chosenText)
		rejected := ParseTurns(rejectedText)
		shared := 0
		for shared < len(chosen) && shared < len(rejected) &&
			chosen[shared] == rejected[shared] {
			shared++
		}
		if shared >= len(chosen) || shared >= len(rejected) {
			continue
		}
		prompt := chosen[:shared]
		samples = append(samples, Sample{
			Chosen:   append(append([]Message{}, prompt...), chosen...),
			Rejected: append(append([]Message{}, prompt...), rejected...),
			Source:   "hh-rlhf",
		})
	}
	return samples, nil
}
