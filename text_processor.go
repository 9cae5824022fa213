// Package lm_data turns structured text records into the fixed-shape token
// batches language models train on.
package lm_data

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wbrown/lm_data/tokenizer"
	"github.com/wbrown/lm_data/types"
)

// Field spec markers that inject a special token instead of record text.
const (
	BosMarker = "<|bos|>"
	EosMarker = "<|eos|>"
)

var (
	ErrFieldsConfig = errors.New(
		"exactly one of fields or fields_from_example must be specified")
	ErrMissingField = errors.New("record is missing field")
	ErrEmptyFields  = errors.New("field spec is empty")
)

// FieldSource says where the field spec of a record comes from.
type FieldSource interface {
	Spec(record types.Record) (string, error)
}

// StaticFields applies the same spec to every record.
type StaticFields string

func (fs StaticFields) Spec(types.Record) (string, error) {
	return string(fs), nil
}

// FieldsFromRecord reads the spec out of the named record field.
type FieldsFromRecord string

func (fs FieldsFromRecord) Spec(record types.Record) (string, error) {
	spec, ok := record[string(fs)]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrMissingField, string(fs))
	}
	return spec, nil
}

// FieldDescriptor is one comma-separated entry of a field spec.
type FieldDescriptor struct {
	// Fields are the `+`-joined record fields, empty for a special token.
	Fields  []string
	Special string
	Mask    float32
}

// ParseFieldSpec splits a spec such as `[prompt],<|bos|>,title+body`.
// A descriptor wrapped in brackets is context only and gets mask 0.0.
func ParseFieldSpec(spec string) ([]FieldDescriptor, error) {
	if spec == "" {
		return nil, ErrEmptyFields
	}
	parts := strings.Split(spec, ",")
	descriptors := make([]FieldDescriptor, 0, len(parts))
	for _, part := range parts {
		descriptor := FieldDescriptor{Mask: 1.0}
		if strings.HasPrefix(part, "[") && strings.HasSuffix(part, "]") &&
			len(part) >= 2 {
			part = part[1 : len(part)-1]
			descriptor.Mask = 0.0
		}
		if part == BosMarker || part == EosMarker {
			descriptor.Special = part
		} else {
			descriptor.Fields = strings.Split(part, "+")
		}
		descriptors = append(descriptors, descriptor)
	}
	return descriptors, nil
}

// Segment is one resolved descriptor: either text to encode or a special
// token to append as is.
type Segment struct {
	Text      string
	Special   types.Token
	IsSpecial bool
	Mask      float32
}

// TextProcessor extracts the configured fields of a record and tokenizes
// them into parallel token and loss mask buffers.
type TextProcessor struct {
	Config    TextProcessorConfig
	Fields    FieldSource
	tokenizer tokenizer.Tokenizer
	// Parsed static spec, nil when the spec comes from each record.
	static []FieldDescriptor
}

func NewTextProcessor(
	config TextProcessorConfig,
	tok tokenizer.Tokenizer,
) (*TextProcessor, error) {
	hasStatic := config.Fields != ""
	hasDynamic := config.FieldsFromExample != ""
	if hasStatic == hasDynamic {
		return nil, ErrFieldsConfig
	}
	tp := &TextProcessor{Config: config, tokenizer: tok}
	if hasStatic {
		descriptors, err := ParseFieldSpec(config.Fields)
		if err != nil {
			return nil, err
		}
		tp.Fields = StaticFields(config.Fields)
		tp.static = descriptors
	} else {
		tp.Fields = FieldsFromRecord(config.FieldsFromExample)
	}
	return tp, nil
}

func (tp *TextProcessor) Tokenizer() tokenizer.Tokenizer {
	return tp.tokenizer
}

func (tp *TextProcessor) descriptors(
	record types.Record,
) ([]FieldDescriptor, error) {
	if tp.static != nil {
		return tp.static, nil
	}
	spec, err := tp.Fields.Spec(record)
	if err != nil {
		return nil, err
	}
	return ParseFieldSpec(spec)
}

// Extract resolves the record's field spec into ordered segments.
func (tp *TextProcessor) Extract(record types.Record) ([]Segment, error) {
	descriptors, err := tp.descriptors(record)
	if err != nil {
		return nil, err
	}
	segments := make([]Segment, 0, len(descriptors))
	for i, descriptor := range descriptors {
		switch descriptor.Special {
		case BosMarker:
			segments = append(segments, Segment{
				Special:   tp.tokenizer.BosID(),
				IsSpecial: true,
				Mask:      descriptor.Mask,
			})
			continue
		case EosMarker:
			segments = append(segments, Segment{
				Special:   tp.tokenizer.EosID(),
				IsSpecial: true,
				Mask:      descriptor.Mask,
			})
			continue
		}
		values := make([]string, 0, len(descriptor.Fields))
		for _, field := range descriptor.Fields {
			value, ok := record[field]
			if !ok {
				return nil, fmt.Errorf("%w %q", ErrMissingField, field)
			}
			values = append(values, value)
		}
		text := strings.Join(values, tp.Config.SubfieldSeparator)
		if i == 0 {
			text = tp.Config.PrependText + text
		} else {
			// No space tokens in the middle of the sequence.
			text = strings.TrimSpace(text)
		}
		segments = append(segments, Segment{Text: text, Mask: descriptor.Mask})
	}
	return segments, nil
}

// Process tokenizes a record. The returned buffers always have equal
// length.
func (tp *TextProcessor) Process(
	record types.Record,
) (types.Tokens, types.LossMasks, error) {
	segments, err := tp.Extract(record)
	if err != nil {
		return nil, nil, err
	}
	tokens := make(types.Tokens, 0)
	masks := make(types.LossMasks, 0)
	for _, segment := range segments {
		if segment.IsSpecial {
			tokens = append(tokens, segment.Special)
			masks = append(masks, segment.Mask)
			continue
		}
		encoded, err := tp.tokenizer.Encode(segment.Text)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding %q: %w", segment.Text, err)
		}
		tokens = append(tokens, encoded...)
		for range encoded {
			masks = append(masks, segment.Mask)
		}
	}
	if tp.Config.AddEosToken {
		tokens = append(tokens, tp.tokenizer.EosID())
		masks = append(masks, 1.0)
	}
	return tokens, masks, nil
}
