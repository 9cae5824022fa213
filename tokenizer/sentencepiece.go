package tokenizer

import (
	"encoding/hex"
	"log"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/vikesh-raj/go-sentencepiece-encoder/sentencepiece"
	"github.com/wbrown/lm_data/types"
	"google.golang.org/protobuf/proto"
)

const spaceMarker = "▁"

type piece struct {
	text    string
	isByte  bool
	control bool
}

// SentencePiece adapts a SentencePiece `tokenizer.model`, as shipped with
// LLaMA-family checkpoints.
type SentencePiece struct {
	ModelPath string
	sp        sentencepiece.Sentencepiece
	pieces    []piece
	bos       types.Token
	eos       types.Token
	pad       types.Token
}

// NewSentencePiece loads the model twice: once through the encoder, and once
// as a raw ModelProto so the special ids and the vocabulary can be read.
func NewSentencePiece(modelPath string) (*SentencePiece, error) {
	modelBytes, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read %s", modelPath)
	}
	var model sentencepiece.ModelProto
	if err = proto.Unmarshal(modelBytes, &model); err != nil {
		return nil, errors.Wrapf(err, "unable to unmarshal %s", modelPath)
	}
	sp, err := sentencepiece.NewSentencepieceFromFile(modelPath, false)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load %s", modelPath)
	}

	tokenizer := &SentencePiece{
		ModelPath: modelPath,
		sp:        sp,
		pieces:    make([]piece, len(model.GetPieces())),
		bos:       -1,
		eos:       -1,
		pad:       -1,
	}
	for pieceIdx, modelPiece := range model.GetPieces() {
		repr := modelPiece.GetPiece()
		entry := piece{text: repr}
		switch modelPiece.GetType() {
		case sentencepiece.ModelProto_SentencePiece_BYTE:
			// Byte pieces look like `<0x0A>`.
			if len(repr) != 6 {
				break
			}
			if decoded, hexErr := hex.DecodeString(repr[3:5]); hexErr == nil {
				entry.text = string(decoded)
				entry.isByte = true
			}
		case sentencepiece.ModelProto_SentencePiece_CONTROL:
			entry.control = true
			switch repr {
			case "<s>":
				tokenizer.bos = types.Token(pieceIdx)
			case "</s>":
				tokenizer.eos = types.Token(pieceIdx)
			case "<pad>":
				tokenizer.pad = types.Token(pieceIdx)
			}
		default:
			entry.text = strings.ReplaceAll(repr, spaceMarker, " ")
		}
		tokenizer.pieces[pieceIdx] = entry
	}
	if tokenizer.bos < 0 || tokenizer.eos < 0 {
		return nil, errors.Errorf("%s has no <s> or </s> control piece",
			modelPath)
	}
	if tokenizer.pad < 0 {
		tokenizer.pad = tokenizer.eos
	}
	log.Printf("Loaded SentencePiece tokenizer %s, %d pieces", modelPath,
		len(tokenizer.pieces))
	return tokenizer, nil
}

func (sp *SentencePiece) Encode(text string) (types.Tokens, error) {
	pieces := sp.sp.Tokenize(text)
	tokens := make(types.Tokens, len(pieces))
	for idx, encoded := range pieces {
		tokens[idx] = types.Token(encoded.ID)
	}
	return tokens, nil
}

func (sp *SentencePiece) Decode(tokens types.Tokens) string {
	var sb strings.Builder
	for _, token := range tokens {
		if token < 0 || int(token) >= len(sp.pieces) {
			continue
		}
		entry := sp.pieces[token]
		if entry.control {
			continue
		}
		sb.WriteString(entry.text)
	}
	return strings.TrimPrefix(sb.String(), " ")
}

func (sp *SentencePiece) BosID() types.Token {
	return sp.bos
}

func (sp *SentencePiece) EosID() types.Token {
	return sp.eos
}

func (sp *SentencePiece) PadID() types.Token {
	return sp.pad
}

func (sp *SentencePiece) VocabSize() int {
	return len(sp.pieces)
}
