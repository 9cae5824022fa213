package types

// Token is a vocabulary id. Signed 32-bit covers every vocabulary we load.
type Token int32
type Tokens []Token

// LossMasks runs parallel to Tokens; 1.0 contributes to the loss, 0.0 is
// context only.
type LossMasks []float32

// AttentionMask marks real content with 1 and padding with 0.
type AttentionMask []int32

const (
	TokenSize = 4
	MaskSize  = 4
)

// Record is a single structured example, keyed by field name.
type Record map[string]string

// Batch is a fixed (batch_size, seq_length) block of tokens and loss masks.
// Rows are views into one row-major backing array. AttentionMask is only
// populated for batches collated from bounded examples.
type Batch struct {
	Tokens        []Tokens
	LossMasks     []LossMasks
	AttentionMask []AttentionMask
}

// Example is a single truncated-or-padded sequence of length seq_length.
type Example struct {
	Tokens        Tokens
	LossMasks     LossMasks
	AttentionMask AttentionMask
}
