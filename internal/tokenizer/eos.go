package tokenizer

import "fmt"

// DefaultEOS is the T5 end-of-sequence token ID.
const DefaultEOS int64 = 1

// EOSTokenizer appends an end-of-sequence ID to every encoding, matching the
// special-token contract the T5 encoder was exported with.
type EOSTokenizer struct {
	inner Tokenizer
	eos   int64
}

// WithEOS wraps inner so that Encode always ends with eos.
func WithEOS(inner Tokenizer, eos int64) *EOSTokenizer {
	return &EOSTokenizer{inner: inner, eos: eos}
}

// Encode tokenizes text and appends the EOS ID.
func (t *EOSTokenizer) Encode(text string) ([]int64, error) {
	ids, err := t.inner.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	out := make([]int64, 0, len(ids)+1)
	out = append(out, ids...)

	return append(out, t.eos), nil
}
