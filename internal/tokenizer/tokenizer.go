// Package tokenizer turns prompts into T5 SentencePiece token IDs for the
// MusicGen text encoder. Vocabularies load from spiece.model or from a
// Hugging Face tokenizer.json.
package tokenizer

import "errors"

// ErrInvalidText is returned for input that is not valid UTF-8.
var ErrInvalidText = errors.New("text is not valid UTF-8")

// Tokenizer encodes text into SentencePiece token IDs.
type Tokenizer interface {
	// Encode tokenizes text and returns SentencePiece token IDs.
	Encode(text string) ([]int64, error)
}
