package tokenizer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	gosp "github.com/vikesh-raj/go-sentencepiece-encoder/sentencepiece"
	"google.golang.org/protobuf/proto"
)

// ErrUnsupportedModel is returned for tokenizer.json files whose model is not
// a Unigram vocabulary.
var ErrUnsupportedModel = errors.New("unsupported tokenizer model")

type hfTokenizerFile struct {
	Model struct {
		Type  string         `json:"type"`
		UnkID *int           `json:"unk_id"`
		Vocab []unigramPiece `json:"vocab"`
	} `json:"model"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

// unigramPiece is one ["piece", score] pair.
type unigramPiece struct {
	Piece string
	Score float64
}

func (p *unigramPiece) UnmarshalJSON(b []byte) error {
	var pair []any
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}

	if len(pair) != 2 {
		return fmt.Errorf("vocab entry has %d fields, want 2", len(pair))
	}

	piece, ok := pair[0].(string)
	if !ok {
		return fmt.Errorf("vocab piece %v is not a string", pair[0])
	}

	score, ok := pair[1].(float64)
	if !ok {
		return fmt.Errorf("vocab score for %q is not a number", piece)
	}

	p.Piece, p.Score = piece, score

	return nil
}

// NewTokenizerJSON loads a Hugging Face tokenizer.json holding a Unigram
// vocabulary, the layout T5 exports ship, into the SentencePiece encoder.
// Token IDs are vocabulary positions.
func NewTokenizerJSON(path string) (*SentencePieceTokenizer, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer %q: %w", path, err)
	}

	var file hfTokenizerFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tokenizer %q: %w", path, err)
	}

	model, err := unigramModelProto(file)
	if err != nil {
		return nil, fmt.Errorf("tokenizer %q: %w", path, err)
	}

	raw, err := proto.Marshal(model)
	if err != nil {
		return nil, fmt.Errorf("tokenizer %q: encode model: %w", path, err)
	}

	// The encoder only loads from disk.
	tmp, err := os.CreateTemp("", "poing-tokenizer-*.model")
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	_, err = tmp.Write(raw)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("tokenizer %q: stage model: %w", path, err)
	}

	return NewSentencePieceTokenizer(tmp.Name())
}

func unigramModelProto(file hfTokenizerFile) (*gosp.ModelProto, error) {
	if !strings.EqualFold(file.Model.Type, "Unigram") {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, file.Model.Type)
	}

	if len(file.Model.Vocab) == 0 {
		return nil, fmt.Errorf("%w: empty vocabulary", ErrUnsupportedModel)
	}

	special := make(map[int]bool, len(file.AddedTokens))
	for _, t := range file.AddedTokens {
		if t.Special {
			special[t.ID] = true
		}
	}

	pieces := make([]*gosp.ModelProto_SentencePiece, len(file.Model.Vocab))
	for i, v := range file.Model.Vocab {
		typ := gosp.ModelProto_SentencePiece_NORMAL
		switch {
		case file.Model.UnkID != nil && *file.Model.UnkID == i:
			typ = gosp.ModelProto_SentencePiece_UNKNOWN
		case special[i]:
			typ = gosp.ModelProto_SentencePiece_CONTROL
		}

		pieces[i] = &gosp.ModelProto_SentencePiece{
			Piece: proto.String(v.Piece),
			Score: proto.Float32(float32(v.Score)),
			Type:  typ.Enum(),
		}
	}

	return &gosp.ModelProto{Pieces: pieces}, nil
}

// Open loads the tokenizer at path, choosing the format by file name:
// *.json is a Hugging Face tokenizer.json, anything else a SentencePiece
// model.
func Open(path string) (*SentencePieceTokenizer, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return NewTokenizerJSON(path)
	}

	return NewSentencePieceTokenizer(path)
}
