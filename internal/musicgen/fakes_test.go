package musicgen

import (
	"context"
	"sync"
	"testing"

	"github.com/gijzelaerr/poing/internal/onnx"
)

// fakeRunner implements onnx.GraphRunner with a caller-supplied function.
type fakeRunner struct {
	name   string
	fn     func(ctx context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error)
	mu     sync.Mutex
	calls  int
	closed bool
}

func (f *fakeRunner) Run(ctx context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	return f.fn(ctx, inputs)
}

func (f *fakeRunner) Name() string { return f.name }

func (f *fakeRunner) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeRunner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type stubTokenizer struct {
	ids []int64
	err error
}

func (s stubTokenizer) Encode(string) ([]int64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]int64(nil), s.ids...), nil
}

const testHiddenDim = 8

func testModelConfig() ModelConfig {
	return ModelConfig{
		NumCodebooks:  2,
		NumLayers:     2,
		NumHeads:      2,
		HeadDim:       4,
		VocabSize:     16,
		PadToken:      16,
		BOSToken:      16,
		EOSToken:      1,
		SilenceToken:  0,
		SampleRate:    32000,
		FrameRate:     50,
		MaxLength:     10,
		GuidanceScale: 3,
		TopK:          4,
	}
}

func mustTensor[T int64 | float32](t *testing.T, data []T, shape []int64) *onnx.Tensor {
	t.Helper()
	tensor, err := onnx.NewTensor(data, shape)
	if err != nil {
		t.Fatalf("NewTensor(%v): %v", shape, err)
	}
	return tensor
}

// checkFeed fails the test when inputs would not reach an ORT session intact:
// wrong names, or tensors the binding cannot accept.
func checkFeed(t *testing.T, graph string, declared []string, inputs map[string]*onnx.Tensor) {
	t.Helper()

	if err := onnx.MatchInputs(declared, inputs); err != nil {
		t.Errorf("%s: %v", graph, err)
	}
	if err := onnx.CheckInputs(inputs); err != nil {
		t.Errorf("%s: %v", graph, err)
	}
}

// decoderInputNames lists the merged decoder's inputs for cfg.
func decoderInputNames(cfg ModelConfig) []string {
	names := []string{"encoder_attention_mask", "encoder_hidden_states", "input_ids", "use_cache_branch"}
	for l := range cfg.NumLayers {
		in, _ := LayerIONames(l)
		names = append(names, in...)
	}
	return names
}

// fakeTextEncoder returns [1, n, testHiddenDim] hidden states filled with 1.
func fakeTextEncoder(t *testing.T) *fakeRunner {
	return &fakeRunner{
		name: GraphTextEncoder,
		fn: func(_ context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
			checkFeed(t, GraphTextEncoder, []string{"input_ids", "attention_mask"}, inputs)
			n := inputs["input_ids"].Dim(1)
			data := make([]float32, n*testHiddenDim)
			for i := range data {
				data[i] = 1
			}
			return map[string]*onnx.Tensor{
				"last_hidden_state": mustTensor(t, data, []int64{1, n, testHiddenDim}),
			}, nil
		},
	}
}

// decoderCall records what one decoder invocation received.
type decoderCall struct {
	inputIDs []int64
	useCache bool
	selfLen  int64
	crossLen int64
}

// fakeDecoder emits logits that favour token favored for every row, and
// present tensors that extend the self-attention cache by one. Like the merged
// graph, it ignores the past tensors when use_cache_branch is false.
type fakeDecoder struct {
	*fakeRunner
	mu      sync.Mutex
	history []decoderCall
	onCall  func(call int)
}

func newFakeDecoder(t *testing.T, cfg ModelConfig, favored int) *fakeDecoder {
	d := &fakeDecoder{}
	declared := decoderInputNames(cfg)
	d.fakeRunner = &fakeRunner{
		name: GraphDecoder,
		fn: func(_ context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
			checkFeed(t, GraphDecoder, declared, inputs)

			ids, err := onnx.Extract[int64](inputs["input_ids"])
			if err != nil {
				t.Errorf("input_ids: %v", err)
			}
			flag, err := onnx.Extract[bool](inputs["use_cache_branch"])
			if err != nil {
				t.Errorf("use_cache_branch: %v", err)
			}
			useCache := len(flag) == 1 && flag[0]
			past := inputs["past_key_values.0.decoder.key"]
			cross := inputs["past_key_values.0.encoder.key"]
			seq := inputs["encoder_hidden_states"].Dim(1)

			d.mu.Lock()
			call := len(d.history)
			d.history = append(d.history, decoderCall{
				inputIDs: ids,
				useCache: useCache,
				selfLen:  past.Dim(2),
				crossLen: cross.Dim(2),
			})
			d.mu.Unlock()

			if d.onCall != nil {
				d.onCall(call)
			}

			rows := 2 * cfg.NumCodebooks
			logits := make([]float32, rows*cfg.VocabSize)
			for r := range rows {
				logits[r*cfg.VocabSize+favored] = 1000
			}

			out := map[string]*onnx.Tensor{
				"logits": mustTensor(t, logits, []int64{int64(rows), 1, int64(cfg.VocabSize)}),
			}

			selfLen := int64(1)
			if useCache {
				selfLen = past.Dim(2) + 1
			}
			selfShape := []int64{2, int64(cfg.NumHeads), selfLen, int64(cfg.HeadDim)}
			crossShape := []int64{2, int64(cfg.NumHeads), seq, int64(cfg.HeadDim)}
			for _, n := range newLayerNames(cfg.NumLayers) {
				for name, shape := range map[string][]int64{
					n.presentSelfKey:    selfShape,
					n.presentSelfValue:  selfShape,
					n.presentCrossKey:   crossShape,
					n.presentCrossValue: crossShape,
				} {
					z, err := onnx.NewZeroTensor("float32", shape)
					if err != nil {
						t.Errorf("present %s: %v", name, err)
					}
					out[name] = z
				}
			}

			return out, nil
		},
	}

	return d
}

func (d *fakeDecoder) History() []decoderCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]decoderCall(nil), d.history...)
}

// fakeCodec records the audio_codes it receives and returns 10 samples per
// frame.
type fakeCodec struct {
	*fakeRunner
	shape []int64
	codes []int64
}

func newFakeCodec(t *testing.T) *fakeCodec {
	c := &fakeCodec{}
	c.fakeRunner = &fakeRunner{
		name: GraphCodec,
		fn: func(_ context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
			checkFeed(t, GraphCodec, []string{"audio_codes"}, inputs)

			codes := inputs["audio_codes"]
			c.shape = codes.Shape()
			c.codes, _ = onnx.Extract[int64](codes)
			n := codes.Dim(3) * 10
			return map[string]*onnx.Tensor{
				"audio_values": mustTensor(t, make([]float32, n), []int64{1, 1, n}),
			}, nil
		},
	}

	return c
}

type testRig struct {
	cfg      ModelConfig
	encoder  *fakeRunner
	decoder  *fakeDecoder
	codec    *fakeCodec
	pipeline *Pipeline
}

func newTestRig(t *testing.T, cfg ModelConfig) *testRig {
	t.Helper()

	r := &testRig{
		cfg:     cfg,
		encoder: fakeTextEncoder(t),
		decoder: newFakeDecoder(t, cfg, 5),
		codec:   newFakeCodec(t),
	}

	p, err := New(cfg, Graphs{TextEncoder: r.encoder, Decoder: r.decoder, Codec: r.codec}, stubTokenizer{ids: []int64{7, 8, 1}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.pipeline = p

	return r
}
