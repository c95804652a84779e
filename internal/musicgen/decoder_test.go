package musicgen

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gijzelaerr/poing/internal/onnx"
)

// The first decoder step is the only one that sends cache placeholders, so it
// is checked against the musicgen-small geometry the real export uses.
func TestSession_FirstStepInputsAreBindable(t *testing.T) {
	cfg := DefaultModelConfig()

	const seq = 5
	hidden := mustTensor(t, make([]float32, seq*768), []int64{1, seq, 768})
	mask := mustTensor(t, []int64{1, 1, 1, 1, 1}, []int64{1, seq})

	batchHidden, batchMask, err := BuildBatch(hidden, mask)
	if err != nil {
		t.Fatalf("BuildBatch: %v", err)
	}

	s, err := newSession(cfg, newLayerNames(cfg.NumLayers), nil, NewSampler(1), Params{}, batchHidden, batchMask)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}

	inputs, err := s.stepInputs()
	if err != nil {
		t.Fatalf("stepInputs: %v", err)
	}

	if err := onnx.MatchInputs(decoderInputNames(cfg), inputs); err != nil {
		t.Fatal(err)
	}
	if err := onnx.CheckInputs(inputs); err != nil {
		t.Fatalf("step 0 feed would be rejected by ORT: %v", err)
	}

	flag, err := onnx.Extract[bool](inputs["use_cache_branch"])
	if err != nil || len(flag) != 1 || flag[0] {
		t.Fatalf("use_cache_branch = %v, %v; want [false]", flag, err)
	}

	if diff := cmp.Diff([]int64{2 * int64(cfg.NumCodebooks), 1}, inputs["input_ids"].Shape()); diff != "" {
		t.Errorf("input_ids shape (-want +got):\n%s", diff)
	}

	last := cfg.NumLayers - 1
	in, _ := LayerIONames(last)
	for _, name := range in {
		want := []int64{2, int64(cfg.NumHeads), 1, int64(cfg.HeadDim)}
		if diff := cmp.Diff(want, inputs[name].Shape()); diff != "" {
			t.Errorf("%s shape (-want +got):\n%s", name, diff)
		}
	}
}

func TestCodec_AudioCodesAreBindable(t *testing.T) {
	codec := newFakeCodec(t)

	aligned := &Aligned{Codebooks: 4, Length: 3, Tokens: make([]int64, 12)}
	if _, err := NewCodec(codec).Decode(t.Context(), aligned); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if diff := cmp.Diff([]int64{1, 1, 4, 3}, codec.shape); diff != "" {
		t.Errorf("audio_codes shape (-want +got):\n%s", diff)
	}
}
