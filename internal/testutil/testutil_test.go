package testutil_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/gijzelaerr/poing/internal/testutil"
)

func TestRequireONNXRuntime_SkipsWhenAbsent(t *testing.T) {
	t.Setenv("POING_ORT_LIB", "/nonexistent/libonnxruntime.so")

	skipped := false
	fakeT := &skipTracker{TB: t, onSkip: func() { skipped = true }}
	testutil.RequireONNXRuntime(fakeT)
	if !skipped {
		t.Error("expected RequireONNXRuntime to skip when library is absent")
	}
}

func TestRequireModelDir_SkipsWhenIncomplete(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("POING_MODEL_DIR", dir)

	skipped := false
	fakeT := &skipTracker{TB: t, onSkip: func() { skipped = true }}
	if got := testutil.RequireModelDir(fakeT); got != "" {
		t.Errorf("RequireModelDir = %q, want empty", got)
	}
	if !skipped {
		t.Error("expected RequireModelDir to skip for an empty directory")
	}
}

func TestRequireModelDir_ReturnsCompleteDir(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"text_encoder.onnx", "decoder_model_merged.onnx", "encodec_decode.onnx", "tokenizer.json"} {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv("POING_MODEL_DIR", dir)

	fakeT := &skipTracker{TB: t, onSkip: func() { t.Error("unexpected skip") }}
	if got := testutil.RequireModelDir(fakeT); got != dir {
		t.Errorf("RequireModelDir = %q, want %q", got, dir)
	}
}

func TestAssertValidWAV_Accepts32kMono(t *testing.T) {
	testutil.AssertValidWAV(t, pcmWAV(testutil.WAVSampleRate, 320))
	testutil.AssertWAVDurationApprox(t, pcmWAV(testutil.WAVSampleRate, 16000), 0.49, 0.51)
}

func pcmWAV(sampleRate uint32, samples int) []byte {
	data := make([]byte, 44+2*samples)
	copy(data[0:], "RIFF")
	binary.LittleEndian.PutUint32(data[4:], uint32(36+2*samples))
	copy(data[8:], "WAVE")
	copy(data[12:], "fmt ")
	binary.LittleEndian.PutUint32(data[16:], 16)
	binary.LittleEndian.PutUint16(data[20:], 1)
	binary.LittleEndian.PutUint16(data[22:], 1)
	binary.LittleEndian.PutUint32(data[24:], sampleRate)
	binary.LittleEndian.PutUint32(data[28:], sampleRate*2)
	binary.LittleEndian.PutUint16(data[32:], 2)
	binary.LittleEndian.PutUint16(data[34:], 16)
	copy(data[36:], "data")
	binary.LittleEndian.PutUint32(data[40:], uint32(2*samples))
	return data
}

// skipTracker is a minimal testing.TB implementation that intercepts Skip calls.
type skipTracker struct {
	testing.TB
	onSkip func()
}

func (s *skipTracker) Helper() {}

func (s *skipTracker) Skipf(_ string, _ ...any) {
	s.onSkip()
	// Do NOT call s.TB.Skip; that would actually skip the outer test.
}

func (s *skipTracker) Skip(_ ...any) {
	s.onSkip()
}
