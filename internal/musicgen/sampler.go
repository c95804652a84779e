package musicgen

import (
	"cmp"
	"errors"
	"math"

	pq "github.com/emirpasic/gods/v2/queues/priorityqueue"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// Sampler draws tokens by top-k sampling. It is not safe for concurrent use;
// each generation session owns one.
type Sampler struct {
	src rand.Source
}

// NewSampler returns a sampler whose draws are fully determined by seed.
func NewSampler(seed uint64) *Sampler {
	return &Sampler{src: rand.NewSource(seed)}
}

type logitMap struct {
	index int
	logit float32
}

// logitMapComparator orders by logit descending, then index ascending, so
// equal logits always dequeue in the same order.
func logitMapComparator(a, b logitMap) int {
	if c := cmp.Compare(b.logit, a.logit); c != 0 {
		return c
	}

	return cmp.Compare(a.index, b.index)
}

// TopK returns the k highest logits and their vocabulary indices, best first.
// k is clamped to len(logits).
func TopK(logits []float32, k int) (indices []int, values []float64) {
	k = min(k, len(logits))

	q := pq.NewWith(logitMapComparator)
	for i, logit := range logits {
		q.Enqueue(logitMap{index: i, logit: logit})
	}

	indices = make([]int, 0, k)
	values = make([]float64, 0, k)
	for range k {
		lm, _ := q.Dequeue()
		indices = append(indices, lm.index)
		values = append(values, float64(lm.logit))
	}

	return indices, values
}

// Softmax converts logits to probabilities in place, subtracting the maximum
// first so large logits cannot overflow.
func Softmax(logits []float64) []float64 {
	maxLogit := floats.Max(logits)
	for i, v := range logits {
		logits[i] = math.Exp(v - maxLogit)
	}

	floats.Scale(1/floats.Sum(logits), logits)

	return logits
}

// Sample restricts logits to the top k entries, renormalizes them, and draws
// one vocabulary index.
func (s *Sampler) Sample(logits []float32, k int) (int64, error) {
	if k <= 0 {
		return -1, errors.New("k must be greater than 0")
	}

	if len(logits) == 0 {
		return -1, errors.New("no logits to sample from")
	}

	indices, values := TopK(logits, k)
	probs := Softmax(values)

	w := sampleuv.NewWeighted(probs, s.src)
	if idx, ok := w.Take(); ok {
		return int64(indices[idx]), nil
	}

	return -1, errors.New("weighted sampler failed, no valid token found")
}
