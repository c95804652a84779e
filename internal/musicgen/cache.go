package musicgen

import (
	"fmt"
	"strconv"

	"github.com/gijzelaerr/poing/internal/onnx"
)

// LayerCache holds one decoder layer's attention state.
type LayerCache struct {
	SelfKey    *onnx.Tensor
	SelfValue  *onnx.Tensor
	CrossKey   *onnx.Tensor
	CrossValue *onnx.Tensor
}

// layerNames are the decoder graph's input and output names for one layer.
type layerNames struct {
	pastSelfKey, pastSelfValue         string
	pastCrossKey, pastCrossValue       string
	presentSelfKey, presentSelfValue   string
	presentCrossKey, presentCrossValue string
}

// newLayerNames formats every per-layer tensor name once so the decode loop
// only indexes.
func newLayerNames(numLayers int) []layerNames {
	names := make([]layerNames, numLayers)
	for l := range names {
		i := strconv.Itoa(l)
		names[l] = layerNames{
			pastSelfKey:       "past_key_values." + i + ".decoder.key",
			pastSelfValue:     "past_key_values." + i + ".decoder.value",
			pastCrossKey:      "past_key_values." + i + ".encoder.key",
			pastCrossValue:    "past_key_values." + i + ".encoder.value",
			presentSelfKey:    "present." + i + ".decoder.key",
			presentSelfValue:  "present." + i + ".decoder.value",
			presentCrossKey:   "present." + i + ".encoder.key",
			presentCrossValue: "present." + i + ".encoder.value",
		}
	}

	return names
}

// LayerIONames returns the decoder's cache input and output tensor names for
// layer l, in self key, self value, cross key, cross value order.
func LayerIONames(l int) (inputs, outputs []string) {
	n := newLayerNames(l + 1)[l]
	return []string{n.pastSelfKey, n.pastSelfValue, n.pastCrossKey, n.pastCrossValue},
		[]string{n.presentSelfKey, n.presentSelfValue, n.presentCrossKey, n.presentCrossValue}
}

// Cache is the decoder's key/value state, indexed by layer. The self-attention
// entries advance every step; the cross-attention entries are filled from the
// first step's outputs and then frozen.
type Cache struct {
	layers     []LayerCache
	names      []layerNames
	selfLen    int64
	crossLen   int64
	crossReady bool
}

// placeholderSeqLen is the sequence length of the past tensors sent with
// use_cache_branch=false. The merged graph ignores them on that branch, but
// ORT cannot bind a tensor with no elements.
const placeholderSeqLen = 1

// NewCache allocates zero-filled placeholder caches of shape
// [batch, heads, 1, headDim] for every layer. SelfLen and CrossLen stay 0
// until the first Update.
func NewCache(cfg ModelConfig, batch int) (*Cache, error) {
	return newCache(cfg, batch, newLayerNames(cfg.NumLayers))
}

func newCache(cfg ModelConfig, batch int, names []layerNames) (*Cache, error) {
	if len(names) != cfg.NumLayers {
		return nil, fmt.Errorf("%w: %d layer name sets for %d layers", ErrShape, len(names), cfg.NumLayers)
	}

	if batch < 1 {
		return nil, fmt.Errorf("%w: cache batch %d", ErrShape, batch)
	}

	shape := []int64{int64(batch), int64(cfg.NumHeads), placeholderSeqLen, int64(cfg.HeadDim)}
	placeholder, err := onnx.NewZeroTensor("float32", shape)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShape, err)
	}

	c := &Cache{
		layers: make([]LayerCache, cfg.NumLayers),
		names:  names,
	}
	for l := range c.layers {
		// Cache tensors are never written in place, so one placeholder serves
		// every slot.
		c.layers[l] = LayerCache{SelfKey: placeholder, SelfValue: placeholder, CrossKey: placeholder, CrossValue: placeholder}
	}

	return c, nil
}

// Layer returns layer l's tensors.
func (c *Cache) Layer(l int) LayerCache { return c.layers[l] }

// NumLayers returns the number of cached layers.
func (c *Cache) NumLayers() int { return len(c.layers) }

// SelfLen is the accumulated self-attention sequence length, 0 before the
// first update regardless of the placeholder shape.
func (c *Cache) SelfLen() int64 { return c.selfLen }

// CrossLen is the cross-attention sequence length, 0 until the first update.
func (c *Cache) CrossLen() int64 { return c.crossLen }

// Populated reports whether the first decoder step has filled the cache. It
// is the value of the decoder's use_cache_branch flag.
func (c *Cache) Populated() bool { return c.crossReady }

// AddInputs adds every past_key_values tensor to inputs.
func (c *Cache) AddInputs(inputs map[string]*onnx.Tensor) {
	for l, n := range c.names {
		lc := c.layers[l]
		inputs[n.pastSelfKey] = lc.SelfKey
		inputs[n.pastSelfValue] = lc.SelfValue
		inputs[n.pastCrossKey] = lc.CrossKey
		inputs[n.pastCrossValue] = lc.CrossValue
	}
}

// Update replaces the self-attention entries with the step's present outputs
// and, on the first call only, captures the cross-attention entries.
func (c *Cache) Update(outputs map[string]*onnx.Tensor) error {
	first := !c.crossReady
	next := make([]LayerCache, len(c.layers))

	selfLen := int64(-1)
	crossLen := c.crossLen
	for l, n := range c.names {
		lc := c.layers[l]

		key, val, err := presentPair(outputs, n.presentSelfKey, n.presentSelfValue)
		if err != nil {
			return err
		}
		if err := checkSeqLen(key, val, c.selfLen+1); err != nil {
			return fmt.Errorf("layer %d self-attention: %w", l, err)
		}
		lc.SelfKey, lc.SelfValue = key, val
		selfLen = key.Dim(2)

		if first {
			key, val, err := presentPair(outputs, n.presentCrossKey, n.presentCrossValue)
			if err != nil {
				return err
			}
			if l == 0 {
				crossLen = key.Dim(2)
			}
			if err := checkSeqLen(key, val, crossLen); err != nil {
				return fmt.Errorf("layer %d cross-attention: %w", l, err)
			}
			lc.CrossKey, lc.CrossValue = key, val
		}

		next[l] = lc
	}

	c.layers = next
	c.selfLen = selfLen
	c.crossLen = crossLen
	c.crossReady = true

	return nil
}

func presentPair(outputs map[string]*onnx.Tensor, keyName, valName string) (key, val *onnx.Tensor, err error) {
	key, ok := outputs[keyName]
	if !ok {
		return nil, nil, missingOutput(GraphDecoder, keyName)
	}

	val, ok = outputs[valName]
	if !ok {
		return nil, nil, missingOutput(GraphDecoder, valName)
	}

	return key, val, nil
}

func checkSeqLen(key, val *onnx.Tensor, want int64) error {
	if key.Dim(2) != want || val.Dim(2) != want {
		return fmt.Errorf("%w: key/value sequence length %d/%d, want %d", ErrShape, key.Dim(2), val.Dim(2), want)
	}

	return nil
}
