package onnx

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
)

type TensorDType string

const (
	DTypeFloat32 TensorDType = "float32"
	DTypeInt64   TensorDType = "int64"
	DTypeBool    TensorDType = "bool"
)

// Tensor is a dense, row-major host tensor passed to and from graph runners.
// Zero dimensions are representable on the host, but CheckBindable rejects
// them before they reach ORT.
type Tensor struct {
	dtype TensorDType
	shape []int64
	data  any
}

func NewTensor[T int64 | float32](data []T, shape []int64) (*Tensor, error) {
	if err := validateShapeAgainstData(shape, len(data)); err != nil {
		return nil, err
	}

	t := &Tensor{shape: append([]int64(nil), shape...)}
	switch d := any(data).(type) {
	case []float32:
		t.dtype = DTypeFloat32
		t.data = append(make([]float32, 0, len(d)), d...)
	case []int64:
		t.dtype = DTypeInt64
		t.data = append(make([]int64, 0, len(d)), d...)
	default:
		return nil, fmt.Errorf("unsupported tensor data type %T", data)
	}

	return t, nil
}

// NewBoolTensor builds a bool tensor, used for graph flags such as
// use_cache_branch.
func NewBoolTensor(data []bool, shape []int64) (*Tensor, error) {
	if err := validateShapeAgainstData(shape, len(data)); err != nil {
		return nil, err
	}

	return &Tensor{
		dtype: DTypeBool,
		shape: append([]int64(nil), shape...),
		data:  append(make([]bool, 0, len(data)), data...),
	}, nil
}

func NewZeroTensor(dtype string, shape []int64) (*Tensor, error) {
	canonical, err := canonicalDType(dtype)
	if err != nil {
		return nil, err
	}

	count, err := elementCount(shape)
	if err != nil {
		return nil, err
	}

	switch canonical {
	case DTypeFloat32:
		return NewTensor(make([]float32, count), shape)
	case DTypeInt64:
		return NewTensor(make([]int64, count), shape)
	case DTypeBool:
		return NewBoolTensor(make([]bool, count), shape)
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %q", canonical)
	}
}

func (t *Tensor) DType() TensorDType {
	return t.dtype
}

func (t *Tensor) Shape() []int64 {
	return append([]int64(nil), t.shape...)
}

// Dim returns the size of dimension i, or -1 when i is out of range.
func (t *Tensor) Dim(i int) int64 {
	if i < 0 || i >= len(t.shape) {
		return -1
	}

	return t.shape[i]
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	switch v := t.data.(type) {
	case []float32:
		return len(v)
	case []int64:
		return len(v)
	case []bool:
		return len(v)
	default:
		return 0
	}
}

// Extract returns a copy of t's elements as []T. It fails when t is nil or
// holds a different dtype.
func Extract[T float32 | int64 | bool](t *Tensor) ([]T, error) {
	var zero T
	if t == nil {
		return nil, fmt.Errorf("expected %T tensor, got nil", zero)
	}

	data, ok := t.data.([]T)
	if !ok {
		return nil, fmt.Errorf("expected %T tensor, got %s", zero, t.dtype)
	}

	return append([]T(nil), data...), nil
}

// ErrEmptyTensor is returned for tensors with no elements. ORT refuses to
// bind them as inputs.
var ErrEmptyTensor = errors.New("tensor has no elements")

// CheckBindable reports whether t can be handed to ORT as an input.
func CheckBindable(t *Tensor) error {
	if t == nil {
		return errors.New("nil tensor")
	}

	switch t.data.(type) {
	case []float32, []int64, []bool:
	default:
		return fmt.Errorf("unsupported tensor dtype %q", t.dtype)
	}

	if t.Len() == 0 {
		return fmt.Errorf("%w: shape %v", ErrEmptyTensor, t.shape)
	}

	return validateShapeAgainstData(t.shape, t.Len())
}

// CheckInputs runs CheckBindable over every input and reports all failures
// by name.
func CheckInputs(inputs map[string]*Tensor) error {
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(inputs)) {
		if err := CheckBindable(inputs[name]); err != nil {
			errs = append(errs, fmt.Errorf("input %q: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// ConcatDim0 stacks two float32 tensors of equal trailing shape along the
// batch axis.
func ConcatDim0(a, b *Tensor) (*Tensor, error) {
	aShape := a.Shape()
	bShape := b.Shape()
	if len(aShape) == 0 || len(aShape) != len(bShape) {
		return nil, fmt.Errorf("ConcatDim0: rank mismatch: %v vs %v", aShape, bShape)
	}
	for i := 1; i < len(aShape); i++ {
		if aShape[i] != bShape[i] {
			return nil, fmt.Errorf("ConcatDim0: dim %d mismatch: %d vs %d", i, aShape[i], bShape[i])
		}
	}

	outShape := append([]int64{aShape[0] + bShape[0]}, aShape[1:]...)
	switch av := a.data.(type) {
	case []float32:
		bv, ok := b.data.([]float32)
		if !ok {
			return nil, fmt.Errorf("ConcatDim0: dtype mismatch: %s vs %s", a.dtype, b.dtype)
		}
		return NewTensor(append(append(make([]float32, 0, len(av)+len(bv)), av...), bv...), outShape)
	case []int64:
		bv, ok := b.data.([]int64)
		if !ok {
			return nil, fmt.Errorf("ConcatDim0: dtype mismatch: %s vs %s", a.dtype, b.dtype)
		}
		return NewTensor(append(append(make([]int64, 0, len(av)+len(bv)), av...), bv...), outShape)
	default:
		return nil, fmt.Errorf("ConcatDim0: unsupported dtype %s", a.dtype)
	}
}

func canonicalDType(raw string) (TensorDType, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.TrimPrefix(normalized, "tensor(")
	normalized = strings.TrimSuffix(normalized, ")")
	switch normalized {
	case "float", "float32":
		return DTypeFloat32, nil
	case "int64", "long":
		return DTypeInt64, nil
	case "bool":
		return DTypeBool, nil
	default:
		return "", fmt.Errorf("unsupported tensor dtype %q", raw)
	}
}

func validateShapeAgainstData(shape []int64, dataLen int) error {
	count, err := elementCount(shape)
	if err != nil {
		return err
	}
	if count != dataLen {
		return fmt.Errorf("shape %v expects %d elements, got %d", shape, count, dataLen)
	}
	return nil
}

func elementCount(shape []int64) (int, error) {
	if len(shape) == 0 {
		return 1, nil
	}
	count := int64(1)
	for i, dim := range shape {
		if dim < 0 {
			return 0, fmt.Errorf("shape[%d]=%d is negative", i, dim)
		}
		if dim > 0 && count > math.MaxInt64/dim {
			return 0, fmt.Errorf("shape %v overflows element count", shape)
		}
		count *= dim
	}
	if count > int64(math.MaxInt) {
		return 0, fmt.Errorf("shape %v exceeds platform int capacity", shape)
	}
	return int(count), nil
}
