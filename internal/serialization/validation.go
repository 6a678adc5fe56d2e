package serialization

import (
	"fmt"
	"sort"
	"strings"

	"github.com/born-ml/rnnsearch/internal/tensor"
)

// Validation limits for security and resource protection.
const (
	MaxHeaderSize    = 100 * 1024 * 1024
	MaxTensorCount   = 100_000
	MaxTensorNameLen = 4096
)

// ValidateHeader checks tensor names, dtypes and shapes, and that the
// tensors tile the data section without overlapping or running past it.
func ValidateHeader(h *Header, dataSize int64) error {
	if len(h.Tensors) > MaxTensorCount {
		return &ValidationError{Err: ErrTooManyTensors, Details: fmt.Sprintf("got %d, max %d", len(h.Tensors), MaxTensorCount)}
	}
	seen := make(map[string]bool, len(h.Tensors))
	for _, t := range h.Tensors {
		if t.Name == "" || len(t.Name) > MaxTensorNameLen || strings.ContainsRune(t.Name, 0) {
			return &ValidationError{Err: ErrInvalidTensorName, Tensor: t.Name, Details: "empty, too long or contains NUL"}
		}
		if seen[t.Name] {
			return &ValidationError{Err: ErrInvalidTensorName, Tensor: t.Name, Details: "duplicate name"}
		}
		seen[t.Name] = true

		dtype, ok := tensor.ParseDataType(t.DType)
		if !ok {
			return &ValidationError{Err: ErrInvalidTensorName, Tensor: t.Name, Details: "unsupported dtype " + t.DType}
		}
		shape := tensor.Shape(t.Shape)
		if err := shape.Validate(); err != nil {
			return &ValidationError{Err: ErrOutOfBounds, Tensor: t.Name, Details: err.Error()}
		}
		if want := int64(shape.NumElements() * dtype.Size()); t.Size != want {
			return &ValidationError{Err: ErrOutOfBounds, Tensor: t.Name, Details: fmt.Sprintf("size %d, shape %v needs %d", t.Size, shape, want)}
		}
	}
	return ValidateTensorOffsets(h.Tensors, dataSize)
}

// ValidateTensorOffsets checks for overlapping tensor offsets and
// out-of-bounds access.
func ValidateTensorOffsets(tensors []TensorMeta, dataSize int64) error {
	sorted := make([]TensorMeta, len(tensors))
	copy(sorted, tensors)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Offset < sorted[j].Offset
	})

	for i, t := range sorted {
		if t.Offset < 0 || t.Size < 0 {
			return &ValidationError{Err: ErrOutOfBounds, Tensor: t.Name, Details: fmt.Sprintf("offset=%d, size=%d", t.Offset, t.Size)}
		}
		if t.Offset+t.Size > dataSize {
			return &ValidationError{Err: ErrOutOfBounds, Tensor: t.Name, Details: fmt.Sprintf("offset %d + size %d > data_size %d", t.Offset, t.Size, dataSize)}
		}
		if i < len(sorted)-1 {
			next := sorted[i+1]
			if t.Offset+t.Size > next.Offset {
				return &ValidationError{
					Err:     ErrOffsetOverlap,
					Tensor:  t.Name,
					Tensor2: next.Name,
					Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap", t.Offset, t.Offset+t.Size, next.Offset, next.Offset+next.Size),
				}
			}
		}
	}
	return nil
}
