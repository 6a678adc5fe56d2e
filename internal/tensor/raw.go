package tensor

import (
	"fmt"
)

// Device represents the compute device for tensor operations.
type Device int

// Supported compute devices.
const (
	CPU Device = iota
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	default:
		return "Unknown"
	}
}

// RawTensor is the low-level tensor representation shared by all backends.
//
// Data is held in a typed slice ([]float32 or []int32) selected by dtype.
// Backends treat RawTensors as immutable once produced: every operation
// allocates its output, so a tensor recorded on the gradient tape keeps
// the value it had when the operation ran.
type RawTensor struct {
	shape  Shape
	dtype  DataType
	device Device
	f32    []float32
	i32    []int32
}

// NewRaw creates a new zero-filled RawTensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	r := &RawTensor{
		shape:  shape.Clone(),
		dtype:  dtype,
		device: device,
	}
	switch dtype {
	case Float32:
		r.f32 = make([]float32, shape.NumElements())
	case Int32:
		r.i32 = make([]int32, shape.NumElements())
	default:
		return nil, fmt.Errorf("unsupported data type: %v", dtype)
	}
	return r, nil
}

// MustRaw is NewRaw for shapes already known to be valid. It panics on error.
func MustRaw(shape Shape, dtype DataType, device Device) *RawTensor {
	r, err := NewRaw(shape, dtype, device)
	if err != nil {
		panic(err)
	}
	return r
}

// RawFromFloat32 wraps data (without copying) as a float32 tensor.
func RawFromFloat32(data []float32, shape Shape, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	return &RawTensor{shape: shape.Clone(), dtype: Float32, device: device, f32: data}, nil
}

// RawFromInt32 wraps data (without copying) as an int32 tensor.
func RawFromInt32(data []int32, shape Shape, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	return &RawTensor{shape: shape.Clone(), dtype: Int32, device: device, i32: data}, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Device returns the tensor's compute device.
func (r *RawTensor) Device() Device {
	return r.device
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the size of the tensor payload in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// AsFloat32 returns the float32 payload. Panics for other dtypes.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor is %s, not float32", r.dtype))
	}
	return r.f32
}

// AsInt32 returns the int32 payload. Panics for other dtypes.
func (r *RawTensor) AsInt32() []int32 {
	if r.dtype != Int32 {
		panic(fmt.Sprintf("tensor is %s, not int32", r.dtype))
	}
	return r.i32
}

// Clone returns a deep copy of the tensor.
func (r *RawTensor) Clone() *RawTensor {
	out := &RawTensor{shape: r.shape.Clone(), dtype: r.dtype, device: r.device}
	switch r.dtype {
	case Float32:
		out.f32 = append([]float32(nil), r.f32...)
	case Int32:
		out.i32 = append([]int32(nil), r.i32...)
	}
	return out
}

// View returns a tensor sharing this tensor's payload under a new shape.
// The element count must match.
func (r *RawTensor) View(shape Shape) *RawTensor {
	if shape.NumElements() != r.NumElements() {
		panic(fmt.Sprintf("cannot view %v as %v", r.shape, shape))
	}
	return &RawTensor{shape: shape.Clone(), dtype: r.dtype, device: r.device, f32: r.f32, i32: r.i32}
}

// CopyFrom overwrites the payload with src's. Shapes must have the same
// element count and dtypes must agree.
//
// Only optimizers and checkpoint loaders call this, between batches.
func (r *RawTensor) CopyFrom(src *RawTensor) error {
	if r.dtype != src.dtype {
		return fmt.Errorf("dtype mismatch: %s vs %s", r.dtype, src.dtype)
	}
	if r.NumElements() != src.NumElements() {
		return fmt.Errorf("element count mismatch: %v vs %v", r.shape, src.shape)
	}
	switch r.dtype {
	case Float32:
		copy(r.f32, src.f32)
	case Int32:
		copy(r.i32, src.i32)
	}
	return nil
}

// String returns a short description of the tensor.
func (r *RawTensor) String() string {
	return fmt.Sprintf("RawTensor(shape=%v, dtype=%s, device=%s)", r.shape, r.dtype, r.device)
}
