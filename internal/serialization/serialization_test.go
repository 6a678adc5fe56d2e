package serialization_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/rnnsearch/internal/serialization"
	"github.com/born-ml/rnnsearch/internal/tensor"
)

func testState(t *testing.T) map[string]*tensor.RawTensor {
	t.Helper()
	w, err := tensor.RawFromFloat32([]float32{1.5, -2, 0, 3.25, 1e-7, -0.5}, tensor.Shape{2, 3}, tensor.CPU)
	require.NoError(t, err)
	b, err := tensor.RawFromFloat32([]float32{0.1, 0.2, 0.3}, tensor.Shape{3}, tensor.CPU)
	require.NoError(t, err)
	ids, err := tensor.RawFromInt32([]int32{-1, 0, 7}, tensor.Shape{3}, tensor.CPU)
	require.NoError(t, err)
	return map[string]*tensor.RawTensor{
		"decoder/readout/softmax1.W": w,
		"decoder/readout/softmax1.b": b,
		"iteration/ids":              ids,
	}
}

func encode(t *testing.T, state map[string]*tensor.RawTensor) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, serialization.Write(&buf, state, serialization.Header{
		Producer:  "rnnsearch",
		ModelType: "RNNsearch",
		Metadata:  map[string]string{"iterations_done": "12"},
	}))
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	state := testState(t)
	header, loaded, err := serialization.Read(encode(t, state))
	require.NoError(t, err)

	assert.Equal(t, serialization.FormatVersion, header.FormatVersion)
	assert.Equal(t, "RNNsearch", header.ModelType)
	assert.Equal(t, "12", header.Metadata["iterations_done"])
	require.Len(t, loaded, len(state))
	for name, want := range state {
		got := loaded[name]
		require.NotNil(t, got, name)
		assert.Equal(t, want.Shape(), got.Shape(), name)
		assert.Equal(t, want.DType(), got.DType(), name)
		if want.DType() == tensor.Float32 {
			assert.Equal(t, want.AsFloat32(), got.AsFloat32(), name)
		} else {
			assert.Equal(t, want.AsInt32(), got.AsInt32(), name)
		}
	}
}

func TestTensorsAreSortedAndAligned(t *testing.T) {
	data := encode(t, testState(t))
	header, _, err := serialization.Read(data)
	require.NoError(t, err)

	names := make([]string, len(header.Tensors))
	for i, m := range header.Tensors {
		names[i] = m.Name
	}
	assert.IsNonDecreasing(t, names)

	headerSize := binary.LittleEndian.Uint64(data[16:24])
	dataSize := binary.LittleEndian.Uint64(data[24:32])
	dataStart := uint64(len(data)) - dataSize
	assert.Zero(t, dataStart%serialization.HeaderAlignment)
	assert.GreaterOrEqual(t, dataStart, serialization.FixedHeaderSize+headerSize)
}

func TestReadRejectsCorruption(t *testing.T) {
	good := encode(t, testState(t))

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"truncated fixed header", func(b []byte) []byte { return b[:10] }, serialization.ErrTruncated},
		{"truncated data", func(b []byte) []byte { return b[:len(b)-4] }, serialization.ErrTruncated},
		{"bad magic", func(b []byte) []byte { copy(b, "GGUF"); return b }, serialization.ErrInvalidMagic},
		{"bad version", func(b []byte) []byte { binary.LittleEndian.PutUint32(b[4:8], 1); return b }, serialization.ErrUnsupportedVersion},
		{"flipped payload bit", func(b []byte) []byte { b[len(b)-1] ^= 0x40; return b }, serialization.ErrChecksumMismatch},
		{"huge header", func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[16:24], serialization.MaxHeaderSize+1)
			return b
		}, serialization.ErrHeaderTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(bytes.Clone(good))
			_, _, err := serialization.Read(data)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateTensorOffsets(t *testing.T) {
	tests := []struct {
		name    string
		tensors []serialization.TensorMeta
		size    int64
		want    error
	}{
		{"ok", []serialization.TensorMeta{{Name: "a", Offset: 0, Size: 8}, {Name: "b", Offset: 8, Size: 4}}, 12, nil},
		{"overlap", []serialization.TensorMeta{{Name: "a", Offset: 0, Size: 8}, {Name: "b", Offset: 4, Size: 4}}, 12, serialization.ErrOffsetOverlap},
		{"past end", []serialization.TensorMeta{{Name: "a", Offset: 8, Size: 8}}, 12, serialization.ErrOutOfBounds},
		{"negative", []serialization.TensorMeta{{Name: "a", Offset: -4, Size: 4}}, 12, serialization.ErrOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := serialization.ValidateTensorOffsets(tt.tensors, tt.size)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateHeader(t *testing.T) {
	tests := []struct {
		name string
		meta serialization.TensorMeta
		want error
	}{
		{"empty name", serialization.TensorMeta{DType: "float32", Shape: []int{2}, Size: 8}, serialization.ErrInvalidTensorName},
		{"unknown dtype", serialization.TensorMeta{Name: "a", DType: "float16", Shape: []int{2}, Size: 4}, serialization.ErrInvalidTensorName},
		{"size mismatch", serialization.TensorMeta{Name: "a", DType: "float32", Shape: []int{2}, Size: 4}, serialization.ErrOutOfBounds},
		{"zero dim", serialization.TensorMeta{Name: "a", DType: "int32", Shape: []int{0}, Size: 0}, serialization.ErrOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &serialization.Header{Tensors: []serialization.TensorMeta{tt.meta}}
			require.ErrorIs(t, serialization.ValidateHeader(h, 64), tt.want)
		})
	}

	dup := &serialization.Header{Tensors: []serialization.TensorMeta{
		{Name: "a", DType: "float32", Shape: []int{1}, Size: 4},
		{Name: "a", DType: "float32", Shape: []int{1}, Offset: 4, Size: 4},
	}}
	require.ErrorIs(t, serialization.ValidateHeader(dup, 8), serialization.ErrInvalidTensorName)
}

func TestWriteFileReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "params.born")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o600))

	state := testState(t)
	require.NoError(t, serialization.WriteFile(path, state, serialization.Header{ModelType: "RNNsearch"}))

	_, loaded, err := serialization.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, loaded, len(state))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestWriteRejectsNilTensor(t *testing.T) {
	var buf bytes.Buffer
	err := serialization.Write(&buf, map[string]*tensor.RawTensor{"x": nil}, serialization.Header{})
	require.Error(t, err)
}
