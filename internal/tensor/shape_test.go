package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		name      string
		a, b      Shape
		want      Shape
		broadcast bool
		wantErr   bool
	}{
		{"equal", Shape{3, 5}, Shape{3, 5}, Shape{3, 5}, false, false},
		{"column", Shape{3, 1}, Shape{3, 5}, Shape{3, 5}, true, false},
		{"bias", Shape{4, 2, 6}, Shape{6}, Shape{4, 2, 6}, true, false},
		{"time broadcast", Shape{1, 2, 6}, Shape{7, 2, 6}, Shape{7, 2, 6}, true, false},
		{"incompatible", Shape{3, 4}, Shape{3, 5}, nil, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, broadcast, err := BroadcastShapes(tt.a, tt.b)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.broadcast, broadcast)
		})
	}
}

func TestShapeHelpers(t *testing.T) {
	s := Shape{3, 2, 4}

	assert.Equal(t, 24, s.NumElements())
	assert.Equal(t, []int{8, 4, 1}, s.ComputeStrides())
	assert.Equal(t, 4, s.Dim(-1))
	assert.Equal(t, Shape{6, 4}, s.Flatten2D())
	assert.Equal(t, Shape{3, 5, 4}, s.WithDim(1, 5))
	assert.Equal(t, Shape{3, 2, 4}, s, "WithDim must not modify the receiver")

	assert.Error(t, Shape{2, 0}.Validate())
	assert.Equal(t, 1, Shape{}.NumElements())
}

func TestRawTensorViewAndClone(t *testing.T) {
	raw, err := RawFromFloat32([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3}, CPU)
	require.NoError(t, err)

	view := raw.View(Shape{3, 2})
	view.AsFloat32()[0] = 10
	assert.Equal(t, float32(10), raw.AsFloat32()[0], "views share storage")

	clone := raw.Clone()
	clone.AsFloat32()[1] = 20
	assert.Equal(t, float32(2), raw.AsFloat32()[1], "clones own storage")

	_, err = RawFromInt32([]int32{1, 2}, Shape{3}, CPU)
	assert.Error(t, err)

	assert.Panics(t, func() { raw.AsInt32() })
}
