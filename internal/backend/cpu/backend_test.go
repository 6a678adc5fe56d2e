package cpu

import (
	"math"
	"testing"

	"github.com/born-ml/rnnsearch/internal/tensor"
)

func newTestBackend() *CPUBackend {
	return New()
}

func mustFloat(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.RawFromFloat32(data, shape, tensor.CPU)
	if err != nil {
		t.Fatalf("RawFromFloat32: %v", err)
	}
	return r
}

func mustInt(t *testing.T, data []int32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.RawFromInt32(data, shape, tensor.CPU)
	if err != nil {
		t.Fatalf("RawFromInt32: %v", err)
	}
	return r
}

// float32SliceEqual checks float32 slices are equal within epsilon.
func float32SliceEqual(a, b []float32) bool {
	const epsilon = 1e-5
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > epsilon {
			return false
		}
	}
	return true
}

func TestCPUBackend_New(t *testing.T) {
	backend := New()
	if backend.Name() != "CPU" {
		t.Errorf("Expected name 'CPU', got '%s'", backend.Name())
	}
	if backend.Device() != tensor.CPU {
		t.Errorf("Expected device CPU, got %v", backend.Device())
	}
}

func TestCPUBackend_AddBroadcast(t *testing.T) {
	backend := newTestBackend()

	t.Run("SameShape", func(t *testing.T) {
		a := mustFloat(t, []float32{1, 2, 3, 4}, tensor.Shape{2, 2})
		b := mustFloat(t, []float32{10, 20, 30, 40}, tensor.Shape{2, 2})
		got := backend.Add(a, b).AsFloat32()
		if !float32SliceEqual(got, []float32{11, 22, 33, 44}) {
			t.Errorf("Add = %v", got)
		}
	})

	t.Run("BiasOverTimeAndBatch", func(t *testing.T) {
		a := mustFloat(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, tensor.Shape{2, 2, 2})
		b := mustFloat(t, []float32{100, 200}, tensor.Shape{2})
		got := backend.Add(a, b)
		if !got.Shape().Equal(tensor.Shape{2, 2, 2}) {
			t.Fatalf("shape = %v", got.Shape())
		}
		want := []float32{101, 202, 103, 204, 105, 206, 107, 208}
		if !float32SliceEqual(got.AsFloat32(), want) {
			t.Errorf("Add = %v, want %v", got.AsFloat32(), want)
		}
	})

	t.Run("StateOverTime", func(t *testing.T) {
		// [1, B, D] + [T, B, D]
		a := mustFloat(t, []float32{1, 2}, tensor.Shape{1, 1, 2})
		b := mustFloat(t, []float32{10, 20, 30, 40, 50, 60}, tensor.Shape{3, 1, 2})
		got := backend.Sub(b, a).AsFloat32()
		if !float32SliceEqual(got, []float32{9, 18, 29, 38, 49, 58}) {
			t.Errorf("Sub = %v", got)
		}
	})

	t.Run("Incompatible", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic for incompatible shapes")
			}
		}()
		backend.Mul(mustFloat(t, make([]float32, 6), tensor.Shape{2, 3}), mustFloat(t, make([]float32, 4), tensor.Shape{2, 2}))
	})
}

func TestCPUBackend_MatMul(t *testing.T) {
	backend := newTestBackend()
	a := mustFloat(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	b := mustFloat(t, []float32{7, 8, 9, 10, 11, 12}, tensor.Shape{3, 2})

	got := backend.MatMul(a, b)
	want := []float32{58, 64, 139, 154}
	if !got.Shape().Equal(tensor.Shape{2, 2}) || !float32SliceEqual(got.AsFloat32(), want) {
		t.Errorf("MatMul = %v %v, want %v", got.Shape(), got.AsFloat32(), want)
	}
}

func TestCPUBackend_TransposeInt32(t *testing.T) {
	backend := newTestBackend()
	// Batch-major ids [B=2, T=3] to time-major [T, B].
	ids := mustInt(t, []int32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	got := backend.Transpose(ids, 1, 0)

	want := []int32{1, 4, 2, 5, 3, 6}
	if !got.Shape().Equal(tensor.Shape{3, 2}) {
		t.Fatalf("shape = %v", got.Shape())
	}
	for i, v := range got.AsInt32() {
		if v != want[i] {
			t.Fatalf("Transpose = %v, want %v", got.AsInt32(), want)
		}
	}
}

func TestCPUBackend_CatNarrow(t *testing.T) {
	backend := newTestBackend()
	fwd := mustFloat(t, []float32{1, 2, 3, 4}, tensor.Shape{2, 1, 2})
	bwd := mustFloat(t, []float32{5, 6, 7, 8, 9, 10}, tensor.Shape{2, 1, 3})

	cat := backend.Cat([]*tensor.RawTensor{fwd, bwd}, 2)
	if !cat.Shape().Equal(tensor.Shape{2, 1, 5}) {
		t.Fatalf("Cat shape = %v", cat.Shape())
	}
	want := []float32{1, 2, 5, 6, 7, 3, 4, 8, 9, 10}
	if !float32SliceEqual(cat.AsFloat32(), want) {
		t.Errorf("Cat = %v, want %v", cat.AsFloat32(), want)
	}

	back := backend.Narrow(cat, -1, 2, 3)
	if !float32SliceEqual(back.AsFloat32(), bwd.AsFloat32()) {
		t.Errorf("Narrow = %v, want %v", back.AsFloat32(), bwd.AsFloat32())
	}

	step := backend.Narrow(cat, 0, 1, 1)
	if !float32SliceEqual(step.AsFloat32(), []float32{3, 4, 8, 9, 10}) {
		t.Errorf("Narrow time = %v", step.AsFloat32())
	}
}

func TestCPUBackend_SumDim(t *testing.T) {
	backend := newTestBackend()
	x := mustFloat(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{3, 2})

	s0 := backend.SumDim(x, 0, false)
	if !s0.Shape().Equal(tensor.Shape{2}) || !float32SliceEqual(s0.AsFloat32(), []float32{9, 12}) {
		t.Errorf("SumDim(0) = %v %v", s0.Shape(), s0.AsFloat32())
	}

	s1 := backend.SumDim(x, 1, true)
	if !s1.Shape().Equal(tensor.Shape{3, 1}) || !float32SliceEqual(s1.AsFloat32(), []float32{3, 7, 11}) {
		t.Errorf("SumDim(1) = %v %v", s1.Shape(), s1.AsFloat32())
	}

	if got := backend.Sum(x).AsFloat32()[0]; got != 21 {
		t.Errorf("Sum = %v", got)
	}
}

func TestCPUBackend_EmbeddingSentinel(t *testing.T) {
	backend := newTestBackend()
	weight := mustFloat(t, []float32{1, 1, 2, 2, 3, 3}, tensor.Shape{3, 2})
	ids := mustInt(t, []int32{2, -1, 0}, tensor.Shape{3})

	got := backend.Embedding(weight, ids)
	want := []float32{3, 3, 0, 0, 1, 1}
	if !got.Shape().Equal(tensor.Shape{3, 2}) || !float32SliceEqual(got.AsFloat32(), want) {
		t.Errorf("Embedding = %v %v, want %v", got.Shape(), got.AsFloat32(), want)
	}
}

func TestCPUBackend_Maxout(t *testing.T) {
	backend := newTestBackend()
	x := mustFloat(t, []float32{1, 5, -2, -3, 4, 4}, tensor.Shape{1, 6})
	got := backend.Maxout(x, 2)
	if !got.Shape().Equal(tensor.Shape{1, 3}) || !float32SliceEqual(got.AsFloat32(), []float32{5, -2, 4}) {
		t.Errorf("Maxout = %v %v", got.Shape(), got.AsFloat32())
	}
}

func TestCPUBackend_MaskedSoftmax(t *testing.T) {
	backend := newTestBackend()
	x := mustFloat(t, []float32{1, 2, 1000, 0, 0, 0}, tensor.Shape{2, 3})
	mask := mustFloat(t, []float32{1, 1, 0, 0, 0, 0}, tensor.Shape{2, 3})

	got := backend.Softmax(x, mask).AsFloat32()
	e := math.Exp(1)
	want := []float32{float32(1 / (1 + e)), float32(e / (1 + e)), 0, 0, 0, 0}
	if !float32SliceEqual(got, want) {
		t.Errorf("Softmax = %v, want %v", got, want)
	}
	if got[2] != 0 {
		t.Errorf("masked weight must be exactly zero, got %v", got[2])
	}

	plain := backend.Softmax(mustFloat(t, []float32{0, 0, 0, 0}, tensor.Shape{1, 4}), nil).AsFloat32()
	if !float32SliceEqual(plain, []float32{0.25, 0.25, 0.25, 0.25}) {
		t.Errorf("Softmax = %v", plain)
	}
}

func TestCPUBackend_CrossEntropy(t *testing.T) {
	backend := newTestBackend()
	logits := mustFloat(t, []float32{0, 0, 0, 0, 10, 0}, tensor.Shape{2, 3})
	targets := mustInt(t, []int32{1, -1}, tensor.Shape{2})

	got := backend.CrossEntropy(logits, targets).AsFloat32()
	want := []float32{float32(math.Log(3)), 0}
	if !float32SliceEqual(got, want) {
		t.Errorf("CrossEntropy = %v, want %v", got, want)
	}
}
