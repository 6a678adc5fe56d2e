package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/rnnsearch/internal/parallel"
	"github.com/born-ml/rnnsearch/internal/tensor"
)

// Maxout keeps the maximum of each run of `pieces` consecutive elements in
// the last dimension: [..., D] -> [..., D/pieces].
func (cpu *CPUBackend) Maxout(x *tensor.RawTensor, pieces int) *tensor.RawTensor {
	requireFloat32("maxout", x)
	shape := x.Shape()
	last := shape[len(shape)-1]
	if pieces <= 0 || last%pieces != 0 {
		panic(fmt.Sprintf("maxout: last dimension %d not divisible into %d pieces", last, pieces))
	}

	result := cpu.alloc("maxout", shape.WithDim(len(shape)-1, last/pieces), tensor.Float32)
	out, in := result.AsFloat32(), x.AsFloat32()
	for g := range out {
		group := in[g*pieces : (g+1)*pieces]
		best := group[0]
		for _, v := range group[1:] {
			if v > best {
				best = v
			}
		}
		out[g] = best
	}
	return result
}

// Softmax normalizes the last dimension.
//
// With a mask the maximum is taken over valid positions only, masked
// positions are exactly zero, and a row with no valid position is all zero
// instead of NaN.
func (cpu *CPUBackend) Softmax(x, mask *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("softmax", x)
	shape := x.Shape()
	var m []float32
	if mask != nil {
		requireFloat32("softmax", mask)
		if !mask.Shape().Equal(shape) {
			panic(fmt.Sprintf("softmax: mask shape %v does not match %v", mask.Shape(), shape))
		}
		m = mask.AsFloat32()
	}

	cols := shape[len(shape)-1]
	rows := x.NumElements() / cols
	result := cpu.alloc("softmax", shape, tensor.Float32)
	out, in := result.AsFloat32(), x.AsFloat32()

	parallel.For(rows, func(r int) {
		row := in[r*cols : (r+1)*cols]
		dst := out[r*cols : (r+1)*cols]
		valid := func(j int) bool { return m == nil || m[r*cols+j] != 0 }

		maxVal := float32(math.Inf(-1))
		for j, v := range row {
			if valid(j) && v > maxVal {
				maxVal = v
			}
		}
		if math.IsInf(float64(maxVal), -1) {
			return // no valid position: row stays zero
		}

		var sum float64
		for j, v := range row {
			if !valid(j) {
				continue
			}
			e := math.Exp(float64(v - maxVal))
			dst[j] = float32(e)
			sum += e
		}
		for j := range dst {
			dst[j] = float32(float64(dst[j]) / sum)
		}
	}, cpu.parallel)
	return result
}

// CrossEntropy computes -log softmax(logits)[target] for every row.
// Rows whose target is negative cost zero.
func (cpu *CPUBackend) CrossEntropy(logits, targets *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("cross_entropy", logits)
	if targets.DType() != tensor.Int32 {
		panic(fmt.Sprintf("cross_entropy: targets must be int32, got %s", targets.DType()))
	}
	shape := logits.Shape()
	if len(shape) != 2 || targets.NumElements() != shape[0] {
		panic(fmt.Sprintf("cross_entropy: logits %v incompatible with targets %v", shape, targets.Shape()))
	}
	rows, cols := shape[0], shape[1]

	result := cpu.alloc("cross_entropy", tensor.Shape{rows}, tensor.Float32)
	out, in, tgt := result.AsFloat32(), logits.AsFloat32(), targets.AsInt32()

	for r := 0; r < rows; r++ {
		target := int(tgt[r])
		if target < 0 {
			continue
		}
		if target >= cols {
			panic(fmt.Sprintf("cross_entropy: target %d out of range for %d classes", target, cols))
		}
		row := in[r*cols : (r+1)*cols]
		out[r] = float32(LogSumExp(row) - float64(row[target]))
	}
	return result
}

// LogSumExp computes log(sum(exp(row))) stably.
func LogSumExp(row []float32) float64 {
	maxVal := math.Inf(-1)
	for _, v := range row {
		maxVal = math.Max(maxVal, float64(v))
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v) - maxVal)
	}
	return maxVal + math.Log(sum)
}
