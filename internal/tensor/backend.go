package tensor

// Backend defines the primitive operations the translation model is built
// from. A backend computes eagerly and never mutates its inputs.
//
// Sequence tensors are time-major: [T, B, ...].
type Backend interface {
	// Element-wise binary operations with NumPy broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// MatMul multiplies two 2-D matrices: [M, K] @ [K, N] -> [M, N].
	MatMul(a, b *RawTensor) *RawTensor

	// Shape operations. Reshape, Transpose, Cat, Narrow and Expand accept
	// int32 tensors as well as float32 ones.
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor
	Expand(x *RawTensor, shape Shape) *RawTensor
	Cat(tensors []*RawTensor, dim int) *RawTensor
	Narrow(x *RawTensor, dim, start, length int) *RawTensor

	// Scalar operations.
	MulScalar(x *RawTensor, scalar float32) *RawTensor
	AddScalar(x *RawTensor, scalar float32) *RawTensor

	// Element-wise math.
	Exp(x *RawTensor) *RawTensor
	Log(x *RawTensor) *RawTensor
	Tanh(x *RawTensor) *RawTensor
	Sigmoid(x *RawTensor) *RawTensor

	// Reductions.
	Sum(x *RawTensor) *RawTensor
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor

	// Embedding looks up rows of weight [V, E] for int32 indices of any
	// shape, producing [..., E]. Negative indices produce zero rows.
	Embedding(weight, indices *RawTensor) *RawTensor

	// Maxout takes the maximum over consecutive groups of `pieces`
	// elements along the last dimension.
	Maxout(x *RawTensor, pieces int) *RawTensor

	// Softmax normalizes along the last dimension. When mask is non-nil
	// (same shape as x, values 0 or 1) masked positions get exactly zero
	// weight and rows without any valid position are all zero.
	Softmax(x, mask *RawTensor) *RawTensor

	// CrossEntropy returns the per-row negative log-likelihood of int32
	// targets [N] under logits [N, V]. Negative targets cost zero.
	CrossEntropy(logits, targets *RawTensor) *RawTensor

	// Metadata
	Name() string
	Device() Device
}
