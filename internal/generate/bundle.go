package generate

import (
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/born-ml/rnnsearch/internal/seq2seq"
	"github.com/born-ml/rnnsearch/internal/tensor"
)

// Sequence is one example of a generate bundle.
type Sequence struct {
	IDs     []int32
	Costs   []float32   // -log p of each id
	Weights [][]float32 // attention weights over the source, one row per id
}

// Cost returns the total negative log-likelihood of the sequence.
func (s Sequence) Cost() float32 {
	var sum float32
	for _, c := range s.Costs {
		sum += c
	}
	return sum
}

// Sequences splits a generate bundle per example. Each sequence ends
// after the first eos id; a negative eos keeps every step.
func Sequences[B tensor.Backend](g *seq2seq.Generated[B], eos int32) []Sequence {
	shape := g.Weights.Shape()
	steps, batch, srcLen := shape[0], shape[1], shape[2]
	outputs := g.Outputs.Data()
	costs := g.Costs.Data()
	weights := g.Weights.Data()

	seqs := make([]Sequence, batch)
	for b := range seqs {
		var s Sequence
		for t := 0; t < steps; t++ {
			id := outputs[t*batch+b]
			s.IDs = append(s.IDs, id)
			s.Costs = append(s.Costs, costs[t*batch+b])
			row := weights[(t*batch+b)*srcLen : (t*batch+b+1)*srcLen]
			s.Weights = append(s.Weights, append([]float32(nil), row...))
			if eos >= 0 && id == eos {
				break
			}
		}
		seqs[b] = s
	}
	return seqs
}

// Column names of a bundle file.
const (
	ColumnIDs     = "ids"
	ColumnCosts   = "costs"
	ColumnWeights = "weights"
	ColumnCost    = "cost"
)

// BundleSchema is the Arrow schema of an exported bundle: one row per
// example.
var BundleSchema = arrow.NewSchema([]arrow.Field{
	{Name: ColumnIDs, Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
	{Name: ColumnCosts, Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
	{Name: ColumnWeights, Type: arrow.ListOf(arrow.ListOf(arrow.PrimitiveTypes.Float32))},
	{Name: ColumnCost, Type: arrow.PrimitiveTypes.Float32},
}, nil)

// WriteBundle writes seqs to w as a single-batch Arrow IPC file.
func WriteBundle(w io.Writer, seqs []Sequence) error {
	mem := memory.NewGoAllocator()
	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(BundleSchema), ipc.WithAllocator(mem))
	if err != nil {
		return fmt.Errorf("generate: open bundle writer: %w", err)
	}

	builder := array.NewRecordBuilder(mem, BundleSchema)
	defer builder.Release()

	ids := builder.Field(0).(*array.ListBuilder)
	costs := builder.Field(1).(*array.ListBuilder)
	weights := builder.Field(2).(*array.ListBuilder)
	total := builder.Field(3).(*array.Float32Builder)
	for _, s := range seqs {
		ids.Append(true)
		ids.ValueBuilder().(*array.Int32Builder).AppendValues(s.IDs, nil)
		costs.Append(true)
		costs.ValueBuilder().(*array.Float32Builder).AppendValues(s.Costs, nil)
		weights.Append(true)
		rows := weights.ValueBuilder().(*array.ListBuilder)
		for _, row := range s.Weights {
			rows.Append(true)
			rows.ValueBuilder().(*array.Float32Builder).AppendValues(row, nil)
		}
		total.Append(s.Cost())
	}

	rec := builder.NewRecord()
	defer rec.Release()
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return fmt.Errorf("generate: write bundle: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("generate: close bundle writer: %w", err)
	}
	return nil
}

// ReadBundle reads a file written by WriteBundle.
func ReadBundle(r ipc.ReadAtSeeker) ([]Sequence, error) {
	fr, err := ipc.NewFileReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("generate: open bundle: %w", err)
	}
	defer fr.Close()

	if err := checkSchema(fr.Schema()); err != nil {
		return nil, err
	}

	var seqs []Sequence
	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.Record(i)
		if err != nil {
			return nil, fmt.Errorf("generate: read bundle batch %d: %w", i, err)
		}
		ids := rec.Column(0).(*array.List)
		costs := rec.Column(1).(*array.List)
		weights := rec.Column(2).(*array.List)
		for row := 0; row < int(rec.NumRows()); row++ {
			s := Sequence{
				IDs:   int32List(ids, row),
				Costs: float32List(costs, row),
			}
			rows := weights.ListValues().(*array.List)
			start, end := weights.ValueOffsets(row)
			for j := start; j < end; j++ {
				s.Weights = append(s.Weights, float32List(rows, int(j)))
			}
			seqs = append(seqs, s)
		}
	}
	return seqs, nil
}

func checkSchema(got *arrow.Schema) error {
	if got.NumFields() != BundleSchema.NumFields() {
		return fmt.Errorf("generate: bundle has %d columns, want %d", got.NumFields(), BundleSchema.NumFields())
	}
	for i, want := range BundleSchema.Fields() {
		f := got.Field(i)
		if f.Name != want.Name || !arrow.TypeEqual(f.Type, want.Type) {
			return fmt.Errorf("generate: bundle column %d is %s %s, want %s %s", i, f.Name, f.Type, want.Name, want.Type)
		}
	}
	return nil
}

func int32List(col *array.List, row int) []int32 {
	start, end := col.ValueOffsets(row)
	return append([]int32(nil), col.ListValues().(*array.Int32).Int32Values()[start:end]...)
}

func float32List(col *array.List, row int) []float32 {
	start, end := col.ValueOffsets(row)
	return append([]float32(nil), col.ListValues().(*array.Float32).Float32Values()[start:end]...)
}

// SaveBundle writes seqs to path with WriteBundle.
func SaveBundle(path string, seqs []Sequence) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	if err := WriteBundle(f, seqs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadBundle opens path and reads it with ReadBundle.
func LoadBundle(path string) ([]Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	defer f.Close()
	return ReadBundle(f)
}
