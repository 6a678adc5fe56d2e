package stream

import (
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Column names of a corpus file.
const (
	ColumnSource  = "source"
	ColumnTarget  = "target"
	ColumnEncoder = "encoder"
	ColumnDecoder = "decoder"
)

// CorpusSchema is the Arrow schema of a parallel corpus: one row per
// sentence pair, token ids as list<int32>.
var CorpusSchema = arrow.NewSchema([]arrow.Field{
	{Name: ColumnSource, Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
	{Name: ColumnTarget, Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
	{Name: ColumnEncoder, Type: arrow.PrimitiveTypes.Int32},
	{Name: ColumnDecoder, Type: arrow.PrimitiveTypes.Int32},
}, nil)

// corpusChunk is the number of pairs per Arrow record batch.
const corpusChunk = 4096

// WriteCorpus writes pairs to w as an Arrow IPC file.
func WriteCorpus(w io.Writer, pairs []Pair) error {
	mem := memory.NewGoAllocator()
	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(CorpusSchema), ipc.WithAllocator(mem))
	if err != nil {
		return fmt.Errorf("stream: open corpus writer: %w", err)
	}

	builder := array.NewRecordBuilder(mem, CorpusSchema)
	defer builder.Release()

	for start := 0; start < len(pairs); start += corpusChunk {
		end := min(start+corpusChunk, len(pairs))
		for _, p := range pairs[start:end] {
			appendIDs(builder.Field(0).(*array.ListBuilder), p.Source)
			appendIDs(builder.Field(1).(*array.ListBuilder), p.Target)
			builder.Field(2).(*array.Int32Builder).Append(int32(p.EncoderIndex))
			builder.Field(3).(*array.Int32Builder).Append(int32(p.DecoderIndex))
		}
		rec := builder.NewRecord()
		err := fw.Write(rec)
		rec.Release()
		if err != nil {
			fw.Close()
			return fmt.Errorf("stream: write corpus batch: %w", err)
		}
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("stream: close corpus writer: %w", err)
	}
	return nil
}

func appendIDs(lb *array.ListBuilder, ids []int32) {
	lb.Append(true)
	lb.ValueBuilder().(*array.Int32Builder).AppendValues(ids, nil)
}

// ReadCorpus reads every pair of an Arrow IPC corpus file.
func ReadCorpus(r ipc.ReadAtSeeker) ([]Pair, error) {
	fr, err := ipc.NewFileReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("stream: open corpus: %w", err)
	}
	defer fr.Close()

	if err := checkSchema(fr.Schema()); err != nil {
		return nil, err
	}

	var pairs []Pair
	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.Record(i)
		if err != nil {
			return nil, fmt.Errorf("stream: read corpus batch %d: %w", i, err)
		}
		src := rec.Column(0).(*array.List)
		trg := rec.Column(1).(*array.List)
		enc := rec.Column(2).(*array.Int32)
		dec := rec.Column(3).(*array.Int32)
		for row := 0; row < int(rec.NumRows()); row++ {
			pairs = append(pairs, Pair{
				Source:       listIDs(src, row),
				Target:       listIDs(trg, row),
				EncoderIndex: int(enc.Value(row)),
				DecoderIndex: int(dec.Value(row)),
			})
		}
	}
	return pairs, nil
}

func checkSchema(got *arrow.Schema) error {
	if got.NumFields() != CorpusSchema.NumFields() {
		return fmt.Errorf("stream: corpus has %d columns, want %d", got.NumFields(), CorpusSchema.NumFields())
	}
	for i, want := range CorpusSchema.Fields() {
		f := got.Field(i)
		if f.Name != want.Name || !arrow.TypeEqual(f.Type, want.Type) {
			return fmt.Errorf("stream: corpus column %d is %s %s, want %s %s", i, f.Name, f.Type, want.Name, want.Type)
		}
	}
	return nil
}

// listIDs copies row of a list<int32> column out of Arrow memory.
func listIDs(col *array.List, row int) []int32 {
	start, end := col.ValueOffsets(row)
	values := col.ListValues().(*array.Int32).Int32Values()
	return append([]int32(nil), values[start:end]...)
}

// LoadCorpus opens path and reads it with ReadCorpus.
func LoadCorpus(path string) ([]Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	defer f.Close()
	return ReadCorpus(f)
}

// SaveCorpus writes pairs to path with WriteCorpus.
func SaveCorpus(path string, pairs []Pair) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	if err := WriteCorpus(f, pairs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
