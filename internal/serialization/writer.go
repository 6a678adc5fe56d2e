package serialization

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/born-ml/rnnsearch/internal/tensor"
)

// Write encodes state to w. Header fields other than Producer, ModelType
// and Metadata are filled in by Write.
func Write(w io.Writer, state map[string]*tensor.RawTensor, header Header) error {
	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)

	var data bytes.Buffer
	header.FormatVersion = FormatVersion
	if header.CreatedAt.IsZero() {
		header.CreatedAt = time.Now().UTC()
	}
	header.Tensors = make([]TensorMeta, 0, len(names))
	for _, name := range names {
		raw := state[name]
		if raw == nil {
			return fmt.Errorf("serialization: tensor %q is nil", name)
		}
		offset := int64(data.Len())
		if err := appendTensor(&data, raw); err != nil {
			return fmt.Errorf("serialization: tensor %q: %w", name, err)
		}
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   name,
			DType:  raw.DType().String(),
			Shape:  append([]int(nil), raw.Shape()...),
			Offset: offset,
			Size:   int64(data.Len()) - offset,
		})
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("serialization: failed to marshal header: %w", err)
	}

	var fixed [FixedHeaderSize]byte
	copy(fixed[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixed[4:8], FormatVersion)
	var flags uint32
	if len(header.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	binary.LittleEndian.PutUint32(fixed[8:12], flags)
	binary.LittleEndian.PutUint64(fixed[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixed[24:32], uint64(data.Len()))
	sum := sha256.Sum256(data.Bytes())
	copy(fixed[ChecksumOffset:ChecksumOffset+ChecksumSize], sum[:])

	padding := alignedDataOffset(int64(len(headerJSON))) - FixedHeaderSize - int64(len(headerJSON))
	for _, chunk := range [][]byte{fixed[:], headerJSON, make([]byte, padding), data.Bytes()} {
		if _, err := w.Write(chunk); err != nil {
			return fmt.Errorf("serialization: write failed: %w", err)
		}
	}
	return nil
}

// WriteFile writes state to path through a temporary file in the same
// directory, so a crash never leaves a half-written dump behind.
func WriteFile(path string, state map[string]*tensor.RawTensor, header Header) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("serialization: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = Write(tmp, state, header); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("serialization: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("serialization: %w", err)
	}
	return nil
}

func appendTensor(buf *bytes.Buffer, raw *tensor.RawTensor) error {
	var word [4]byte
	switch raw.DType() {
	case tensor.Float32:
		for _, v := range raw.AsFloat32() {
			binary.LittleEndian.PutUint32(word[:], math.Float32bits(v))
			buf.Write(word[:])
		}
	case tensor.Int32:
		for _, v := range raw.AsInt32() {
			binary.LittleEndian.PutUint32(word[:], uint32(v))
			buf.Write(word[:])
		}
	default:
		return fmt.Errorf("unsupported dtype %s", raw.DType())
	}
	return nil
}
