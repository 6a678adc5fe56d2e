package serialization

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/born-ml/rnnsearch/internal/tensor"
)

// ReadFile reads and validates a .born file.
func ReadFile(path string) (Header, map[string]*tensor.RawTensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("serialization: %w", err)
	}
	return Read(data)
}

// Read decodes a complete .born file held in memory. The data section
// checksum and every tensor offset are verified before any tensor is
// built.
func Read(data []byte) (Header, map[string]*tensor.RawTensor, error) {
	var header Header
	if len(data) < FixedHeaderSize {
		return header, nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	if string(data[0:4]) != MagicBytes {
		return header, nil, fmt.Errorf("%w: got %q", ErrInvalidMagic, data[0:4])
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != FormatVersion {
		return header, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	headerSize := binary.LittleEndian.Uint64(data[16:24])
	dataSize := binary.LittleEndian.Uint64(data[24:32])
	if headerSize > MaxHeaderSize {
		return header, nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerSize)
	}

	dataStart := uint64(alignedDataOffset(int64(headerSize)))
	if dataStart+dataSize > uint64(len(data)) {
		return header, nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, dataStart+dataSize, len(data))
	}
	if err := json.Unmarshal(data[FixedHeaderSize:FixedHeaderSize+headerSize], &header); err != nil {
		return header, nil, fmt.Errorf("serialization: failed to parse header: %w", err)
	}

	section := data[dataStart : dataStart+dataSize]
	sum := sha256.Sum256(section)
	if !bytes.Equal(sum[:], data[ChecksumOffset:ChecksumOffset+ChecksumSize]) {
		return header, nil, ErrChecksumMismatch
	}
	if err := ValidateHeader(&header, int64(dataSize)); err != nil {
		return header, nil, err
	}

	state := make(map[string]*tensor.RawTensor, len(header.Tensors))
	for _, meta := range header.Tensors {
		raw, err := decodeTensor(meta, section[meta.Offset:meta.Offset+meta.Size])
		if err != nil {
			return header, nil, fmt.Errorf("serialization: tensor %q: %w", meta.Name, err)
		}
		state[meta.Name] = raw
	}
	return header, state, nil
}

func decodeTensor(meta TensorMeta, b []byte) (*tensor.RawTensor, error) {
	dtype, _ := tensor.ParseDataType(meta.DType)
	raw, err := tensor.NewRaw(tensor.Shape(meta.Shape), dtype, tensor.CPU)
	if err != nil {
		return nil, err
	}
	switch dtype {
	case tensor.Float32:
		out := raw.AsFloat32()
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
		}
	case tensor.Int32:
		out := raw.AsInt32()
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(b[4*i:]))
		}
	}
	return raw, nil
}
