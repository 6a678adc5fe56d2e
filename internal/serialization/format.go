// Package serialization reads and writes parameter dumps in the .born
// container format:
//
//	[0x00-0x03: Magic "BORN"]
//	[0x04-0x07: Version (uint32 LE), always 2]
//	[0x08-0x0B: Flags (uint32 LE)]
//	[0x0C-0x0F: Reserved]
//	[0x10-0x17: Header size (uint64 LE)]
//	[0x18-0x1F: Data size (uint64 LE)]
//	[0x20-0x3F: SHA-256 of the data section]
//	[Header: JSON metadata]
//	[Tensor data: little-endian, 64-byte aligned]
//
// Tensors are stored in name order so the same state always produces the
// same bytes, apart from the creation time.
package serialization

import "time"

// Format constants.
const (
	MagicBytes      = "BORN"
	FormatVersion   = 2
	HeaderAlignment = 64
	FixedHeaderSize = 64
	ChecksumOffset  = 0x20
	ChecksumSize    = 32
)

// Flags for the .born format.
const (
	FlagHasMetadata uint32 = 1 << 2
)

// Header is the JSON header of a .born file.
type Header struct {
	FormatVersion int               `json:"format_version"`
	Producer      string            `json:"producer"`
	ModelType     string            `json:"model_type"`
	CreatedAt     time.Time         `json:"created_at"`
	Tensors       []TensorMeta      `json:"tensors"`
	Metadata      map[string]string `json:"metadata"`
}

// TensorMeta describes one tensor of the data section.
type TensorMeta struct {
	Name   string `json:"name"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"` // bytes from the start of the data section
	Size   int64  `json:"size"`
}

func alignedDataOffset(headerSize int64) int64 {
	pos := int64(FixedHeaderSize) + headerSize
	return pos + (HeaderAlignment-pos%HeaderAlignment)%HeaderAlignment
}
