// Package ncf implements the Neural Checkpoint Format: a flat container for
// the persisted state of a trained model. It stores a JSON metadata blob
// (model description, handle id, step counter) plus named, typed, flat
// tensors keyed by layer/level index, with a 64-byte aligned payload so
// readers can map tensors directly.
//
// Layout: fixed header, metadata blob, tensor index, aligned payload.
// All integers are little-endian.
package ncf

import "errors"

const (
	// Magic identifies an NCF file.
	Magic = "NCF\x00"

	// CurrentMajor changes only on breaking layout changes.
	CurrentMajor uint16 = 1
	// CurrentMinor tracks additive changes.
	CurrentMinor uint16 = 0

	headerSize = 48
	// payloadAlign keeps every tensor start 64-byte aligned.
	payloadAlign = 64
)

// DType identifies the element encoding of a stored tensor.
type DType uint8

const (
	// DTypeF32 is little-endian IEEE 754 single precision.
	DTypeF32 DType = 0
)

var (
	// ErrBadMagic is returned for files that are not NCF.
	ErrBadMagic = errors.New("ncf: bad magic")
	// ErrVersion is returned for files with an incompatible major version.
	ErrVersion = errors.New("ncf: incompatible version")
	// ErrCorrupt is returned when offsets or sizes do not line up.
	ErrCorrupt = errors.New("ncf: corrupt file")
	// ErrNotFound is returned when a named tensor is absent.
	ErrNotFound = errors.New("ncf: tensor not found")
	// ErrDuplicate is returned when a tensor name is added twice.
	ErrDuplicate = errors.New("ncf: duplicate tensor name")
)

// header mirrors the on-disk fixed header.
type header struct {
	major       uint16
	minor       uint16
	tensorCount uint32
	metaOffset  uint64
	metaSize    uint64
	indexOffset uint64
	fileSize    uint64
}

// entry is one tensor index record.
type entry struct {
	name   string
	dtype  DType
	dims   []int
	offset uint64 // payload byte offset from file start
	size   uint64 // payload bytes
}

func (e *entry) elems() int {
	n := 1
	for _, d := range e.dims {
		n *= d
	}
	return n
}

func align(off int) int {
	return (off + payloadAlign - 1) &^ (payloadAlign - 1)
}
