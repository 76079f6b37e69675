package ncf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"golang.org/x/sys/unix"
)

// File is an opened checkpoint. Tensor payloads are decoded on request; the
// raw bytes stay backed by the mmap (or the fallback read buffer) until
// Close.
type File struct {
	data    []byte
	hdr     header
	meta    []byte
	index   map[string]*entry
	order   []string
	mmapped bool
}

// Open maps and validates a checkpoint file. Prefers mmap for zero-copy
// payload access, falling back to a plain read where mmap is unsupported.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 < headerSize || size64 > int64(int(^uint(0)>>1)) {
		return nil, ErrCorrupt
	}
	size := int(size64)

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		nf, parseErr := parse(data, true)
		if parseErr != nil {
			_ = unix.Munmap(data)
			return nil, parseErr
		}
		return nf, nil
	}

	data = make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, size64), data); err != nil {
		return nil, err
	}
	return parse(data, false)
}

func parse(data []byte, mmapped bool) (*File, error) {
	if string(data[0:4]) != Magic {
		return nil, ErrBadMagic
	}
	var h header
	h.major = binary.LittleEndian.Uint16(data[4:])
	h.minor = binary.LittleEndian.Uint16(data[6:])
	h.tensorCount = binary.LittleEndian.Uint32(data[8:])
	h.metaOffset = binary.LittleEndian.Uint64(data[16:])
	h.metaSize = binary.LittleEndian.Uint64(data[24:])
	h.indexOffset = binary.LittleEndian.Uint64(data[32:])
	h.fileSize = binary.LittleEndian.Uint64(data[40:])

	if h.major != CurrentMajor {
		return nil, fmt.Errorf("%w: file major %d, reader major %d", ErrVersion, h.major, CurrentMajor)
	}
	if h.fileSize != uint64(len(data)) {
		return nil, fmt.Errorf("%w: header size %d, file size %d", ErrCorrupt, h.fileSize, len(data))
	}
	if h.metaOffset+h.metaSize > uint64(len(data)) || h.indexOffset > uint64(len(data)) {
		return nil, ErrCorrupt
	}

	nf := &File{
		data:    data,
		hdr:     h,
		meta:    data[h.metaOffset : h.metaOffset+h.metaSize],
		index:   make(map[string]*entry, h.tensorCount),
		mmapped: mmapped,
	}

	pos := int(h.indexOffset)
	for i := uint32(0); i < h.tensorCount; i++ {
		if pos+2 > len(data) {
			return nil, ErrCorrupt
		}
		nameLen := int(binary.LittleEndian.Uint16(data[pos:]))
		pos += 2
		if pos+nameLen+2 > len(data) {
			return nil, ErrCorrupt
		}
		name := string(data[pos : pos+nameLen])
		pos += nameLen
		dtype := DType(data[pos])
		rank := int(data[pos+1])
		pos += 2
		if pos+4*rank+16 > len(data) {
			return nil, ErrCorrupt
		}
		dims := make([]int, rank)
		for d := range dims {
			dims[d] = int(binary.LittleEndian.Uint32(data[pos:]))
			pos += 4
		}
		e := &entry{
			name:   name,
			dtype:  dtype,
			dims:   dims,
			offset: binary.LittleEndian.Uint64(data[pos:]),
			size:   binary.LittleEndian.Uint64(data[pos+8:]),
		}
		pos += 16
		if e.offset+e.size > uint64(len(data)) {
			return nil, fmt.Errorf("%w: tensor %q payload out of range", ErrCorrupt, name)
		}
		if e.dtype == DTypeF32 && e.size != uint64(e.elems())*4 {
			return nil, fmt.Errorf("%w: tensor %q size/shape mismatch", ErrCorrupt, name)
		}
		if _, dup := nf.index[name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicate, name)
		}
		nf.index[name] = e
		nf.order = append(nf.order, name)
	}
	return nf, nil
}

// Close releases the mmap backing, invalidating payload access.
func (f *File) Close() error {
	if f == nil || f.data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.data)
	}
	f.data = nil
	f.index = nil
	f.meta = nil
	return err
}

// Metadata returns the raw JSON metadata blob.
func (f *File) Metadata() []byte { return f.meta }

// Tensors lists tensor names in file order.
func (f *File) Tensors() []string {
	return append([]string(nil), f.order...)
}

// Dims returns the logical shape of a named tensor.
func (f *File) Dims(name string) ([]int, error) {
	e, ok := f.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return append([]int(nil), e.dims...), nil
}

// Float32 decodes a named tensor's payload into a fresh slice.
func (f *File) Float32(name string) ([]float32, error) {
	e, ok := f.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if e.dtype != DTypeF32 {
		return nil, fmt.Errorf("ncf: tensor %q has dtype %d, want f32", name, e.dtype)
	}
	raw := f.data[e.offset : e.offset+e.size]
	out := make([]float32, e.elems())
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}
