package ncf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// Writer accumulates metadata and tensors, then serializes them in one pass.
type Writer struct {
	meta    []byte
	tensors []writerTensor
	names   map[string]bool
}

type writerTensor struct {
	entry
	data []float32
}

// NewWriter creates an empty writer.
func NewWriter() *Writer {
	return &Writer{names: map[string]bool{}}
}

// SetMetadata attaches the JSON metadata blob.
func (w *Writer) SetMetadata(meta []byte) {
	w.meta = meta
}

// AddFloat32 registers a named flat tensor. dims describe the logical shape;
// their product must match len(data). The slice is referenced, not copied;
// callers must not mutate it before WriteFile returns.
func (w *Writer) AddFloat32(name string, dims []int, data []float32) error {
	if name == "" || len(name) > 0xFFFF {
		return fmt.Errorf("ncf: invalid tensor name %q", name)
	}
	if w.names[name] {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	n := 1
	for _, d := range dims {
		if d < 0 {
			return fmt.Errorf("ncf: negative dimension in %q", name)
		}
		n *= d
	}
	if n != len(data) {
		return fmt.Errorf("ncf: %q dims %v imply %d elements, data has %d", name, dims, n, len(data))
	}
	w.names[name] = true
	w.tensors = append(w.tensors, writerTensor{
		entry: entry{
			name:  name,
			dtype: DTypeF32,
			dims:  append([]int(nil), dims...),
			size:  uint64(len(data)) * 4,
		},
		data: data,
	})
	return nil
}

// WriteFile lays out and writes the container atomically via a temp file
// rename.
func (w *Writer) WriteFile(path string) error {
	metaOffset := headerSize
	indexOffset := metaOffset + len(w.meta)

	indexSize := 0
	for i := range w.tensors {
		t := &w.tensors[i]
		indexSize += 2 + len(t.name) + 1 + 1 + 4*len(t.dims) + 8 + 8
	}

	off := align(indexOffset + indexSize)
	for i := range w.tensors {
		t := &w.tensors[i]
		t.offset = uint64(off)
		off = align(off + int(t.size))
	}
	fileSize := off

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}()

	bw := bufio.NewWriterSize(f, 1<<20)

	var hdr [headerSize]byte
	copy(hdr[0:4], Magic)
	binary.LittleEndian.PutUint16(hdr[4:], CurrentMajor)
	binary.LittleEndian.PutUint16(hdr[6:], CurrentMinor)
	binary.LittleEndian.PutUint32(hdr[8:], uint32(len(w.tensors)))
	binary.LittleEndian.PutUint64(hdr[16:], uint64(metaOffset))
	binary.LittleEndian.PutUint64(hdr[24:], uint64(len(w.meta)))
	binary.LittleEndian.PutUint64(hdr[32:], uint64(indexOffset))
	binary.LittleEndian.PutUint64(hdr[40:], uint64(fileSize))
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := bw.Write(w.meta); err != nil {
		return err
	}

	var scratch [8]byte
	pos := indexOffset
	for i := range w.tensors {
		t := &w.tensors[i]
		binary.LittleEndian.PutUint16(scratch[:2], uint16(len(t.name)))
		if _, err := bw.Write(scratch[:2]); err != nil {
			return err
		}
		if _, err := bw.WriteString(t.name); err != nil {
			return err
		}
		if err := bw.WriteByte(byte(t.dtype)); err != nil {
			return err
		}
		if err := bw.WriteByte(byte(len(t.dims))); err != nil {
			return err
		}
		for _, d := range t.dims {
			binary.LittleEndian.PutUint32(scratch[:4], uint32(d))
			if _, err := bw.Write(scratch[:4]); err != nil {
				return err
			}
		}
		binary.LittleEndian.PutUint64(scratch[:], t.offset)
		if _, err := bw.Write(scratch[:]); err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(scratch[:], t.size)
		if _, err := bw.Write(scratch[:]); err != nil {
			return err
		}
		pos += 2 + len(t.name) + 2 + 4*len(t.dims) + 16
	}

	// Pad to the first tensor offset, then stream payloads with alignment
	// padding between them.
	if err := pad(bw, align(pos)-pos); err != nil {
		return err
	}
	pos = align(pos)
	for i := range w.tensors {
		t := &w.tensors[i]
		if uint64(pos) != t.offset {
			if err := pad(bw, int(t.offset)-pos); err != nil {
				return err
			}
			pos = int(t.offset)
		}
		for _, v := range t.data {
			binary.LittleEndian.PutUint32(scratch[:4], math.Float32bits(v))
			if _, err := bw.Write(scratch[:4]); err != nil {
				return err
			}
		}
		pos += int(t.size)
	}
	if err := pad(bw, fileSize-pos); err != nil {
		return err
	}

	if err := bw.Flush(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

var zeros [payloadAlign]byte

func pad(bw *bufio.Writer, n int) error {
	for n > 0 {
		c := n
		if c > len(zeros) {
			c = len(zeros)
		}
		if _, err := bw.Write(zeros[:c]); err != nil {
			return err
		}
		n -= c
	}
	return nil
}
