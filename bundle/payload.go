package bundle

import (
	"bytes"
	"io"

	"github.com/dtnx/bpd/store"
)

// Payload is an opaque reference to a bundle's payload bytes. Variants:
// in-memory (a growable buffer), on-disk (a store.FileObject plus offset),
// and none (for simulated/admin bundles with no payload of their own).
type Payload interface {
	Len() int64
	SetLen(int64) error
	ReadAt(offset int64, n int) ([]byte, error)
	WriteAt(offset int64, data []byte) (int, error)
	Append(data []byte) error
	Truncate(size int64) error
	ReplaceWithFile(path string) error
}

// MemPayload is an in-memory growable-buffer payload, used for small
// admin-record bundles generated locally (status reports, custody
// signals, IMC petitions and briefings).
type MemPayload struct {
	buf bytes.Buffer
}

func NewMemPayload(initial []byte) *MemPayload {
	p := &MemPayload{}
	p.buf.Write(initial)
	return p
}

func (p *MemPayload) Len() int64 { return int64(p.buf.Len()) }

func (p *MemPayload) SetLen(n int64) error {
	cur := int64(p.buf.Len())
	switch {
	case n == cur:
		return nil
	case n < cur:
		b := p.buf.Bytes()[:n]
		p.buf.Reset()
		p.buf.Write(b)
	default:
		p.buf.Write(make([]byte, n-cur))
	}
	return nil
}

func (p *MemPayload) ReadAt(offset int64, n int) ([]byte, error) {
	b := p.buf.Bytes()
	if offset >= int64(len(b)) {
		return nil, nil
	}
	end := offset + int64(n)
	if end > int64(len(b)) {
		end = int64(len(b))
	}
	return b[offset:end], nil
}

func (p *MemPayload) WriteAt(offset int64, data []byte) (int, error) {
	if err := p.SetLen(offset + int64(len(data))); err != nil {
		return 0, err
	}
	b := p.buf.Bytes()
	return copy(b[offset:], data), nil
}

func (p *MemPayload) Append(data []byte) error {
	p.buf.Write(data)
	return nil
}

func (p *MemPayload) Truncate(size int64) error { return p.SetLen(size) }

func (p *MemPayload) ReplaceWithFile(path string) error {
	return io.EOF // not supported for in-memory payloads; admin bundles never take this path
}

// FilePayload is an on-disk payload backed by a durable store.FileObject
// (C1), used for ordinary received and locally injected bundles.
type FilePayload struct {
	fo *store.FileObject
}

func NewFilePayload(fo *store.FileObject) *FilePayload { return &FilePayload{fo: fo} }

func (p *FilePayload) Len() int64 {
	n, err := p.fo.Size()
	if err != nil {
		return 0
	}
	return n
}

func (p *FilePayload) SetLen(n int64) error { return p.fo.Truncate(n) }

func (p *FilePayload) ReadAt(offset int64, n int) ([]byte, error) {
	return p.fo.ReadBytes(offset, n)
}

func (p *FilePayload) WriteAt(offset int64, data []byte) (int, error) {
	return p.fo.WriteBytes(offset, data)
}

func (p *FilePayload) Append(data []byte) error {
	_, err := p.fo.AppendBytes(data)
	return err
}

func (p *FilePayload) Truncate(size int64) error { return p.fo.Truncate(size) }

func (p *FilePayload) ReplaceWithFile(path string) error { return p.fo.ReplaceWithFile(path) }

// NilPayload is used for simulated bundles carrying no real payload.
type NilPayload struct{}

func (NilPayload) Len() int64                                { return 0 }
func (NilPayload) SetLen(int64) error                        { return nil }
func (NilPayload) ReadAt(int64, int) ([]byte, error)          { return nil, nil }
func (NilPayload) WriteAt(int64, []byte) (int, error)         { return 0, nil }
func (NilPayload) Append([]byte) error                        { return nil }
func (NilPayload) Truncate(int64) error                       { return nil }
func (NilPayload) ReplaceWithFile(string) error                { return nil }
