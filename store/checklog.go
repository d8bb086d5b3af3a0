package store

import (
	"encoding/binary"
	"hash/crc32"
	"io"
)

// Record markers for the append-only CRC-checked log (§4.1, §6):
// live records use markerLive; a record can be soft-deleted in place by
// rewriting its marker to markerIgnore without touching length or data.
const (
	markerLive   byte = '*'
	markerIgnore byte = '!'
)

const recordHeaderLen = 1 + 4 + 4 // marker + crc32 + length

// ReadStatus is the outcome of reading one CheckedLog record.
type ReadStatus int

const (
	StatusOK ReadStatus = iota
	StatusEnd
	StatusBadCRC
	StatusIgnore
)

// CheckedLogWriter appends length-and-CRC-framed records to an open file,
// grounded on oasys's CheckedLogWriter::write_record.
type CheckedLogWriter struct {
	w io.Writer
}

func NewCheckedLogWriter(w io.Writer) *CheckedLogWriter {
	return &CheckedLogWriter{w: w}
}

// WriteRecord appends data framed as marker || crc32(length||data) || length || data.
func (cw *CheckedLogWriter) WriteRecord(data []byte) error {
	return cw.writeRecord(markerLive, data)
}

// WriteIgnoredRecord appends a structurally valid record flagged to be
// skipped by readers — used to soft-delete without rewriting the file.
func (cw *CheckedLogWriter) WriteIgnoredRecord(data []byte) error {
	return cw.writeRecord(markerIgnore, data)
}

func (cw *CheckedLogWriter) writeRecord(marker byte, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))

	crc := crc32.NewIEEE()
	crc.Write(lenBuf[:])
	crc.Write(data)

	var hdr [recordHeaderLen]byte
	hdr[0] = marker
	binary.BigEndian.PutUint32(hdr[1:5], crc.Sum32())
	copy(hdr[5:9], lenBuf[:])

	if _, err := cw.w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := cw.w.Write(data)
	return err
}

// CheckedLogReader sequentially decodes CheckedLog records from a
// ReaderAt, grounded on oasys's CheckedLogReader::read_record.
type CheckedLogReader struct {
	r      io.ReaderAt
	size   int64
	offset int64
}

func NewCheckedLogReader(r io.ReaderAt, size int64) *CheckedLogReader {
	return &CheckedLogReader{r: r, size: size}
}

// ReadRecord decodes the next record. A truncated final record or a CRC
// mismatch is reported as StatusBadCRC, never silently accepted; a
// structurally valid record written with the ignore marker is reported as
// StatusIgnore, distinct from StatusOK.
func (cr *CheckedLogReader) ReadRecord() (data []byte, status ReadStatus) {
	if cr.offset == cr.size {
		return nil, StatusEnd
	}

	hdr := make([]byte, recordHeaderLen)
	n, err := cr.r.ReadAt(hdr, cr.offset)
	if err != nil && err != io.EOF {
		return nil, StatusBadCRC
	}
	if n != recordHeaderLen {
		return nil, StatusBadCRC
	}

	marker := hdr[0]
	wantCRC := binary.BigEndian.Uint32(hdr[1:5])
	length := int64(binary.BigEndian.Uint32(hdr[5:9]))

	dataOff := cr.offset + recordHeaderLen
	if length > cr.size-dataOff {
		return nil, StatusBadCRC
	}

	data = make([]byte, length)
	if length > 0 {
		n, err = cr.r.ReadAt(data, dataOff)
		if (err != nil && err != io.EOF) || int64(n) != length {
			return nil, StatusBadCRC
		}
	}

	crc := crc32.NewIEEE()
	crc.Write(hdr[5:9])
	crc.Write(data)
	if crc.Sum32() != wantCRC {
		return nil, StatusBadCRC
	}

	cr.offset = dataOff + length
	if marker == markerIgnore {
		return data, StatusIgnore
	}
	return data, StatusOK
}
