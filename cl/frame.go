package cl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v3"
)

// frameType tags the payload of one on-wire PDU. Framing is this core's own
// convergence-layer envelope: a fixed 1-byte type plus a 4-byte big-endian
// length, mirroring the marker+length framing store.CheckedLog already uses
// for on-disk records — the same discipline applied to the wire instead of
// a file.
type frameType byte

const (
	frameHandshake frameType = iota
	frameBundle
	frameKeepalive
	frameAck
)

const frameHeaderLen = 1 + 4 // type + length

// encodeFrame prepends the type+length header to payload.
func encodeFrame(t frameType, payload []byte) []byte {
	out := make([]byte, frameHeaderLen+len(payload))
	out[0] = byte(t)
	binary.BigEndian.PutUint32(out[1:5], uint32(len(payload)))
	copy(out[5:], payload)
	return out
}

// extractFrame pulls one complete frame off the front of buf, reporting how
// many bytes to consume. ok is false when buf does not yet hold a full
// frame (more bytes must arrive before retrying) — the same streaming-parse
// discipline block Consume uses, applied here at the CL envelope layer.
func extractFrame(buf []byte) (t frameType, payload []byte, consumed int, ok bool) {
	if len(buf) < frameHeaderLen {
		return 0, nil, 0, false
	}
	t = frameType(buf[0])
	n := binary.BigEndian.Uint32(buf[1:5])
	total := frameHeaderLen + int(n)
	if len(buf) < total {
		return 0, nil, 0, false
	}
	return t, buf[frameHeaderLen:total], total, true
}

// compressPayload/decompressPayload implement optional LZ4 buffer
// compression: a bundle frame may carry its CBOR body LZ4-compressed when
// both sides negotiate it via the handshake's Compress flag.
func compressPayload(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(body); err != nil {
		return nil, fmt.Errorf("cl: lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("cl: lz4 compress: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressPayload(body []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(body))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("cl: lz4 decompress: %w", err)
	}
	return out, nil
}

var errShortFrame = errors.New("cl: short frame")
