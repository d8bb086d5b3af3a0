package bp

import (
	"fmt"
	"hash/crc32"
	"time"

	"github.com/dtnx/bpd/bundle"
	"github.com/dtnx/bpd/eid"
)

// ProtocolError wraps a decode failure that must drop the containing bundle
// with reason parse-failure (§4.4) rather than retry.
type ProtocolError struct {
	Stage string
	Err   error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("bp: %s: %v", e.Stage, e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }

// EncodeBundleBPv7 serializes b as a CBOR outer array of blocks: the
// primary block, zero or more extension blocks, then the payload block
// flagged last (§6).
func EncodeBundleBPv7(b *bundle.Bundle) []byte {
	w := NewCBORWriter()
	w.ArrayHeader(1 + len(b.Blocks))
	encodePrimaryBPv7(w, b)
	for i, blk := range b.Blocks {
		last := i == len(b.Blocks)-1
		w.ArrayHeader(4)
		w.Uint(blk.Type)
		w.Uint(uint64(blockFlags(blk.Flags, last)))
		w.ByteString(blk.Body)
		var crc [4]byte
		crcOf(blk.Body, crc[:])
		w.ByteString(crc[:])
	}
	return w.Bytes()
}

func blockFlags(f uint32, last bool) uint32 {
	if last {
		return f | blockFlagLast
	}
	return f &^ blockFlagLast
}

const blockFlagLast uint32 = 1 << 0

func crcOf(data []byte, out []byte) {
	c := crc32.ChecksumIEEE(data)
	out[0] = byte(c >> 24)
	out[1] = byte(c >> 16)
	out[2] = byte(c >> 8)
	out[3] = byte(c)
}

func encodePrimaryBPv7(w *CBORWriter, b *bundle.Bundle) {
	hasFrag := b.Flags.IsSet(bundle.FlagIsFragment)
	n := 8
	if hasFrag {
		n = 10
	}
	w.ArrayHeader(n)
	w.Uint(7)
	w.Uint(uint64(b.Flags))
	w.Uint(2) // CRC type: CRC-32 (this spec's convention; 0 = none, 2 = CRC-32)
	encodeEID(w, b.Destination)
	encodeEID(w, b.Source)
	encodeEID(w, b.ReportTo)
	w.ArrayHeader(2)
	w.Uint(b.Created.Time)
	w.Uint(b.Created.SeqNo)
	w.Uint(uint64(b.Lifetime / time.Second))
	if hasFrag {
		w.Uint(b.FragOffset)
		w.Uint(b.FragTotalLen)
	}
}

// encodeEID writes e's URI form; an unset EID is written as dtn:none.
func encodeEID(w *CBORWriter, e eid.EID) {
	if e.Raw == "" {
		e = eid.None
	}
	w.TextString(e.Raw)
}

// DecodeBundleBPv7 parses a CBOR-encoded outer array of blocks into a fresh
// Bundle. Any field-level violation is a *ProtocolError; per §4.4 the
// caller drops the bundle with reason parse-failure.
func DecodeBundleBPv7(buf []byte) (*bundle.Bundle, error) {
	r := NewCBORReader(buf)
	n, err := r.ArrayHeader("outer", 2, -1)
	if err != nil {
		return nil, &ProtocolError{"outer-array", err}
	}

	b := bundle.New(0)
	if err := decodePrimaryBPv7(r, b); err != nil {
		return nil, &ProtocolError{"primary-block", err}
	}

	for i := 1; i < n; i++ {
		if err := decodeExtensionBPv7(r, b, i == n-1); err != nil {
			return nil, &ProtocolError{"extension-block", err}
		}
	}
	if last := len(b.Blocks) - 1; last >= 0 && b.Blocks[last].Type == TypePayload {
		b.Payload = bundle.NewMemPayload(b.Blocks[last].Body)
	}
	return b, nil
}

func decodePrimaryBPv7(r *CBORReader, b *bundle.Bundle) error {
	n, err := r.ArrayHeader("primary", 8, 10)
	if err != nil {
		return err
	}
	version, err := r.Uint("version")
	if err != nil {
		return err
	}
	if version != 7 {
		return fmt.Errorf("unsupported bundle version %d", version)
	}
	b.Version = 7

	flags, err := r.Uint("flags")
	if err != nil {
		return err
	}
	b.Flags = bundle.Flag(flags)

	if _, err := r.Uint("crc_type"); err != nil {
		return err
	}

	if b.Destination, err = decodeEID(r, "destination"); err != nil {
		return err
	}
	if b.Source, err = decodeEID(r, "source"); err != nil {
		return err
	}
	if b.ReportTo, err = decodeEID(r, "report_to"); err != nil {
		return err
	}

	if _, err := r.ArrayHeader("creation_timestamp", 2, 2); err != nil {
		return err
	}
	if b.Created.Time, err = r.Uint("creation_time"); err != nil {
		return err
	}
	if b.Created.SeqNo, err = r.Uint("creation_seqno"); err != nil {
		return err
	}

	lifetime, err := r.Uint("lifetime")
	if err != nil {
		return err
	}
	b.Lifetime = time.Duration(lifetime) * time.Second

	if n == 10 {
		b.Flags |= bundle.FlagIsFragment
		if b.FragOffset, err = r.Uint("fragment_offset"); err != nil {
			return err
		}
		if b.FragTotalLen, err = r.Uint("total_application_data_length"); err != nil {
			return err
		}
	}
	return nil
}

func decodeEID(r *CBORReader, field string) (eid.EID, error) {
	s, err := r.TextString(field)
	if err != nil {
		return eid.EID{}, err
	}
	e, err := eid.Parse(s)
	if err != nil {
		return eid.EID{}, fmt.Errorf("%s: %w", field, err)
	}
	return e, nil
}

func decodeExtensionBPv7(r *CBORReader, b *bundle.Bundle, last bool) error {
	if _, err := r.ArrayHeader("block", 4, 4); err != nil {
		return err
	}
	typ, err := r.Uint("block_type")
	if err != nil {
		return err
	}
	flags, err := r.Uint("block_flags")
	if err != nil {
		return err
	}
	body, err := r.ByteString("block_body")
	if err != nil {
		return err
	}
	wantCRC, err := r.ByteString("block_crc")
	if err != nil {
		return err
	}
	var gotCRC [4]byte
	crcOf(body, gotCRC[:])
	if string(gotCRC[:]) != string(wantCRC) {
		return fmt.Errorf("block type %d: crc mismatch", typ)
	}
	if last && flags&uint64(blockFlagLast) == 0 {
		return fmt.Errorf("block type %d: missing last-block flag on final block", typ)
	}
	b.Blocks = append(b.Blocks, bundle.Block{
		Type:  typ,
		Flags: uint32(flags),
		Body:  append([]byte(nil), body...),
	})
	return nil
}

//
// BPv6 (SDNV-framed) primary block, for backwards compatibility (§6).
//

// EncodeBundleBPv6 serializes b's primary block and payload using SDNV
// length prefixes rather than CBOR. Extension blocks beyond the payload are
// not carried in this compact form, matching the original BPv6 wire
// profile this spec names for interoperability only.
func EncodeBundleBPv6(b *bundle.Bundle) []byte {
	var out []byte
	out = append(out, 0x06) // version byte
	out = SDNVEncode(out, uint64(b.Flags))
	out = encodeEIDBPv6(out, b.Destination)
	out = encodeEIDBPv6(out, b.Source)
	out = encodeEIDBPv6(out, b.ReportTo)
	out = SDNVEncode(out, b.Created.Time)
	out = SDNVEncode(out, b.Created.SeqNo)
	out = SDNVEncode(out, uint64(b.Lifetime/time.Second))
	if b.Flags.IsSet(bundle.FlagIsFragment) {
		out = SDNVEncode(out, b.FragOffset)
		out = SDNVEncode(out, b.FragTotalLen)
	}

	var payload []byte
	if len(b.Blocks) > 0 {
		payload = b.Blocks[len(b.Blocks)-1].Body
	}
	out = SDNVEncode(out, uint64(len(payload)))
	out = append(out, payload...)
	return out
}

func encodeEIDBPv6(dst []byte, e eid.EID) []byte {
	dst = SDNVEncode(dst, uint64(len(e.Raw)))
	return append(dst, e.Raw...)
}

// DecodeBundleBPv6 parses a BPv6 SDNV-framed primary block plus a single
// payload block body.
func DecodeBundleBPv6(buf []byte) (*bundle.Bundle, error) {
	if len(buf) < 1 {
		return nil, &ProtocolError{"version-byte", ErrTruncated}
	}
	if buf[0] != 0x06 {
		return nil, &ProtocolError{"version-byte", fmt.Errorf("unsupported bundle version byte 0x%02x", buf[0])}
	}
	pos := 1
	b := bundle.New(0)
	b.Version = 6

	flags, n, err := SDNVDecode(buf[pos:])
	if err != nil {
		return nil, &ProtocolError{"flags", err}
	}
	pos += n
	b.Flags = bundle.Flag(flags)

	for _, dst := range []*eid.EID{&b.Destination, &b.Source, &b.ReportTo} {
		e, consumed, err := decodeEIDBPv6(buf[pos:])
		if err != nil {
			return nil, &ProtocolError{"eid", err}
		}
		*dst = e
		pos += consumed
	}

	creationTime, n, err := SDNVDecode(buf[pos:])
	if err != nil {
		return nil, &ProtocolError{"creation_time", err}
	}
	pos += n
	seqNo, n, err := SDNVDecode(buf[pos:])
	if err != nil {
		return nil, &ProtocolError{"creation_seqno", err}
	}
	pos += n
	b.Created = bundle.Creation{Time: creationTime, SeqNo: seqNo}

	lifetime, n, err := SDNVDecode(buf[pos:])
	if err != nil {
		return nil, &ProtocolError{"lifetime", err}
	}
	pos += n
	b.Lifetime = time.Duration(lifetime) * time.Second

	if b.Flags.IsSet(bundle.FlagIsFragment) {
		off, n, err := SDNVDecode(buf[pos:])
		if err != nil {
			return nil, &ProtocolError{"fragment_offset", err}
		}
		pos += n
		total, n, err := SDNVDecode(buf[pos:])
		if err != nil {
			return nil, &ProtocolError{"total_adu_length", err}
		}
		pos += n
		b.FragOffset, b.FragTotalLen = off, total
	}

	plen, n, err := SDNVDecode(buf[pos:])
	if err != nil {
		return nil, &ProtocolError{"payload_length", err}
	}
	pos += n
	if uint64(len(buf)-pos) < plen {
		return nil, &ProtocolError{"payload_body", ErrTruncated}
	}
	payload := append([]byte(nil), buf[pos:pos+int(plen)]...)
	b.Blocks = append(b.Blocks, bundle.Block{Type: TypePayload, Flags: uint32(blockFlagLast), Body: payload})
	return b, nil
}

func decodeEIDBPv6(buf []byte) (eid.EID, int, error) {
	l, n, err := SDNVDecode(buf)
	if err != nil {
		return eid.EID{}, 0, err
	}
	if uint64(len(buf)-n) < l {
		return eid.EID{}, 0, ErrTruncated
	}
	s := string(buf[n : n+int(l)])
	e, err := eid.Parse(s)
	if err != nil {
		return eid.EID{}, 0, err
	}
	return e, n + int(l), nil
}
