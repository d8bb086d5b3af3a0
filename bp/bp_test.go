package bp_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/dtnx/bpd/bp"
	"github.com/dtnx/bpd/bundle"
	"github.com/dtnx/bpd/eid"
)

func TestSDNVRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 16383, 16384, 1 << 40, ^uint64(0) >> 1} {
		enc := bp.SDNVEncode(nil, v)
		if len(enc) != bp.SDNVLen(v) {
			t.Errorf("SDNVLen(%d) = %d, encoded length = %d", v, bp.SDNVLen(v), len(enc))
		}
		got, n, err := bp.SDNVDecode(enc)
		if err != nil {
			t.Fatalf("SDNVDecode(%d): %v", v, err)
		}
		if got != v || n != len(enc) {
			t.Errorf("SDNVDecode roundtrip: got (%d,%d), want (%d,%d)", got, n, v, len(enc))
		}
	}
}

func TestSDNVTruncated(t *testing.T) {
	enc := bp.SDNVEncode(nil, 16384) // multi-byte
	_, _, err := bp.SDNVDecode(enc[:len(enc)-1])
	if err != bp.ErrTruncated {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}

func TestCBORUintRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 23, 24, 255, 256, 65535, 65536, 1 << 40} {
		w := bp.NewCBORWriter()
		w.Uint(v)
		r := bp.NewCBORReader(w.Bytes())
		got, err := r.Uint("v")
		if err != nil {
			t.Fatalf("Uint(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("Uint roundtrip: got %d, want %d", got, v)
		}
	}
}

func TestCBORStringsAndArray(t *testing.T) {
	w := bp.NewCBORWriter()
	w.ArrayHeader(2)
	w.ByteString([]byte("hello"))
	w.TextString("world")

	r := bp.NewCBORReader(w.Bytes())
	n, err := r.ArrayHeader("arr", 2, 2)
	if err != nil || n != 2 {
		t.Fatalf("ArrayHeader: n=%d err=%v", n, err)
	}
	bs, err := r.ByteString("bs")
	if err != nil || !bytes.Equal(bs, []byte("hello")) {
		t.Fatalf("ByteString: %q err=%v", bs, err)
	}
	ts, err := r.TextString("ts")
	if err != nil || ts != "world" {
		t.Fatalf("TextString: %q err=%v", ts, err)
	}
}

func TestCBORArrayBoundsEnforced(t *testing.T) {
	w := bp.NewCBORWriter()
	w.ArrayHeader(5)
	r := bp.NewCBORReader(w.Bytes())
	if _, err := r.ArrayHeader("arr", 2, 4); err == nil {
		t.Error("expected array-length bound violation to error")
	}
}

func sampleBundle() *bundle.Bundle {
	b := bundle.New(1)
	b.Version = 7
	b.Source = eid.IPN(7, 0)
	b.Destination = eid.IPN(20, 1)
	b.ReportTo = eid.None
	b.Created = bundle.Creation{Time: 1000, SeqNo: 0}
	b.Lifetime = time.Hour
	b.Blocks = []bundle.Block{{Type: bp.TypePayload, Flags: 1, Body: []byte("payload data")}}
	return b
}

func TestBPv7RoundTrip(t *testing.T) {
	b := sampleBundle()
	wire := bp.EncodeBundleBPv7(b)
	got, err := bp.DecodeBundleBPv7(wire)
	if err != nil {
		t.Fatalf("DecodeBundleBPv7: %v", err)
	}
	if got.Version != 7 || !got.Source.Equal(b.Source) || !got.Destination.Equal(b.Destination) {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if got.Created != b.Created || got.Lifetime != b.Lifetime {
		t.Fatalf("roundtrip timestamp mismatch: %+v", got)
	}
	if len(got.Blocks) != 1 || !bytes.Equal(got.Blocks[0].Body, b.Blocks[0].Body) {
		t.Fatalf("roundtrip payload mismatch: %+v", got.Blocks)
	}
}

func TestBPv7FragmentRoundTrip(t *testing.T) {
	b := sampleBundle()
	b.Flags |= bundle.FlagIsFragment
	b.FragOffset, b.FragTotalLen = 600, 1000
	wire := bp.EncodeBundleBPv7(b)
	got, err := bp.DecodeBundleBPv7(wire)
	if err != nil {
		t.Fatalf("DecodeBundleBPv7: %v", err)
	}
	if got.FragOffset != 600 || got.FragTotalLen != 1000 {
		t.Fatalf("fragment fields lost: %+v", got)
	}
}

func TestBPv6RoundTrip(t *testing.T) {
	b := sampleBundle()
	b.Version = 6
	wire := bp.EncodeBundleBPv6(b)
	got, err := bp.DecodeBundleBPv6(wire)
	if err != nil {
		t.Fatalf("DecodeBundleBPv6: %v", err)
	}
	if got.Version != 6 || !got.Source.Equal(b.Source) || !got.Destination.Equal(b.Destination) {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if len(got.Blocks) != 1 || !bytes.Equal(got.Blocks[0].Body, b.Blocks[0].Body) {
		t.Fatalf("roundtrip payload mismatch: %+v", got.Blocks)
	}
}

func TestStatusReportRoundTrip(t *testing.T) {
	sr := &bp.StatusReport{
		BundleSourceEID: "ipn:7.0",
		CreationTime:    1000,
		CreationSeqNo:   2,
		Reason:          bp.ReasonLifetimeExpired,
		Deleted:         true,
	}
	wire := EncodeDecodeStatusReport(t, sr)
	if wire.Reason != bp.ReasonLifetimeExpired || !wire.Deleted || wire.Delivered {
		t.Fatalf("roundtrip mismatch: %+v", wire)
	}
}

func EncodeDecodeStatusReport(t *testing.T, sr *bp.StatusReport) *bp.StatusReport {
	t.Helper()
	got, err := bp.DecodeStatusReport(bp.EncodeStatusReport(sr))
	if err != nil {
		t.Fatalf("DecodeStatusReport: %v", err)
	}
	return got
}

func TestCustodySignalRoundTrip(t *testing.T) {
	cs := &bp.CustodySignal{BundleSourceEID: "ipn:20.0", CreationTime: 5, Accepted: true, Reason: bp.ReasonCustodyAccepted}
	got, err := bp.DecodeCustodySignal(bp.EncodeCustodySignal(cs))
	if err != nil {
		t.Fatalf("DecodeCustodySignal: %v", err)
	}
	if !got.Accepted || got.Reason != bp.ReasonCustodyAccepted {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestIMCPetitionRoundTrip(t *testing.T) {
	p := &bp.IMCPetition{Group: 5, Join: true}
	got, err := bp.DecodeIMCPetitionBPv7(bp.EncodeIMCPetitionBPv7(p))
	if err != nil || got.Group != 5 || !got.Join {
		t.Fatalf("BPv7 petition roundtrip: %+v, err=%v", got, err)
	}
	got6, err := bp.DecodeIMCPetitionBPv6(bp.EncodeIMCPetitionBPv6(p))
	if err != nil || got6.Group != 5 || !got6.Join {
		t.Fatalf("BPv6 petition roundtrip: %+v, err=%v", got6, err)
	}
}

func TestIMCBriefingIONRoundTrip(t *testing.T) {
	br := &bp.IMCBriefing{Kind: bp.BriefingION, IONGroups: []uint64{1, 2, 3}}
	got, err := bp.DecodeIMCBriefing(bp.EncodeIMCBriefing(br))
	if err != nil {
		t.Fatalf("DecodeIMCBriefing: %v", err)
	}
	if got.Kind != bp.BriefingION || len(got.IONGroups) != 3 {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestIMCBriefingDTNMERoundTrip(t *testing.T) {
	br := &bp.IMCBriefing{
		Kind:       bp.BriefingDTNME,
		HomeRegion: 1,
		Regions:    []bp.RegionRec{{Node: 20, IsRouter: true}, {Node: 21, IsRouter: false}},
		Groups:     []bp.GroupRec{{Group: 5, Nodes: []uint64{20, 0, 22}}},
	}
	got, err := bp.DecodeIMCBriefing(bp.EncodeIMCBriefing(br))
	if err != nil {
		t.Fatalf("DecodeIMCBriefing: %v", err)
	}
	if got.Kind != bp.BriefingDTNME || got.HomeRegion != 1 || len(got.Regions) != 2 || len(got.Groups) != 1 {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if got.Groups[0].Nodes[1] != 0 {
		t.Fatalf("removed-node-as-0 encoding lost: %+v", got.Groups[0])
	}
}
