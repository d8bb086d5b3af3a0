package store_test

import (
	"bytes"
	"testing"

	"github.com/dtnx/bpd/store"
)

func TestCheckedLogRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := store.NewCheckedLogWriter(&buf)
	if err := w.WriteRecord([]byte("region-1")); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteIgnoredRecord([]byte("soft-deleted")); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteRecord([]byte("group-5")); err != nil {
		t.Fatal(err)
	}

	data := buf.Bytes()
	r := store.NewCheckedLogReader(bytes.NewReader(data), int64(len(data)))

	rec, status := r.ReadRecord()
	if status != store.StatusOK || string(rec) != "region-1" {
		t.Fatalf("record 1: status=%v rec=%q", status, rec)
	}
	rec, status = r.ReadRecord()
	if status != store.StatusIgnore || string(rec) != "soft-deleted" {
		t.Fatalf("record 2: status=%v rec=%q", status, rec)
	}
	rec, status = r.ReadRecord()
	if status != store.StatusOK || string(rec) != "group-5" {
		t.Fatalf("record 3: status=%v rec=%q", status, rec)
	}
	_, status = r.ReadRecord()
	if status != store.StatusEnd {
		t.Fatalf("expected StatusEnd, got %v", status)
	}
}

func TestCheckedLogTruncatedRecord(t *testing.T) {
	var buf bytes.Buffer
	w := store.NewCheckedLogWriter(&buf)
	if err := w.WriteRecord([]byte("full record")); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()[:buf.Len()-3] // truncate the tail of the data

	r := store.NewCheckedLogReader(bytes.NewReader(data), int64(len(data)))
	if _, status := r.ReadRecord(); status != store.StatusBadCRC {
		t.Fatalf("expected StatusBadCRC for truncated record, got %v", status)
	}
}

func TestCheckedLogCorruptedCRC(t *testing.T) {
	var buf bytes.Buffer
	w := store.NewCheckedLogWriter(&buf)
	if err := w.WriteRecord([]byte("payload")); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	data[3] ^= 0xFF // flip a bit in the CRC field

	r := store.NewCheckedLogReader(bytes.NewReader(data), int64(len(data)))
	if _, status := r.ReadRecord(); status != store.StatusBadCRC {
		t.Fatalf("expected StatusBadCRC for corrupted CRC, got %v", status)
	}
}
