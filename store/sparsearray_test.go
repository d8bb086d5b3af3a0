package store_test

import (
	"reflect"
	"testing"

	"github.com/dtnx/bpd/store"
)

func TestSparseArrayNonOverlappingWrites(t *testing.T) {
	var sa store.SparseArray[byte]
	sa.Write(0, []byte("abc"))
	sa.Write(10, []byte("xyz"))

	if got := sa.ReadRange(0, 3); !reflect.DeepEqual(got, []byte("abc")) {
		t.Fatalf("got %q", got)
	}
	if got := sa.Read(5); got != 0 {
		t.Fatalf("expected zero value in gap, got %v", got)
	}
	if sa.Size() != 13 {
		t.Fatalf("expected size 13, got %d", sa.Size())
	}
}

func TestSparseArrayOverlapMerge(t *testing.T) {
	var sa store.SparseArray[byte]
	sa.Write(0, []byte("aaaa"))
	sa.Write(2, []byte("bbbb")) // overlaps tail of first block, extends it

	got := sa.ReadRange(0, 6)
	want := []byte("aabbbb")
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestSparseArrayContainedWrite(t *testing.T) {
	var sa store.SparseArray[byte]
	sa.Write(0, []byte("aaaaaaaa"))
	sa.Write(2, []byte("bb")) // fully contained in the first block

	got := sa.ReadRange(0, 8)
	want := []byte("aabbaaaa")
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestSparseArrayBridgingWriteAbsorbsBothNeighbors(t *testing.T) {
	var sa store.SparseArray[byte]
	sa.Write(0, []byte("aa"))
	sa.Write(10, []byte("bb"))
	sa.Write(0, []byte("0123456789ab")) // spans and absorbs both existing blocks

	if got, want := sa.ReadRange(0, 12), []byte("0123456789ab"); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
	if sa.Size() != 12 {
		t.Fatalf("expected size 12, got %d", sa.Size())
	}
}

func TestSparseArrayAdjoiningWritesMerge(t *testing.T) {
	var sa store.SparseArray[byte]
	sa.Write(0, []byte("abc"))
	sa.Write(3, []byte("def")) // starts exactly where the first block ends

	got := sa.ReadRange(0, 6)
	want := []byte("abcdef")
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestSparseArrayComplete(t *testing.T) {
	var sa store.SparseArray[byte]
	sa.Write(0, []byte("0123"))
	if sa.Complete(10) {
		t.Fatal("expected incomplete reassembly")
	}
	sa.Write(4, []byte("456789"))
	if !sa.Complete(10) {
		t.Fatal("expected complete reassembly")
	}
}
