package bundle_test

import (
	"testing"

	"github.com/dtnx/bpd/bundle"
)

func TestMappingInvariant(t *testing.T) {
	all := bundle.NewList("all_bundles", bundle.KindInsertionOrder)
	pending := bundle.NewList("pending", bundle.KindInsertionOrder)

	b := bundle.New(1)
	all.PushBack(b)
	pending.PushBack(b)

	if !b.OnList(all) || !b.OnList(pending) {
		t.Fatal("bundle should be a member of both lists")
	}
	if got := b.MappingCount(); got != 2 {
		t.Fatalf("expected mapping count 2, got %d", got)
	}

	pending.Erase(b)
	if b.OnList(pending) {
		t.Fatal("bundle should no longer be a member of pending")
	}
	if got := b.MappingCount(); got != 1 {
		t.Fatalf("expected mapping count 1 after erase, got %d", got)
	}
	if pending.Len() != 0 {
		t.Fatalf("expected pending list empty, got len %d", pending.Len())
	}
	if all.Len() != 1 {
		t.Fatalf("expected all_bundles to still hold the bundle, got len %d", all.Len())
	}
}

func TestEraseIsIdempotent(t *testing.T) {
	l := bundle.NewList("x", bundle.KindInsertionOrder)
	b := bundle.New(1)
	l.PushBack(b)
	l.Erase(b)
	l.Erase(b) // no-op, must not panic or double-decrement
	if b.MappingCount() != 0 {
		t.Fatalf("expected mapping count 0, got %d", b.MappingCount())
	}
}

func TestMoveAllToPreservesMappingCardinality(t *testing.T) {
	src := bundle.NewList("src", bundle.KindInsertionOrder)
	dst := bundle.NewList("dst", bundle.KindInsertionOrder)

	b1, b2 := bundle.New(1), bundle.New(2)
	src.PushBack(b1)
	src.PushBack(b2)

	src.MoveAllTo(dst)

	if src.Len() != 0 {
		t.Fatalf("expected src empty after MoveAllTo, got len %d", src.Len())
	}
	if dst.Len() != 2 {
		t.Fatalf("expected dst to hold 2 bundles, got len %d", dst.Len())
	}
	if b1.MappingCount() != 1 || b2.MappingCount() != 1 {
		t.Fatal("MoveAllTo must not change mapping-set cardinality")
	}
	if !b1.OnList(dst) || !b2.OnList(dst) {
		t.Fatal("bundles should now be members of dst")
	}
}

func TestIntKeyLookup(t *testing.T) {
	l := bundle.NewList("by-id", bundle.KindIntKey)
	b := bundle.New(42)
	l.PushKey(uint64(42), b)

	got, ok := l.LookupInt(42)
	if !ok || got != b {
		t.Fatal("expected to find bundle by int key")
	}

	l.Erase(b)
	if _, ok := l.LookupInt(42); ok {
		t.Fatal("expected key to be removed from index after erase")
	}
}

func TestMultiMapLookup(t *testing.T) {
	l := bundle.NewList("by-dest", bundle.KindMultiMap)
	b1, b2 := bundle.New(1), bundle.New(2)
	l.PushKey("ipn:7.0", b1)
	l.PushKey("ipn:7.0", b2)

	got := l.LookupMulti("ipn:7.0")
	if len(got) != 2 {
		t.Fatalf("expected 2 bundles under shared key, got %d", len(got))
	}

	l.Erase(b1)
	got = l.LookupMulti("ipn:7.0")
	if len(got) != 1 || got[0] != b2 {
		t.Fatalf("expected only b2 to remain under shared key, got %v", got)
	}
}
