package imc

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/buntdb"

	"github.com/dtnx/bpd/cmn/nlog"
)

// Store is the embedded ordered-KV persistence layer backing the region,
// group, and manual-join databases (§4.8), and the clear-database marker
// reconciliation (§9's Open Question, resolved as write-marker-then-clear).
//
// Keys are namespaced by record kind so buntdb's AscendKeys range scans can
// reload one table at a time on startup.
type Store struct {
	db *buntdb.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

const (
	regionKeyFmt  = "region/%d/%d"     // region, node
	groupKeyFmt   = "group/home/%d/%d" // group, node
	outerKeyFmt   = "group/outer/%d/%d"
	joinKeyFmt    = "join/%s/%d/%d" // eid raw, group, service
	markerKeyFmt  = "marker/%s"     // region|group|join
)

func (s *Store) PersistRegion(region, node uint64, rec RegionRecord) error {
	b, err := jsoniter.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(fmt.Sprintf(regionKeyFmt, region, node), string(b), nil)
		return err
	})
}

func (s *Store) PersistGroupHome(group, node uint64, rec GroupRecord) error {
	b, err := jsoniter.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(fmt.Sprintf(groupKeyFmt, group, node), string(b), nil)
		return err
	})
}

func (s *Store) PersistGroupOuter(group, node uint64, rec GroupRecord) error {
	b, err := jsoniter.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(fmt.Sprintf(outerKeyFmt, group, node), string(b), nil)
		return err
	})
}

func (s *Store) PersistManualJoin(eidRaw string, group, service uint64) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(fmt.Sprintf(joinKeyFmt, eidRaw, group, service), "1", nil)
		return err
	})
}

func (s *Store) DeleteManualJoin(eidRaw string, group, service uint64) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(fmt.Sprintf(joinKeyFmt, eidRaw, group, service))
		if err != nil && err != buntdb.ErrNotFound {
			return err
		}
		return nil
	})
}

// PersistDirty drains every not-yet-persisted record off the three
// databases and writes them, per SPEC_FULL's dirty-bit batching.
func (s *Store) PersistDirty(rdb *RegionDB, gdb *GroupDB) error {
	for _, d := range rdb.Dirty() {
		if err := s.PersistRegion(d.Region, d.Node, d.Rec); err != nil {
			return err
		}
	}
	for _, d := range gdb.DirtyHome() {
		if err := s.PersistGroupHome(d.Group, d.Node, d.Rec); err != nil {
			return err
		}
	}
	for _, d := range gdb.DirtyOuter() {
		if err := s.PersistGroupOuter(d.Group, d.Node, d.Rec); err != nil {
			return err
		}
	}
	return nil
}

// ReconcileClear implements the startup clear-database ordering resolved in
// SPEC_FULL.md: write-marker-then-clear. If the stored marker for kind
// differs from configuredID, the corresponding database is cleared and the
// new marker is recorded; otherwise nothing happens (idempotent across
// restarts).
func (s *Store) ReconcileClear(kind, configuredID string, clear func()) error {
	if configuredID == "" {
		return nil
	}
	key := fmt.Sprintf(markerKeyFmt, kind)
	var stored string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			if err == buntdb.ErrNotFound {
				return nil
			}
			return err
		}
		stored = v
		return nil
	})
	if err != nil {
		return err
	}
	if stored == configuredID {
		return nil
	}
	nlog.Infof("imc: clearing %s database (marker %q -> %q)", kind, stored, configuredID)
	if err := s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, configuredID, nil)
		return err
	}); err != nil {
		return err
	}
	clear()
	return nil
}
