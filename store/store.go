// Package store implements the durable object substrate (C1): file-backed
// objects with transactional rename, a CRC-checked append log, and a
// sparse-range buffer for reassembling out-of-order fragment payloads.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/karrick/godirwalk"

	"github.com/dtnx/bpd/cmn/cos"
)

// fsidMarkerName holds the root directory's statfs-derived filesystem ID
// from the store's first Open, so a later Open against the same path but a
// different backing filesystem (e.g. an unmounted/remounted disk) is
// caught instead of silently scanning an empty or unrelated directory.
const fsidMarkerName = ".fsid"

// Store is a named collection of FileObjects rooted at a single directory.
type Store struct {
	root string
	fsID cos.FsID

	mu      sync.RWMutex
	objects map[string]*FileObject
}

func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, classifyIOErr("mkdir", err)
	}
	fsID, err := rootFsID(root)
	if err != nil {
		return nil, err
	}
	if err := checkOrWriteFsIDMarker(root, fsID); err != nil {
		return nil, err
	}
	return &Store{root: root, fsID: fsID, objects: make(map[string]*FileObject)}, nil
}

// RootFsID returns the filesystem ID recorded for this store's root at Open.
func (s *Store) RootFsID() cos.FsID { return s.fsID }

// checkOrWriteFsIDMarker compares fsID against the marker left by a
// previous Open of root, writing one if this is the first time root has
// been opened as a store.
func checkOrWriteFsIDMarker(root string, fsID cos.FsID) error {
	path := filepath.Join(root, fsidMarkerName)
	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return classifyIOErr("read fsid marker", err)
		}
		if err := os.WriteFile(path, []byte(fsID.String()), 0o644); err != nil {
			return classifyIOErr("write fsid marker", err)
		}
		return nil
	}
	if string(b) != fsID.String() {
		return fmt.Errorf("store root %q: backing filesystem changed (marker %s, current %s)", root, string(b), fsID.String())
	}
	return nil
}

func (s *Store) path(key string) string { return filepath.Join(s.root, key) }

// NewObject creates a new, empty object for key. Returns ErrAlreadyExists
// if the key is already in use.
func (s *Store) NewObject(key string) (*FileObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[key]; ok {
		return nil, ErrAlreadyExists
	}
	path := s.path(key)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrAlreadyExists
		}
		return nil, classifyIOErr("create", err)
	}
	f.Close()

	fo := newFileObject(path)
	s.objects[key] = fo
	return fo, nil
}

// GetHandle returns the object for key. Must not be called for a missing
// key per the store contract; callers should check Exists first when the
// key's presence is not already known.
func (s *Store) GetHandle(key string) (*FileObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fo, ok := s.objects[key]; ok {
		return fo, nil
	}
	path := s.path(key)
	if _, err := os.Stat(path); err != nil {
		return nil, ErrNotFound
	}
	fo := newFileObject(path)
	s.objects[key] = fo
	return fo, nil
}

func (s *Store) Exists(key string) bool {
	s.mu.RLock()
	_, cached := s.objects[key]
	s.mu.RUnlock()
	if cached {
		return true
	}
	_, err := os.Stat(s.path(key))
	return err == nil
}

// Delete removes key's backing file. Returns ErrNotFound if key is absent.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, key)
	if err := os.Remove(s.path(key)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return classifyIOErr("delete", err)
	}
	return nil
}

// Copy duplicates src's content to dst. Fails if src is missing or dst
// already exists.
func (s *Store) Copy(src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path(src)); err != nil {
		return ErrNotFound
	}
	if _, ok := s.objects[dst]; ok {
		return ErrAlreadyExists
	}
	if _, err := os.Stat(s.path(dst)); err == nil {
		return ErrAlreadyExists
	}
	if err := copyFile(s.path(src), s.path(dst)); err != nil {
		return classifyIOErr("copy", err)
	}
	s.objects[dst] = newFileObject(s.path(dst))
	return nil
}

// ListKeys enumerates every object key currently in the store, walking
// the root directory with godirwalk rather than filepath.Walk for the
// allocation-free directory-entry scanning it offers over large stores.
func (s *Store) ListKeys() ([]string, error) {
	var keys []string
	err := godirwalk.Walk(s.root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path == s.root {
				return nil
			}
			if de.IsDir() {
				return filepath.SkipDir
			}
			rel, err := filepath.Rel(s.root, path)
			if err != nil {
				return err
			}
			if rel == fsidMarkerName {
				return nil
			}
			if filepath.Ext(rel) == ".tx" {
				return nil // transaction sibling, not a committed object
			}
			keys = append(keys, rel)
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return nil, classifyIOErr("walk", err)
	}
	return keys, nil
}
