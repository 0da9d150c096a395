// Package objstore is a content-addressable blob store: the backing
// database the pointer filter uses to hold large file content out of
// the Git repository proper, keyed by the same sharded-hash layout a
// Git object database uses (objects/ab/cdef...), with the payload
// zlib-compressed on disk.
package objstore

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Get when no object exists for a hash.
var ErrNotFound = fmt.Errorf("objstore: object not found")

// Store is a content-addressable store of compressed blobs, sharded
// across subdirectories by the first two hex characters of each
// object's hash, mirroring a Git objects directory.
type Store struct {
	root   string
	hasher Hasher
}

// Open returns a Store rooted at dir, creating dir if necessary. hasher
// determines both the content digest and the on-disk path shape.
func Open(dir string, hasher Hasher) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("objstore: create root: %w", err)
	}
	return &Store{root: dir, hasher: hasher}, nil
}

// Put compresses and stores data, returning its content hash. Storing
// the same content twice is a no-op the second time (content-addressed
// writes are idempotent).
func (s *Store) Put(data []byte) (Hash, error) {
	h := s.hasher.Hash(data)
	path := s.path(h)
	if _, err := os.Stat(path); err == nil {
		return h, nil
	}

	compressed, err := compress(data)
	if err != nil {
		return nil, fmt.Errorf("objstore: compress: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("objstore: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("objstore: create temp: %w", err)
	}
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("objstore: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("objstore: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("objstore: rename into place: %w", err)
	}
	return h, nil
}

// Get streams the decompressed content for h to w.
func (s *Store) Get(h Hash, w io.Writer) error {
	f, err := os.Open(s.path(h))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("objstore: open %s: %w", h.String(), err)
	}
	defer f.Close()

	zr, err := zlib.NewReader(f)
	if err != nil {
		return fmt.Errorf("objstore: decompress %s: %w", h.String(), err)
	}
	defer zr.Close()

	if _, err := io.Copy(w, zr); err != nil {
		return fmt.Errorf("objstore: read %s: %w", h.String(), err)
	}
	return nil
}

// Has reports whether an object for h is present.
func (s *Store) Has(h Hash) bool {
	_, err := os.Stat(s.path(h))
	return err == nil
}

// ParseHash resolves a hex digest string to the Hash type this store's
// hasher produces, validating its length against that algorithm.
func (s *Store) ParseHash(hex string) (Hash, error) {
	h, err := ParseHash(hex)
	if err != nil {
		return nil, err
	}
	if err := h.Validate(s.hasher.Algorithm()); err != nil {
		return nil, err
	}
	return h, nil
}

func (s *Store) path(h Hash) string {
	str := h.String()
	if len(str) < 2 {
		return filepath.Join(s.root, str)
	}
	return filepath.Join(s.root, str[:2], str[2:])
}

// List returns every object hash currently in the store.
func (s *Store) List() ([]Hash, error) {
	var hashes []Hash
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		parts := strings.Split(rel, string(filepath.Separator))
		if len(parts) != 2 || len(parts[0]) != 2 || strings.HasPrefix(parts[1], ".tmp-") {
			return nil
		}
		h, err := ParseHash(parts[0] + parts[1])
		if err != nil {
			return nil
		}
		hashes = append(hashes, h)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hashes, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
