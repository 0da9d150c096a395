package objstore

import (
	"bytes"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	store, err := Open(t.TempDir(), NewSHA256Hasher())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	content := []byte("large binary payload that would otherwise bloat the repository")
	h, err := store.Put(content)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !store.Has(h) {
		t.Fatalf("Has(%s) = false after Put", h.String())
	}

	var got bytes.Buffer
	if err := store.Get(h, &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got.Bytes(), content) {
		t.Fatalf("Get round trip mismatch")
	}
}

func TestPutIsIdempotent(t *testing.T) {
	store, err := Open(t.TempDir(), NewSHA256Hasher())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	content := []byte("same content twice")
	h1, err := store.Put(content)
	if err != nil {
		t.Fatalf("Put 1: %v", err)
	}
	h2, err := store.Put(content)
	if err != nil {
		t.Fatalf("Put 2: %v", err)
	}
	if !h1.Equals(h2) {
		t.Fatalf("hashes differ across identical Put calls")
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	store, err := Open(t.TempDir(), NewSHA256Hasher())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	missing := NewSHA256Hasher().Hash([]byte("never stored"))
	if err := store.Get(missing, &bytes.Buffer{}); err != ErrNotFound {
		t.Fatalf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestListReturnsStoredHashes(t *testing.T) {
	store, err := Open(t.TempDir(), NewSHA256Hasher())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	h1, _ := store.Put([]byte("one"))
	h2, _ := store.Put([]byte("two"))

	listed, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("List returned %d hashes, want 2", len(listed))
	}
	seen := map[string]bool{}
	for _, h := range listed {
		seen[h.String()] = true
	}
	if !seen[h1.String()] || !seen[h2.String()] {
		t.Fatalf("List missing a stored hash: %v", listed)
	}
}

func TestParseHashValidatesLength(t *testing.T) {
	store, err := Open(t.TempDir(), NewSHA256Hasher())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.ParseHash("deadbeef"); err == nil {
		t.Fatalf("expected a length-validation error for a short sha256 digest")
	}
	full := NewSHA256Hasher().Hash([]byte("x")).String()
	if _, err := store.ParseHash(full); err != nil {
		t.Fatalf("ParseHash(%s): %v", full, err)
	}
}
