package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sjaiswal27/courierdrop/internal/apperr"
)

// Store writes and reads file blobs under a single sandboxed root directory.
// Blobs are addressed only by server-generated stored names; client input
// never becomes a path component.
type Store struct {
	root string
}

func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Store{root: abs}, nil
}

func (s *Store) Root() string { return s.root }

// SanitizeFilename reduces an untrusted original filename to a bare name:
// path separators become underscores, surrounding dots and whitespace are
// trimmed, and an empty result falls back to "file".
func SanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "_"))
	base = strings.ReplaceAll(base, "/", "_")
	base = strings.Trim(strings.TrimSpace(base), ".")
	base = strings.TrimSpace(base)
	if base == "" || base == "_" {
		return "file"
	}
	return base
}

// NewStoredName generates an opaque, collision-resistant stored filename for
// the given (already untrusted) original name.
func NewStoredName(original string) string {
	return strings.ReplaceAll(uuid.New().String(), "-", "") + "_" + SanitizeFilename(original)
}

// Resolve maps a stored filename to its absolute on-disk path. Names carrying
// separators or traversal segments are rejected before touching the disk.
func (s *Store) Resolve(storedName string) (string, error) {
	if storedName == "" ||
		strings.ContainsAny(storedName, `/\`) ||
		storedName != filepath.Base(storedName) ||
		strings.Contains(storedName, "..") {
		return "", apperr.NotFound("File not found")
	}
	path := filepath.Join(s.root, storedName)
	rel, err := filepath.Rel(s.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", apperr.NotFound("File not found")
	}
	return path, nil
}

// Save streams r into a new blob for storedName and returns the byte count.
func (s *Store) Save(storedName string, r io.Reader) (int64, error) {
	path, err := s.Resolve(storedName)
	if err != nil {
		return 0, err
	}
	dst, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create blob: %w", err)
	}
	n, err := io.Copy(dst, r)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, fmt.Errorf("write blob: %w", err)
	}
	return n, nil
}

// Open returns a reader over the blob for storedName.
func (s *Store) Open(storedName string) (*os.File, error) {
	path, err := s.Resolve(storedName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, apperr.NotFound("File missing on server")
	}
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

// Exists reports whether the blob for storedName is present.
func (s *Store) Exists(storedName string) bool {
	path, err := s.Resolve(storedName)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Remove unlinks the blob for storedName. A missing blob is not an error.
func (s *Store) Remove(storedName string) error {
	path, err := s.Resolve(storedName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}
