package oifits

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// ErrInvalidPath indicates a path that would escape the storage root.
var ErrInvalidPath = errors.New("invalid path: escapes storage root")

// cleanKey normalises a slash-separated store key. Prefix keys may be
// empty; file keys may not.
func cleanKey(path string, prefix bool) (string, bool) {
	if path == "" {
		return "", prefix
	}
	cleaned := strings.TrimPrefix(filepath.ToSlash(filepath.Clean(path)), "/")
	switch {
	case cleaned == ".":
		return "", prefix
	case cleaned == ".." || strings.HasPrefix(cleaned, "../"):
		return "", false
	}
	return cleaned, true
}

// -----------------------------------------------------------------------------
// Filesystem Store
// -----------------------------------------------------------------------------

// fsStore keeps archives as files under a root directory.
type fsStore struct {
	root string
}

// NewFS creates a filesystem-backed Store rooted at an existing directory.
func NewFS(root string) (Store, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, os.ErrNotExist
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &fsStore{root: abs}, nil
}

// NewFSFactory returns a factory opening root on each call.
func NewFSFactory(root string) StoreFactory {
	return func() (Store, error) { return NewFS(root) }
}

func (f *fsStore) resolve(path string, prefix bool) (string, error) {
	key, ok := cleanKey(path, prefix)
	if !ok {
		return "", ErrInvalidPath
	}
	full := filepath.Join(f.root, filepath.FromSlash(key))
	if full != f.root && !strings.HasPrefix(full, f.root+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return full, nil
}

func (f *fsStore) Put(_ context.Context, path string, r io.Reader) error {
	full, err := f.resolve(path, false)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrPathExists
		}
		return err
	}
	if _, err := io.Copy(file, r); err != nil {
		_ = file.Close()
		_ = os.Remove(full)
		return err
	}
	return file.Close()
}

func (f *fsStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	full, err := f.resolve(path, false)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return file, err
}

func (f *fsStore) Exists(_ context.Context, path string) (bool, error) {
	full, err := f.resolve(path, false)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	}
	return false, err
}

func (f *fsStore) List(_ context.Context, prefix string) ([]string, error) {
	base, err := f.resolve(prefix, true)
	if err != nil {
		return nil, err
	}
	var paths []string
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)
	return paths, nil
}

func (f *fsStore) Delete(_ context.Context, path string) error {
	full, err := f.resolve(path, false)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------
// Memory Store
// -----------------------------------------------------------------------------

// memoryStore keeps archives in a map. It is safe for concurrent use.
type memoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an in-memory Store.
func NewMemory() Store {
	return &memoryStore{data: make(map[string][]byte)}
}

// NewMemoryFactory returns a factory that always yields the same
// in-memory store.
func NewMemoryFactory() StoreFactory {
	s := NewMemory()
	return func() (Store, error) { return s, nil }
}

func (m *memoryStore) Put(_ context.Context, path string, r io.Reader) error {
	key, ok := cleanKey(path, false)
	if !ok {
		return ErrInvalidPath
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[key]; exists {
		return ErrPathExists
	}
	m.data[key] = data
	return nil
}

func (m *memoryStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	key, ok := cleanKey(path, false)
	if !ok {
		return nil, ErrInvalidPath
	}
	m.mu.RLock()
	data, exists := m.data[key]
	m.mu.RUnlock()
	if !exists {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(data))), nil
}

func (m *memoryStore) Exists(_ context.Context, path string) (bool, error) {
	key, ok := cleanKey(path, false)
	if !ok {
		return false, ErrInvalidPath
	}
	m.mu.RLock()
	_, exists := m.data[key]
	m.mu.RUnlock()
	return exists, nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]string, error) {
	key, ok := cleanKey(prefix, true)
	if !ok {
		return nil, ErrInvalidPath
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var paths []string
	for p := range m.data {
		if strings.HasPrefix(p, key) {
			paths = append(paths, p)
		}
	}
	slices.Sort(paths)
	return paths, nil
}

func (m *memoryStore) Delete(_ context.Context, path string) error {
	key, ok := cleanKey(path, false)
	if !ok {
		return ErrInvalidPath
	}
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}
