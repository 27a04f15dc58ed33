package substrate

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"
)

// FileInfo is the subset of stat results the substrate layer needs.
type FileInfo struct {
	Size    int64
	ModTime time.Time
}

// FileSystem abstracts the disk so tests can run against memory.
// All operations report missing paths with an error wrapping ErrNotFound.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	AppendFile(path string, data []byte) error
	Stat(path string) (FileInfo, error)
	MkdirAll(path string) error
	Exists(path string) bool
	CopyFile(src, dst string) error
	ReadDir(path string) ([]string, error)
	Remove(path string) error
}

// OS is the production filesystem. Whole-file writes go through a
// write-then-rename so readers never observe a torn file.
type OS struct{}

func (OS) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func (OS) WriteFile(path string, data []byte) error {
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (OS) AppendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	return nil
}

func (OS) Stat(path string) (FileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return FileInfo{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return FileInfo{Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

func (OS) MkdirAll(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

func (OS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (o OS) CopyFile(src, dst string) error {
	data, err := o.ReadFile(src)
	if err != nil {
		return err
	}
	return o.WriteFile(dst, data)
}

func (OS) ReadDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("readdir %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (OS) Remove(path string) error {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// Mem is an in-memory filesystem for tests. File mtimes come from the
// supplied clock, so a FakeClock gives deterministic cache behavior.
type Mem struct {
	mu    sync.RWMutex
	clock Clock
	files map[string]*memFile
	dirs  map[string]bool
}

type memFile struct {
	data    []byte
	modTime time.Time
}

// NewMem builds an empty memory filesystem. A nil clock falls back to
// the wall clock.
func NewMem(clock Clock) *Mem {
	if clock == nil {
		clock = WallClock{}
	}
	return &Mem{
		clock: clock,
		files: make(map[string]*memFile),
		dirs:  make(map[string]bool),
	}
}

func (m *Mem) ReadFile(path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[normalize(path)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out, nil
}

func (m *Mem) WriteFile(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.files[normalize(path)] = &memFile{data: cp, modTime: m.clock.Now()}
	return nil
}

func (m *Mem) AppendFile(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := normalize(path)
	f, ok := m.files[key]
	if !ok {
		f = &memFile{}
		m.files[key] = f
	}
	f.data = append(f.data, data...)
	f.modTime = m.clock.Now()
	return nil
}

func (m *Mem) Stat(path string) (FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[normalize(path)]
	if !ok {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return FileInfo{Size: int64(len(f.data)), ModTime: f.modTime}, nil
}

func (m *Mem) MkdirAll(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[normalize(path)] = true
	return nil
}

func (m *Mem) Exists(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := normalize(path)
	if _, ok := m.files[key]; ok {
		return true
	}
	return m.dirs[key]
}

func (m *Mem) CopyFile(src, dst string) error {
	data, err := m.ReadFile(src)
	if err != nil {
		return err
	}
	return m.WriteFile(dst, data)
}

func (m *Mem) ReadDir(path string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := normalize(path)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	seen := make(map[string]bool)
	for p := range m.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		seen[rest] = true
	}
	for d := range m.dirs {
		if !strings.HasPrefix(d, prefix) || d == strings.TrimSuffix(prefix, "/") {
			continue
		}
		rest := strings.TrimPrefix(d, prefix)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		if rest != "" {
			seen[rest] = true
		}
	}
	if len(seen) == 0 && !m.dirs[normalize(path)] {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Mem) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := normalize(path)
	if _, ok := m.files[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	delete(m.files, key)
	return nil
}

func normalize(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}
