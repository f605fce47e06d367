package remotetree

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nken-eccs/gitrefer/internal/apperr"
	"github.com/nken-eccs/gitrefer/internal/checksum"
)

// Memory is an in-process Tree with full CAS semantics. It backs tests
// and the dry-run mode; fault-injection hooks let tests fail specific
// operations to exercise partial-write recovery.
type Memory struct {
	mu    sync.Mutex
	files map[string]memFile
	gen   uint64

	// Optional hooks, called before the corresponding operation while
	// holding the lock. Returning an error aborts the operation with
	// that error. Nil hooks are ignored.
	ReadHook   func(path string) error
	WriteHook  func(path string) error
	DeleteHook func(path string) error
}

type memFile struct {
	content  []byte
	revision Revision
}

// NewMemory returns an empty in-memory tree.
func NewMemory() *Memory {
	return &Memory{files: make(map[string]memFile)}
}

func (m *Memory) List(ctx context.Context, path string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := strings.Trim(path, "/")
	if prefix != "" {
		prefix += "/"
	}
	files := map[string]Entry{}
	dirs := map[string]struct{}{}
	for p, f := range m.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if name, _, nested := strings.Cut(rest, "/"); nested {
			dirs[name] = struct{}{}
		} else {
			files[name] = Entry{Name: name, Path: p, Revision: f.revision}
		}
	}
	out := make([]Entry, 0, len(files)+len(dirs))
	for name := range dirs {
		out = append(out, Entry{Name: name, Path: prefix + name, IsDir: true})
	}
	for _, e := range files {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Read(ctx context.Context, path string) ([]byte, Revision, error) {
	if err := ctx.Err(); err != nil {
		return nil, NoRevision, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ReadHook != nil {
		if err := m.ReadHook(path); err != nil {
			return nil, NoRevision, err
		}
	}
	f, ok := m.files[clean(path)]
	if !ok {
		return nil, NoRevision, fmt.Errorf("read %s: %w", path, apperr.ErrNotFound)
	}
	content := make([]byte, len(f.content))
	copy(content, f.content)
	return content, f.revision, nil
}

func (m *Memory) Write(ctx context.Context, path string, content []byte, expected Revision) (Revision, error) {
	if err := ctx.Err(); err != nil {
		return NoRevision, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.WriteHook != nil {
		if err := m.WriteHook(path); err != nil {
			return NoRevision, err
		}
	}
	p := clean(path)
	current, exists := m.files[p]
	switch {
	case expected == NoRevision && exists:
		return NoRevision, fmt.Errorf("write %s: path exists: %w", path, apperr.ErrConflict)
	case expected != NoRevision && !exists:
		return NoRevision, fmt.Errorf("write %s: %w", path, apperr.ErrNotFound)
	case expected != NoRevision && current.revision != expected:
		return NoRevision, fmt.Errorf("write %s: stale revision: %w", path, apperr.ErrConflict)
	}

	m.gen++
	rev := Revision(checksum.Sum(fmt.Appendf(nil, "%d:%s:%s", m.gen, p, content)))
	stored := make([]byte, len(content))
	copy(stored, content)
	m.files[p] = memFile{content: stored, revision: rev}
	return rev, nil
}

func (m *Memory) Delete(ctx context.Context, path string, expected Revision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DeleteHook != nil {
		if err := m.DeleteHook(path); err != nil {
			return err
		}
	}
	p := clean(path)
	current, exists := m.files[p]
	if !exists {
		return fmt.Errorf("delete %s: %w", path, apperr.ErrNotFound)
	}
	if current.revision != expected {
		return fmt.Errorf("delete %s: stale revision: %w", path, apperr.ErrConflict)
	}
	delete(m.files, p)
	return nil
}

// Len reports the number of stored files.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

func clean(path string) string {
	return strings.Trim(path, "/")
}
