package httpresp

import "sync"

// MemoryBackend is an in-memory Backend double for tests (the store the
// root package's call-counting MockBackend wraps; it counts no calls
// itself): a plain map guarded by a mutex, with no real mmap involved
// since there is no real file descriptor to map.
type MemoryBackend struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]bool
	mode  map[string]bool // path -> readable
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		files: make(map[string][]byte),
		dirs:  make(map[string]bool),
		mode:  make(map[string]bool),
	}
}

// PutFile registers path with the given contents, readable by default.
func (m *MemoryBackend) PutFile(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = data
	m.mode[path] = true
}

// PutUnreadableFile registers path with contents that Stat reports as
// not other-readable, exercising the 403 path.
func (m *MemoryBackend) PutUnreadableFile(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = data
	m.mode[path] = false
}

// PutDir registers path as a directory.
func (m *MemoryBackend) PutDir(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[path] = true
}

// Stat implements Backend.
func (m *MemoryBackend) Stat(path string) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dirs[path] {
		return Info{IsDir: true, Readable: true}, nil
	}
	data, ok := m.files[path]
	if !ok {
		return Info{}, errNotFound
	}
	return Info{Size: int64(len(data)), Readable: m.mode[path]}, nil
}

// Open implements Backend.
func (m *MemoryBackend) Open(path string) (Content, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[path]
	if !ok {
		return nil, errNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return &memContent{data: cp}, nil
}

type memContent struct{ data []byte }

func (c *memContent) Bytes() []byte { return c.data }
func (c *memContent) Close() error  { return nil }
