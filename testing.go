package gowebserver

import (
	"sync"

	"github.com/weilai-dev/gowebserver/internal/httpresp"
)

// MockBackend is a call-counting httpresp.Backend double: a small
// in-memory fake that records how many times each method was invoked so
// tests can assert on access patterns, not just on results.
type MockBackend struct {
	mu    sync.Mutex
	inner *httpresp.MemoryBackend

	statCalls int
	openCalls int
}

// NewMockBackend returns an empty MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{inner: httpresp.NewMemoryBackend()}
}

// PutFile registers path with the given readable contents.
func (m *MockBackend) PutFile(path string, data []byte) { m.inner.PutFile(path, data) }

// PutUnreadableFile registers path with contents that report as not
// other-readable, exercising the 403 path.
func (m *MockBackend) PutUnreadableFile(path string, data []byte) {
	m.inner.PutUnreadableFile(path, data)
}

// PutDir registers path as a directory.
func (m *MockBackend) PutDir(path string) { m.inner.PutDir(path) }

// Stat implements httpresp.Backend, recording the call.
func (m *MockBackend) Stat(path string) (httpresp.Info, error) {
	m.mu.Lock()
	m.statCalls++
	m.mu.Unlock()
	return m.inner.Stat(path)
}

// Open implements httpresp.Backend, recording the call.
func (m *MockBackend) Open(path string) (httpresp.Content, error) {
	m.mu.Lock()
	m.openCalls++
	m.mu.Unlock()
	return m.inner.Open(path)
}

// StatCalls reports how many times Stat has been called.
func (m *MockBackend) StatCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statCalls
}

// OpenCalls reports how many times Open has been called.
func (m *MockBackend) OpenCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCalls
}

// ResetCounts zeroes the call counters without clearing registered files.
func (m *MockBackend) ResetCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statCalls, m.openCalls = 0, 0
}

var _ httpresp.Backend = (*MockBackend)(nil)
