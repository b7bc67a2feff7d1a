package httpbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndRetrieve(t *testing.T) {
	b := New()
	b.Append([]byte("hello"))
	require.Equal(t, 5, b.ReadableBytes())
	assert.Equal(t, "hello", string(b.Peek()))

	b.Retrieve(2)
	assert.Equal(t, "llo", string(b.Peek()))
	assert.Equal(t, "llo", b.RetrieveAllString())
	assert.Equal(t, 0, b.ReadableBytes())
}

func TestEnsureWritableGrows(t *testing.T) {
	b := NewSize(4)
	b.Append([]byte("abcd"))
	before := b.ReadableBytes()
	b.Append([]byte("more data that does not fit"))
	assert.Greater(t, b.ReadableBytes(), before)
	assert.Equal(t, "abcdmore data that does not fit", string(b.Peek()))
}

func TestEnsureWritableCompacts(t *testing.T) {
	b := NewSize(16)
	b.Append([]byte("0123456789abcdef"))
	b.Retrieve(10)
	require.Equal(t, 6, b.ReadableBytes())
	// Writable space alone is insufficient but prependable+writable is,
	// so EnsureWritable should compact in place rather than reallocate.
	b.EnsureWritable(10)
	assert.Equal(t, "abcdef", string(b.Peek()))
}

func TestWriteSliceHasWritten(t *testing.T) {
	b := NewSize(32)
	ws := b.WriteSlice()
	n := copy(ws, "payload")
	b.HasWritten(n)
	assert.Equal(t, "payload", string(b.Peek()))
}

func TestIndexCRLF(t *testing.T) {
	b := New()
	b.Append([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	idx := b.IndexCRLF()
	require.NotEqual(t, -1, idx)
	assert.Equal(t, "GET / HTTP/1.1", string(b.Peek()[:idx]))
}

func TestPrepend(t *testing.T) {
	b := New()
	b.Append([]byte("world"))
	b.Prepend([]byte("hello "))
	assert.Equal(t, "hello world", string(b.Peek()))
}

func TestRetrieveUntil(t *testing.T) {
	b := New()
	b.Append([]byte("GET / HTTP/1.1\r\nrest"))
	idx := b.IndexCRLF()
	require.NotEqual(t, -1, idx)
	b.RetrieveUntil(b.Peek()[idx+2:])
	assert.Equal(t, "rest", string(b.Peek()))
}

func TestRetrieveAsString(t *testing.T) {
	b := New()
	b.Append([]byte("abcdef"))
	s := b.RetrieveAsString(3)
	assert.Equal(t, "abc", s)
	assert.Equal(t, "def", string(b.Peek()))
}
