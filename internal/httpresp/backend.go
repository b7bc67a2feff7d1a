package httpresp

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Info is the subset of file metadata the response builder needs.
type Info struct {
	Size  int64
	IsDir bool
	// Readable reports whether the file's "other" permission bit grants
	// read access.
	Readable bool
}

// Content is an opened file's bytes, released by Close.
type Content interface {
	Bytes() []byte
	Close() error
}

// Backend abstracts the filesystem the response builder serves from, so
// tests can exercise it against an in-memory root instead of real files.
type Backend interface {
	Stat(path string) (Info, error)
	Open(path string) (Content, error)
}

// OSBackend serves files from a real directory root, using mmap to back
// the response content.
type OSBackend struct {
	Root string
}

// NewOSBackend returns a Backend rooted at dir.
func NewOSBackend(dir string) *OSBackend {
	return &OSBackend{Root: dir}
}

func (b *OSBackend) resolve(path string) string {
	return filepath.Join(b.Root, filepath.Clean("/"+path))
}

// Stat implements Backend.
func (b *OSBackend) Stat(path string) (Info, error) {
	fi, err := os.Stat(b.resolve(path))
	if err != nil {
		return Info{}, err
	}
	return Info{
		Size:     fi.Size(),
		IsDir:    fi.IsDir(),
		Readable: fi.Mode().Perm()&0o004 != 0,
	}, nil
}

// Open implements Backend, mmap'ing the resolved file read-only,
// private-mapped (PROT_READ|MAP_PRIVATE).
func (b *OSBackend) Open(path string) (Content, error) {
	f, err := os.Open(b.resolve(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		// mmap of a zero-length file is invalid; serve an empty body.
		return &mmapContent{data: nil}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("httpresp: mmap: %w", err)
	}
	return &mmapContent{data: data}, nil
}

type mmapContent struct {
	data []byte
}

func (c *mmapContent) Bytes() []byte { return c.data }

func (c *mmapContent) Close() error {
	if c.data == nil {
		return nil
	}
	return unix.Munmap(c.data)
}
