package reactor

import "sync"

// extraSpaceSize is the size of the spillover buffer used alongside each
// connection's own read buffer in a readv-style scatter read. Spillover
// buffers are pooled rather than stack-allocated (Go has no cheap
// per-call stack array of this size); the *[]byte indirection avoids
// sync.Pool's interface-boxing allocation.
const extraSpaceSize = 65536

var extraSpacePool = sync.Pool{
	New: func() any {
		b := make([]byte, extraSpaceSize)
		return &b
	},
}

// getExtraSpace returns a pooled spillover buffer. Callers must return it
// with putExtraSpace when done with the read.
func getExtraSpace() []byte {
	return (*extraSpacePool.Get().(*[]byte))[:extraSpaceSize]
}

// putExtraSpace returns a spillover buffer to the pool. Buffers whose
// capacity was altered by the caller are dropped rather than pooled.
func putExtraSpace(buf []byte) {
	if cap(buf) != extraSpaceSize {
		return
	}
	buf = buf[:extraSpaceSize]
	extraSpacePool.Put(&buf)
}
