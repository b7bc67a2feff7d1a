package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubmitRunsTasks(t *testing.T) {
	p := New(4)
	defer p.Close()

	var n atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			n.Add(1)
		})
	}
	wg.Wait()
	assert.Equal(t, int64(100), n.Load())
}

func TestCloseDrainsQueuedTasks(t *testing.T) {
	p := New(2)

	var n atomic.Int64
	block := make(chan struct{})
	p.Submit(func() { <-block })
	for i := 0; i < 10; i++ {
		p.Submit(func() { n.Add(1) })
	}
	close(block)
	p.Close()
	assert.Equal(t, int64(10), n.Load())
}

func TestSubmitAfterCloseIsNoop(t *testing.T) {
	p := New(2)
	p.Close()

	var called atomic.Bool
	p.Submit(func() { called.Store(true) })
	time.Sleep(20 * time.Millisecond)
	assert.False(t, called.Load())
}

func TestSizeReportsWorkerCount(t *testing.T) {
	p := New(5)
	defer p.Close()
	assert.Equal(t, 5, p.Size())
}
