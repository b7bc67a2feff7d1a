// Package timer implements the indexed min-heap used to evict idle
// connections: a binary heap ordered by deadline, plus an id->index map
// maintained in lock-step so a specific connection's timer can be found
// and adjusted without scanning the heap. It is not safe for concurrent
// use; the reactor event loop is its only caller.
package timer

import "time"

// Callback is invoked when a timer fires.
type Callback func()

type node struct {
	id     int
	expire time.Time
	cb     Callback
}

// Heap is an indexed min-heap of per-connection deadlines.
type Heap struct {
	nodes []node
	index map[int]int // id -> position in nodes
}

// New returns an empty Heap.
func New() *Heap {
	return &Heap{
		nodes: make([]node, 0, 64),
		index: make(map[int]int),
	}
}

// Add schedules id to fire after timeout. If id is already scheduled,
// its deadline and callback are overwritten in place WITHOUT re-sifting
// the heap: calling Add again for a live connection id does not change
// its position in the heap, only Adjust does. Callers that need the
// heap order corrected after changing a deadline must call Adjust, not
// Add.
func (h *Heap) Add(id int, timeout time.Duration, cb Callback) {
	if i, ok := h.index[id]; ok {
		h.nodes[i].expire = time.Now().Add(timeout)
		h.nodes[i].cb = cb
		return
	}
	i := len(h.nodes)
	h.index[id] = i
	h.nodes = append(h.nodes, node{id: id, expire: time.Now().Add(timeout), cb: cb})
	h.siftUp(i)
}

// Adjust updates id's deadline and restores heap order. It is a no-op if
// id is not currently scheduled.
func (h *Heap) Adjust(id int, timeout time.Duration) {
	i, ok := h.index[id]
	if !ok {
		return
	}
	h.nodes[i].expire = time.Now().Add(timeout)
	h.siftDown(i)
}

// DoWork fires id's callback immediately and removes it from the heap.
// It is a no-op if id is not currently scheduled.
func (h *Heap) DoWork(id int) {
	i, ok := h.index[id]
	if !ok {
		return
	}
	cb := h.nodes[i].cb
	h.delete(i)
	if cb != nil {
		cb()
	}
}

// Remove drops id from the heap without invoking its callback. It is a
// no-op if id is not currently scheduled.
func (h *Heap) Remove(id int) {
	i, ok := h.index[id]
	if !ok {
		return
	}
	h.delete(i)
}

// Len reports how many timers are currently scheduled.
func (h *Heap) Len() int { return len(h.nodes) }

// Tick fires and removes every timer whose deadline has passed.
func (h *Heap) Tick() {
	now := time.Now()
	for len(h.nodes) > 0 {
		n := h.nodes[0]
		if n.expire.After(now) {
			break
		}
		cb := n.cb
		h.pop()
		if cb != nil {
			cb()
		}
	}
}

// NextTick calls Tick, then reports how many milliseconds until the next
// deadline. It returns -1 if the heap is empty and 0 if a timer is
// already due (which Tick will have just fired).
func (h *Heap) NextTick() int {
	h.Tick()
	if len(h.nodes) == 0 {
		return -1
	}
	ms := int(time.Until(h.nodes[0].expire) / time.Millisecond)
	if ms < 0 {
		ms = 0
	}
	return ms
}

func (h *Heap) pop() {
	h.delete(0)
}

func (h *Heap) delete(i int) {
	last := len(h.nodes) - 1
	h.swap(i, last)
	delete(h.index, h.nodes[last].id)
	h.nodes = h.nodes[:last]
	if i < len(h.nodes) {
		h.siftUp(i)
		h.siftDown(i)
	}
}

func (h *Heap) siftUp(i int) {
	for i > 0 {
		j := (i - 1) / 2
		if !h.nodes[i].expire.Before(h.nodes[j].expire) {
			break
		}
		h.swap(i, j)
		i = j
	}
}

func (h *Heap) siftDown(i int) {
	n := len(h.nodes)
	for {
		j := i*2 + 1
		if j >= n {
			break
		}
		if j+1 < n && h.nodes[j+1].expire.Before(h.nodes[j].expire) {
			j++
		}
		if !h.nodes[j].expire.Before(h.nodes[i].expire) {
			break
		}
		h.swap(i, j)
		i = j
	}
}

func (h *Heap) swap(i, j int) {
	h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i]
	h.index[h.nodes[i].id] = i
	h.index[h.nodes[j].id] = j
}
