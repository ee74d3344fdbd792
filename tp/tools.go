package tp

// FramePool is a fixed set of frame slots. Acquire and Release are O(1) and
// never allocate; a slot is either free or in use, and an in-use slot is
// never handed out again until released.
type FramePool struct {
	frames []Frame
	used   []bool
	free   []int // stack of free slot indices
}

func NewFramePool(capacity int) *FramePool {
	p := &FramePool{
		frames: make([]Frame, capacity),
		used:   make([]bool, capacity),
		free:   make([]int, 0, capacity),
	}
	p.Reset()
	return p
}

// Acquire returns the index of a free slot and marks it in use.
func (p *FramePool) Acquire() (int, error) {
	n := len(p.free)
	if n == 0 {
		return -1, PoolExhaustedError{}
	}
	i := p.free[n-1]
	p.free = p.free[:n-1]
	p.used[i] = true
	return i, nil
}

// Release clears slot i and returns it to the pool. Releasing a free or
// out-of-range slot does nothing.
func (p *FramePool) Release(i int) {
	if i < 0 || i >= len(p.used) || !p.used[i] {
		return
	}
	p.used[i] = false
	p.frames[i] = Frame{}
	p.free = append(p.free, i)
}

// Frame returns the frame stored in slot i.
func (p *FramePool) Frame(i int) *Frame {
	return &p.frames[i]
}

// InUse reports whether slot i is currently acquired.
func (p *FramePool) InUse(i int) bool {
	return i >= 0 && i < len(p.used) && p.used[i]
}

func (p *FramePool) Available() int {
	return len(p.free)
}

func (p *FramePool) Cap() int {
	return len(p.frames)
}

// Reset frees every slot.
func (p *FramePool) Reset() {
	p.free = p.free[:0]
	for i := len(p.frames) - 1; i >= 0; i-- {
		p.frames[i] = Frame{}
		p.used[i] = false
		p.free = append(p.free, i)
	}
}

// txEntry is one queued frame: a pool slot plus whether it ends its message.
type txEntry struct {
	slot int
	last bool
}

// txQueue is a FIFO ring of pool slots awaiting the driver.
type txQueue struct {
	entries []txEntry
	head    int
	count   int
}

func newTxQueue(capacity int) *txQueue {
	return &txQueue{entries: make([]txEntry, capacity)}
}

func (q *txQueue) push(e txEntry) bool {
	if q.count == len(q.entries) {
		return false
	}
	q.entries[(q.head+q.count)%len(q.entries)] = e
	q.count++
	return true
}

func (q *txQueue) pop() (txEntry, bool) {
	if q.count == 0 {
		return txEntry{}, false
	}
	e := q.entries[q.head]
	q.head = (q.head + 1) % len(q.entries)
	q.count--
	return e, true
}

func (q *txQueue) len() int {
	return q.count
}

func (q *txQueue) reset() {
	q.head = 0
	q.count = 0
}

// dispatchEntry holds one complete inbound message in a preallocated buffer.
type dispatchEntry struct {
	source NodeID
	size   int
	buf    []byte
}

// dispatchQueue is the bounded FIFO of complete messages awaiting Recv.
type dispatchQueue struct {
	entries []dispatchEntry
	head    int
	count   int
}

func newDispatchQueue(length, maxMessageSize int) *dispatchQueue {
	q := &dispatchQueue{entries: make([]dispatchEntry, length)}
	for i := range q.entries {
		q.entries[i].buf = make([]byte, maxMessageSize)
	}
	return q
}

// push copies data into the next free entry. It reports false when full.
func (q *dispatchQueue) push(source NodeID, data []byte) bool {
	if q.count == len(q.entries) {
		return false
	}
	e := &q.entries[(q.head+q.count)%len(q.entries)]
	e.source = source
	e.size = copy(e.buf, data)
	q.count++
	return true
}

// peek returns the oldest entry without removing it.
func (q *dispatchQueue) peek() (*dispatchEntry, bool) {
	if q.count == 0 {
		return nil, false
	}
	return &q.entries[q.head], true
}

// drop frees the oldest entry.
func (q *dispatchQueue) drop() {
	if q.count == 0 {
		return
	}
	q.entries[q.head].size = 0
	q.head = (q.head + 1) % len(q.entries)
	q.count--
}

func (q *dispatchQueue) len() int {
	return q.count
}

func (q *dispatchQueue) reset() {
	for i := range q.entries {
		q.entries[i].size = 0
	}
	q.head = 0
	q.count = 0
}
