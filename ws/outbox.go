package ws

import "sync"

// Outbox is a session's bounded outbound queue.
//
// Concurrency model: one mutex guards the queue, the writing flag and the
// closed flag.  Enqueue is O(1) and never blocks the caller; the actual
// socket write happens on a drain goroutine started by the enqueue that
// finds no write in flight.  The writing flag guarantees at most one drain
// goroutine at a time, so frames leave the socket in enqueue order.
//
// Backpressure: when the queue is full the oldest frame is dropped to make
// room.  The first drop marks the session as a slow peer; every drop is
// counted.  A write error closes the outbox permanently and reports the
// error once.
type Outbox struct {
	mu      sync.Mutex
	frames  [][]byte
	limit   int
	writing bool
	closed  bool
	slow    bool

	write   func([]byte) error
	onDrop  func()
	onSlow  func()
	onError func(error)
}

// NewOutbox creates an Outbox that transmits frames through write.  The
// callbacks are optional; onError fires at most once, off the caller's
// goroutine, when a write fails.
func NewOutbox(limit int, write func([]byte) error, onDrop, onSlow func(), onError func(error)) *Outbox {
	if limit <= 0 {
		limit = 1
	}
	return &Outbox{
		limit:   limit,
		write:   write,
		onDrop:  onDrop,
		onSlow:  onSlow,
		onError: onError,
	}
}

// Enqueue appends frame and starts a drain if none is in flight.  Frames
// enqueued after Close are discarded.
func (o *Outbox) Enqueue(frame []byte) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}

	if len(o.frames) >= o.limit {
		// Drop-oldest: the freshest frame is the one worth delivering.
		o.frames = o.frames[1:]
		if o.onDrop != nil {
			o.onDrop()
		}
		if !o.slow {
			o.slow = true
			if o.onSlow != nil {
				o.onSlow()
			}
		}
	}
	o.frames = append(o.frames, frame)

	start := !o.writing
	if start {
		o.writing = true
	}
	o.mu.Unlock()

	if start {
		go o.drain()
	}
}

// drain pops and writes frames until the queue empties or a write fails.
// The socket write happens outside the lock so a slow peer never blocks
// enqueuers.
func (o *Outbox) drain() {
	for {
		o.mu.Lock()
		if o.closed || len(o.frames) == 0 {
			o.writing = false
			o.mu.Unlock()
			return
		}
		frame := o.frames[0]
		o.frames = o.frames[1:]
		o.mu.Unlock()

		if err := o.write(frame); err != nil {
			o.mu.Lock()
			alreadyClosed := o.closed
			o.closed = true
			o.writing = false
			o.frames = nil
			o.mu.Unlock()
			if !alreadyClosed && o.onError != nil {
				o.onError(err)
			}
			return
		}
	}
}

// Close discards queued frames and rejects future enqueues.  Idempotent.
func (o *Outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.frames = nil
	o.mu.Unlock()
}

// Queued returns the number of frames waiting to be written.
func (o *Outbox) Queued() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.frames)
}

// SlowPeer reports whether this session has ever had a frame dropped.
func (o *Outbox) SlowPeer() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.slow
}
