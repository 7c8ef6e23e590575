package audio

import (
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by reads on a closed stream.
var ErrClosed = errors.New("audio: stream closed")

// pcmQueue is a bounded byte FIFO between a producer (device callback or
// feeder goroutine) and a single blocking reader.
type pcmQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	max     int
	stopped bool
	closed  bool
	dropped int
	onDrop  func(n int)
}

func newPCMQueue(maxBytes int, onDrop func(int)) *pcmQueue {
	q := &pcmQueue{max: maxBytes, onDrop: onDrop}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends a frame. Frames that arrive after stop, or that would
// overflow the queue, are discarded whole.
func (q *pcmQueue) push(frame []byte) bool {
	if len(frame) == 0 {
		return true
	}
	q.mu.Lock()
	if q.stopped || q.closed {
		q.mu.Unlock()
		return false
	}
	if q.max > 0 && len(q.buf)+len(frame) > q.max {
		q.dropped += len(frame)
		onDrop := q.onDrop
		q.mu.Unlock()
		if onDrop != nil {
			onDrop(len(frame))
		}
		return false
	}
	q.buf = append(q.buf, frame...)
	q.mu.Unlock()
	q.cond.Signal()
	return true
}

func (q *pcmQueue) Read(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.buf) == 0 && !q.stopped && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return 0, ErrClosed
	}
	if len(q.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, q.buf)
	q.buf = q.buf[n:]
	if len(q.buf) == 0 {
		q.buf = nil
	}
	return n, nil
}

func (q *pcmQueue) stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *pcmQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.buf = nil
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *pcmQueue) droppedBytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
