package bridge

import "sync"

// frameQueue is a bounded FIFO of audio frames with a drop-oldest overflow
// policy. Voice tolerates brief loss far better than unbounded latency, so a
// full queue sheds the oldest frame rather than blocking the producer.
// Safe for one producer and one consumer running concurrently.
type frameQueue struct {
	mu       sync.Mutex
	frames   [][]byte
	max      int
	closed   bool
	notEmpty chan struct{}
}

func newFrameQueue(max int) *frameQueue {
	if max <= 0 {
		max = 64
	}
	return &frameQueue{
		max:      max,
		notEmpty: make(chan struct{}, 1),
	}
}

// Push appends frame, evicting the oldest entry when full. Reports whether
// an eviction happened. Pushing to a closed queue is a no-op.
func (q *frameQueue) Push(frame []byte) (dropped bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if len(q.frames) >= q.max {
		q.frames = q.frames[1:]
		dropped = true
	}
	q.frames = append(q.frames, frame)
	q.mu.Unlock()

	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
	return dropped
}

// Pop removes and returns the oldest frame, blocking until one is available,
// the queue is closed, or done is closed. ok is false when no frame will
// ever arrive.
func (q *frameQueue) Pop(done <-chan struct{}) (frame []byte, ok bool) {
	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			frame = q.frames[0]
			q.frames = q.frames[1:]
			more := len(q.frames) > 0
			q.mu.Unlock()
			if more {
				select {
				case q.notEmpty <- struct{}{}:
				default:
				}
			}
			return frame, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()

		select {
		case <-q.notEmpty:
		case <-done:
			return nil, false
		}
	}
}

// Clear discards all queued frames and returns how many were dropped.
func (q *frameQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.frames)
	q.frames = nil
	return n
}

// Close wakes any blocked Pop. Frames already queued are still drained.
func (q *frameQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
}
