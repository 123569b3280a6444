package bridge

import (
	"testing"
	"time"
)

func TestFrameQueue_FIFO(t *testing.T) {
	q := newFrameQueue(8)
	done := make(chan struct{})

	for _, b := range []byte{1, 2, 3} {
		q.Push([]byte{b})
	}
	for _, want := range []byte{1, 2, 3} {
		frame, ok := q.Pop(done)
		if !ok {
			t.Fatal("Pop returned !ok with frames queued")
		}
		if frame[0] != want {
			t.Errorf("Pop = %d, want %d", frame[0], want)
		}
	}
}

func TestFrameQueue_DropOldestOnOverflow(t *testing.T) {
	q := newFrameQueue(2)
	done := make(chan struct{})

	if q.Push([]byte{1}) || q.Push([]byte{2}) {
		t.Fatal("Push dropped below capacity")
	}
	if !q.Push([]byte{3}) {
		t.Fatal("Push at capacity did not report a drop")
	}

	frame, _ := q.Pop(done)
	if frame[0] != 2 {
		t.Errorf("oldest surviving frame = %d, want 2", frame[0])
	}
	frame, _ = q.Pop(done)
	if frame[0] != 3 {
		t.Errorf("next frame = %d, want 3", frame[0])
	}
}

func TestFrameQueue_Clear(t *testing.T) {
	q := newFrameQueue(8)
	q.Push([]byte{1})
	q.Push([]byte{2})

	if n := q.Clear(); n != 2 {
		t.Errorf("Clear() = %d, want 2", n)
	}

	q.Push([]byte{3})
	frame, ok := q.Pop(make(chan struct{}))
	if !ok || frame[0] != 3 {
		t.Errorf("Pop after Clear = %v, %v; want [3], true", frame, ok)
	}
}

func TestFrameQueue_PopBlocksUntilPush(t *testing.T) {
	q := newFrameQueue(8)
	done := make(chan struct{})

	got := make(chan []byte, 1)
	go func() {
		frame, _ := q.Pop(done)
		got <- frame
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push([]byte{42})

	select {
	case frame := <-got:
		if frame[0] != 42 {
			t.Errorf("Pop = %d, want 42", frame[0])
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake on Push")
	}
}

func TestFrameQueue_CloseDrainsThenEnds(t *testing.T) {
	q := newFrameQueue(8)
	done := make(chan struct{})

	q.Push([]byte{1})
	q.Close()

	if _, ok := q.Pop(done); !ok {
		t.Fatal("queued frame lost on Close")
	}
	if _, ok := q.Pop(done); ok {
		t.Fatal("Pop returned ok on a closed empty queue")
	}
	if q.Push([]byte{2}) {
		t.Error("Push on closed queue reported a drop")
	}
	if _, ok := q.Pop(done); ok {
		t.Error("Push after Close delivered a frame")
	}
}

func TestFrameQueue_PopUnblocksOnDone(t *testing.T) {
	q := newFrameQueue(8)
	done := make(chan struct{})

	ended := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(done)
		ended <- ok
	}()

	close(done)

	select {
	case ok := <-ended:
		if ok {
			t.Error("Pop reported ok after done closed")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock on done")
	}
}
