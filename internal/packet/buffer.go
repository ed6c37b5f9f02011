package packet

import "sync/atomic"

// SharedBuffer is a read-only byte buffer that may be accessed concurrently
// from multiple goroutines. A consumer should process the bytes and
// Release() the buffer as quickly as possible; if it cannot keep up, it
// should copy the bytes locally and release immediately.
//
// Sharing is managed by reference counting: Hold() increments the count,
// Release() decrements it, and the done callback runs when the count
// reaches zero. Nothing else in this module holds a SharedBuffer;
// internal/mux exchanges plain byte slices with its endpoints.
type SharedBuffer struct {
	data []byte

	count int32
	done  func()
}

func NewSharedBuffer(data []byte, count int, done func()) *SharedBuffer {
	return &SharedBuffer{data, int32(count), done}
}

// Bytes returns the underlying byte buffer.
func (buf *SharedBuffer) Bytes() []byte {
	return buf.data
}

// Hold increments the hold count.
func (buf *SharedBuffer) Hold() {
	atomic.AddInt32(&buf.count, 1)
}

// Release decrements the hold count. When it reaches zero, the underlying
// byte buffer is released.
func (buf *SharedBuffer) Release() {
	if buf == nil {
		return
	}
	newCount := atomic.AddInt32(&buf.count, -1)
	if newCount == 0 {
		if buf.done != nil {
			buf.done()
		}
		buf.data = nil
	}
}
