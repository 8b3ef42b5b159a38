package runtime

import (
	"bytes"
	"sync"
)

// boundedBuffer is an io.Writer that stops accumulating once it has
// captured more than limit bytes, closing overflow exactly once so a
// caller can select on it to learn the budget was crossed. limit <= 0 means unbounded.
type boundedBuffer struct {
	limit int64

	mu       sync.Mutex
	buf      bytes.Buffer
	crossed  bool
	overflow chan struct{}
	once     sync.Once
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit > 0 && int64(b.buf.Len()) >= b.limit {
		if !b.crossed {
			b.crossed = true
			b.signal()
		}
		return len(p), nil // swallow past the cap; process gets killed shortly
	}

	n, err := b.buf.Write(p)
	if b.limit > 0 && int64(b.buf.Len()) > b.limit {
		b.buf.Truncate(int(b.limit))
		b.crossed = true
		b.signal()
	}
	return n, err
}

func (b *boundedBuffer) signal() {
	b.once.Do(func() {
		if b.overflow != nil {
			close(b.overflow)
		}
	})
}

func (b *boundedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

func (b *boundedBuffer) overflowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.crossed
}

// stopOnOverflow returns a channel closed as soon as either buffer
// first crosses its byte budget, lazily allocating each buffer's own
// overflow channel.
func stopOnOverflow(bufs ...*boundedBuffer) <-chan struct{} {
	merged := make(chan struct{})
	var once sync.Once
	for _, b := range bufs {
		b.mu.Lock()
		if b.overflow == nil {
			b.overflow = make(chan struct{})
		}
		ch := b.overflow
		already := b.crossed
		b.mu.Unlock()
		if already {
			once.Do(func() { close(merged) })
			continue
		}
		go func(ch chan struct{}) {
			<-ch
			once.Do(func() { close(merged) })
		}(ch)
	}
	return merged
}
