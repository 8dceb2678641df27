package ask

import (
	"io"
	"sync"
)

// item is one streamed fragment or the terminal error.
type item struct {
	frag string
	err  error
}

// Stream is a pull-based answer stream. Recv returns fragments until io.EOF
// or a terminal error. Close releases the consumer; the producer keeps
// draining the provider so a finished answer still lands in the query cache.
type Stream struct {
	items     chan item
	closed    chan struct{}
	closeOnce sync.Once

	cached bool // answer came from the query cache
}

func newStream() *Stream {
	return &Stream{
		items:  make(chan item),
		closed: make(chan struct{}),
	}
}

// newCachedStream yields the whole cached answer as a single fragment.
func newCachedStream(answer string) *Stream {
	s := newStream()
	s.cached = true
	go func() {
		s.send(item{frag: answer})
		s.send(item{err: io.EOF})
		close(s.items)
	}()
	return s
}

// Recv returns the next fragment. io.EOF marks a complete answer.
func (s *Stream) Recv() (string, error) {
	it, ok := <-s.items
	if !ok {
		return "", io.EOF
	}
	if it.err != nil {
		return "", it.err
	}
	return it.frag, nil
}

// Close stops delivery to the consumer. Always returns nil.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Cached reports whether the answer was served from the query cache.
func (s *Stream) Cached() bool {
	return s.cached
}

// send delivers an item unless the consumer has closed the stream.
func (s *Stream) send(it item) bool {
	select {
	case s.items <- it:
		return true
	case <-s.closed:
		return false
	}
}
