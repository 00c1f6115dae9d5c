package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

const sinkBuffer = 1024

// sink writes encoded lines to its outputs from a single goroutine. When the
// buffer is full the line is counted and dropped so logging never blocks a
// handler.
type sink struct {
	outs    []io.Writer
	lines   chan []byte
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

func newSink(outs []io.Writer) *sink {
	s := &sink{
		outs:  outs,
		lines: make(chan []byte, sinkBuffer),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *sink) run() {
	defer close(s.done)
	for line := range s.lines {
		for _, w := range s.outs {
			_, _ = w.Write(line)
		}
	}
	if n := s.dropped.Load(); n > 0 {
		fmt.Fprintf(os.Stderr, "logger: dropped %d lines\n", n)
	}
}

// Write queues a copy of p.
func (s *sink) Write(p []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	line := append([]byte(nil), p...)
	select {
	case s.lines <- line:
	default:
		s.dropped.Add(1)
	}
	return len(p), nil
}

// Close flushes queued lines and stops the writer goroutine.
func (s *sink) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.lines)
	}
	s.mu.Unlock()
	<-s.done
	return nil
}
