package session

import "sync"

// Dispatcher runs callbacks on the single goroutine that owns UI/data state
type Dispatcher interface {
	// Post schedules fn and never blocks. It returns false once the
	// dispatcher is closed and fn will not run.
	Post(fn func()) bool
}

// EventLoop is a FIFO Dispatcher backed by one goroutine and an unbounded queue
type EventLoop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewEventLoop starts an event loop goroutine
func NewEventLoop() *EventLoop {
	e := &EventLoop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go e.run()
	return e
}

// Post queues fn behind every previously posted function
func (e *EventLoop) Post(fn func()) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.queue = append(e.queue, fn)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return true
}

// Close runs what is already queued, then stops the loop. Safe to call twice.
// Must not be called from a function running on the loop.
func (e *EventLoop) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}
	e.mu.Unlock()
	<-e.done
}

func (e *EventLoop) run() {
	defer close(e.done)

	for range e.wake {
		for {
			e.mu.Lock()
			batch := e.queue
			e.queue = nil
			closed := e.closed
			e.mu.Unlock()

			if len(batch) == 0 {
				if closed {
					return
				}
				break
			}
			for _, fn := range batch {
				fn()
			}
		}
	}
}
