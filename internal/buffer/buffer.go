// Package buffer provides the per-side command buffer: an unbounded FIFO of
// closures drained by a single consumer goroutine. Everything a broker side
// does to its services runs through one buffer, so per-side service state
// needs no further locking.
package buffer

import "sync"

// CommandBuffer is a single-consumer FIFO of closures.
type CommandBuffer struct {
	mu    sync.Mutex
	cond  *sync.Cond
	queue []func()
	run   bool
	done  chan struct{}
}

// New creates a command buffer and starts its consumer.
func New() *CommandBuffer {
	b := &CommandBuffer{run: true, done: make(chan struct{})}
	b.cond = sync.NewCond(&b.mu)
	go b.process()
	return b
}

// Push appends a command. Pushes after Stop are dropped.
func (b *CommandBuffer) Push(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.run {
		return
	}
	b.queue = append(b.queue, fn)
	b.cond.Signal()
}

// Stop shuts the consumer down and waits for it to finish the command it is
// running. Queued commands that have not started are discarded.
func (b *CommandBuffer) Stop() {
	b.mu.Lock()
	if !b.run {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.run = false
	b.cond.Broadcast()
	b.mu.Unlock()
	<-b.done
}

func (b *CommandBuffer) process() {
	defer close(b.done)
	b.mu.Lock()
	for {
		for b.run && len(b.queue) == 0 {
			b.cond.Wait()
		}
		if !b.run {
			b.mu.Unlock()
			return
		}
		fn := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()
		fn()
		b.mu.Lock()
	}
}
