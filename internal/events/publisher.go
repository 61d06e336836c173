// Package events provides in-process event publishing for waverunner.
// The wave engine and worker supervisor publish; the CLI (or any future
// delivery layer) subscribes.
package events

import "sync"

// AllTasks is the special task ID for subscribing to events of every task.
const AllTasks = "*"

// Publisher defines the interface for event publishing.
type Publisher interface {
	// Publish sends an event to all subscribers of its task.
	Publish(event Event)
	// Subscribe returns a channel receiving events for the given task.
	// Use AllTasks ("*") to receive everything.
	Subscribe(taskID string) <-chan Event
	// Unsubscribe removes a subscription channel.
	Unsubscribe(taskID string, ch <-chan Event)
	// Close shuts down the publisher and all subscriptions.
	Close()
}

// MemoryPublisher is an in-memory implementation of Publisher.
// Publishing is non-blocking: subscribers with full buffers miss events.
type MemoryPublisher struct {
	subscribers map[string][]chan Event
	bufferSize  int
	closed      bool
	mu          sync.RWMutex
}

// NewMemoryPublisher creates a new in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{
		subscribers: make(map[string][]chan Event),
		bufferSize:  256,
	}
}

// Publish sends an event to task-specific and global subscribers.
func (p *MemoryPublisher) Publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}

	for _, ch := range p.subscribers[event.TaskID] {
		select {
		case ch <- event:
		default:
		}
	}
	if event.TaskID != AllTasks {
		for _, ch := range p.subscribers[AllTasks] {
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// Subscribe returns a channel that receives events for the given task.
func (p *MemoryPublisher) Subscribe(taskID string) <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, p.bufferSize)
	p.subscribers[taskID] = append(p.subscribers[taskID], ch)
	return ch
}

// Unsubscribe removes a subscription channel and closes it.
func (p *MemoryPublisher) Unsubscribe(taskID string, ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs := p.subscribers[taskID]
	for i, sub := range subs {
		if sub == ch {
			p.subscribers[taskID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	if len(p.subscribers[taskID]) == 0 {
		delete(p.subscribers, taskID)
	}
}

// Close shuts down the publisher and closes all subscription channels.
func (p *MemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for taskID, subs := range p.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(p.subscribers, taskID)
	}
}

// NopPublisher is a no-op publisher for tests or when events are disabled.
type NopPublisher struct{}

// NewNopPublisher creates a no-op publisher.
func NewNopPublisher() *NopPublisher { return &NopPublisher{} }

// Publish does nothing.
func (p *NopPublisher) Publish(event Event) {}

// Subscribe returns a closed channel.
func (p *NopPublisher) Subscribe(taskID string) <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

// Unsubscribe does nothing.
func (p *NopPublisher) Unsubscribe(taskID string, ch <-chan Event) {}

// Close does nothing.
func (p *NopPublisher) Close() {}
