package notifications

import "sync"

// Handler receives a published event.
type Handler[T any] func(T)

// Registry is an ordered set of subscribers for events of type T. The zero
// value is ready to use.
//
// Handlers run while the registry lock is held. A handler must not subscribe
// to, unsubscribe from, or publish on the same registry.
type Registry[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription[T]
}

type subscription[T any] struct {
	id uint64
	fn Handler[T]
}

// Subscribe appends fn to the subscriber list and returns a function that
// removes it. Calling the returned function more than once is a no-op.
func (r *Registry[T]) Subscribe(fn Handler[T]) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs = append(r.subs, subscription[T]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Registry[T]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, sub := range r.subs {
		if sub.id == id {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers event to every subscriber in registration order.
func (r *Registry[T]) Publish(event T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		sub.fn(event)
	}
}

// Len reports the number of active subscribers.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
