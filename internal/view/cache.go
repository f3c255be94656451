// Package view is the cache/query surface rendering code observes. The
// mutation coordinator and the push reconciler publish through SetData and
// Invalidate; watchers get a coalesced wake-up per key and re-read whatever
// store they render from.
package view

import "sync"

func MessagesKey(roomID string) string { return "messages:" + roomID }
func TypingKey(roomID string) string   { return "typing:" + roomID }

const PresenceKey = "presence"

type Cache struct {
	mu       sync.RWMutex
	data     map[string]any
	watchers map[string][]chan struct{}
}

func NewCache() *Cache {
	return &Cache{
		data:     make(map[string]any),
		watchers: make(map[string][]chan struct{}),
	}
}

func (c *Cache) SetData(key string, value any) {
	c.mu.Lock()
	c.data[key] = value
	watchers := c.watchers[key]
	c.mu.Unlock()
	notify(watchers)
}

// Invalidate drops the cached value and wakes watchers so they re-read.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.data, key)
	watchers := c.watchers[key]
	c.mu.Unlock()
	notify(watchers)
}

func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// Watch returns a channel that receives a signal whenever the key is set or
// invalidated, plus a cancel func that unregisters it. Signals coalesce: a
// slow watcher sees at least one. Callers that stop watching a key, such as
// a renderer leaving a room, must cancel or the watcher list keeps growing.
func (c *Cache) Watch(key string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.watchers[key] = append(c.watchers[key], ch)
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		list := c.watchers[key]
		for i, w := range list {
			if w == ch {
				c.watchers[key] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(c.watchers[key]) == 0 {
			delete(c.watchers, key)
		}
	}
	return ch, cancel
}

func notify(watchers []chan struct{}) {
	for _, ch := range watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
