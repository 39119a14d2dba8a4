package core

import "sync"

// Context is the mutable key/value store owned exclusively by one machine
// instance. Guards read it, actions mutate it. It is never shared across
// instances except via explicit event payloads. The mutex makes snapshot
// queries safe while a macrostep is running on the owning mailbox goroutine.
type Context struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewContext creates an empty context.
func NewContext() *Context {
	return &Context{data: make(map[string]any)}
}

// Get retrieves a value by key. Returns nil if the key does not exist.
func (c *Context) Get(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data[key]
}

// GetString retrieves a string value by key; absent or non-string keys yield "".
func (c *Context) GetString(key string) string {
	s, _ := c.Get(key).(string)
	return s
}

// Has reports whether the key is present.
func (c *Context) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.data[key]
	return ok
}

// Set stores a value by key.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

// Delete removes a key from the context.
func (c *Context) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// Snapshot returns a defensive copy of all data. Modifications to the returned
// map do not affect the context.
func (c *Context) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(map[string]any, len(c.data))
	for k, v := range c.data {
		snapshot[k] = v
	}
	return snapshot
}

// Restore atomically replaces all data, discarding previous content. Used by
// the engine to roll back a macrostep that exceeded the iteration cap.
func (c *Context) Restore(data map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]any, len(data))
	for k, v := range data {
		c.data[k] = v
	}
}
