package chirp

import (
	"fmt"
	"sync"
)

// cacheKey addresses one cached entity set: the conversation list or one page
// of one conversation's messages.
type cacheKey string

func conversationsKey() cacheKey {
	return "conversations"
}

func messagesKey(conversationID string, page int) cacheKey {
	return cacheKey(fmt.Sprintf("messages/%s/%d", conversationID, page))
}

// sessionCache is the single store of fetched messaging entities for one
// authenticated session. update is the only mutation primitive; every
// higher-level operation (append message, update last message, mark read) is
// expressed as one update call so multi-step transitions stay atomic.
type sessionCache struct {
	mu      sync.Mutex
	entries map[cacheKey]any
}

func newSessionCache() *sessionCache {
	return &sessionCache{entries: make(map[cacheKey]any)}
}

// read returns the current value at key, or false when absent.
func (c *sessionCache) read(key cacheKey) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

// update applies fn to the value at key and stores the result. fn receives
// nil when the key is absent; returning nil leaves the store unchanged.
// Updates for the same key are serialized in call order, so two back-to-back
// mutations (a confirmed send and its realtime echo) can never lose writes.
func (c *sessionCache) update(key cacheKey, fn func(old any) any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := fn(c.entries[key])
	if next == nil {
		return
	}
	c.entries[key] = next
}

// invalidate removes the entry at key, forcing the next read to refetch.
func (c *sessionCache) invalidate(key cacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// clear wipes the whole store, used on logout.
func (c *sessionCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[cacheKey]any)
}
