// Package store holds the in-process caches that bridge the conversation
// driver and the evaluators: finished-session traces and the mapping from
// dataset input to session id.
package store

import (
	"sync"

	"github.com/BaSui01/agenteval/trace"
)

// SessionCache maps a session id to the completed traces the synchronizer
// discovered for it. Writes are first-wins: once a session's traces are
// recorded they are immutable, so concurrent evaluators always read the
// same snapshot.
type SessionCache struct {
	mu     sync.RWMutex
	traces map[string][]trace.Trace
}

// NewSessionCache creates an empty cache.
func NewSessionCache() *SessionCache {
	return &SessionCache{traces: make(map[string][]trace.Trace)}
}

// Put records the traces for a session. A second write to the same session
// id is ignored.
func (c *SessionCache) Put(sessionID string, traces []trace.Trace) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.traces[sessionID]; exists {
		return
	}
	c.traces[sessionID] = traces
}

// Get returns the cached traces and whether the session is present.
func (c *SessionCache) Get(sessionID string) ([]trace.Trace, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	traces, ok := c.traces[sessionID]
	return traces, ok
}

// Len returns the number of cached sessions.
func (c *SessionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.traces)
}

// InputSessionMap maps a serialized dataset input to the session id its
// conversation produced. First-wins, same as SessionCache.
type InputSessionMap struct {
	mu       sync.RWMutex
	sessions map[string]string
}

// NewInputSessionMap creates an empty map.
func NewInputSessionMap() *InputSessionMap {
	return &InputSessionMap{sessions: make(map[string]string)}
}

// Put records the session id for an input key.
func (m *InputSessionMap) Put(inputKey, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[inputKey]; exists {
		return
	}
	m.sessions[inputKey] = sessionID
}

// Get returns the session id for an input key.
func (m *InputSessionMap) Get(inputKey string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.sessions[inputKey]
	return id, ok
}
