// Package attrs merges the attribute layers attached to every outgoing
// event.
package attrs

import (
	"sync"

	"github.com/tidemark-io/tidemark/pkg/rum/attr"
)

// SessionSource supplies the per-call session snapshot.
type SessionSource interface {
	Attributes() map[string]string
}

// Compositor assembles the final attribute map for an event. Layers are
// merged lowest to highest precedence: global, device, session, ambient,
// custom. All values are strings by the time they leave Compose.
type Compositor struct {
	mu      sync.RWMutex
	global  map[string]string
	device  map[string]string
	session SessionSource
	ambient map[string]string
}

// NewCompositor creates a compositor over fixed global and device layers
// and a live session source. The global and device maps are copied.
func NewCompositor(global, device map[string]string, session SessionSource) *Compositor {
	return &Compositor{
		global:  copyMap(global),
		device:  copyMap(device),
		session: session,
		ambient: make(map[string]string),
	}
}

// SetAmbient updates one key in the ambient layer. An empty value removes
// the key.
func (c *Compositor) SetAmbient(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if value == "" {
		delete(c.ambient, key)
		return
	}
	c.ambient[key] = value
}

// Compose merges all layers with custom attributes winning every key
// collision. The session snapshot is recomputed on each call. The result
// is a fresh map owned by the caller.
func (c *Compositor) Compose(custom attr.Map) map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	merged := make(map[string]string, len(c.global)+len(c.device)+len(c.ambient)+len(custom)+8)
	for k, v := range c.global {
		merged[k] = v
	}
	for k, v := range c.device {
		merged[k] = v
	}
	if c.session != nil {
		for k, v := range c.session.Attributes() {
			merged[k] = v
		}
	}
	for k, v := range c.ambient {
		merged[k] = v
	}
	for k, v := range custom.Text() {
		merged[k] = v
	}
	return merged
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
