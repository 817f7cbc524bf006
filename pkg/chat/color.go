package chat

import "sync"

// palette mirrors the accent colors used by renderers. Assignment is a pure
// function of the user id so every client derives the same color.
var palette = []string{
	"#6366f1", "#8b5cf6", "#ec4899", "#f43f5e", "#ef4444",
	"#f59e0b", "#10b981", "#06b6d4", "#3b82f6", "#a855f7",
}

// ColorCache memoizes the display color per user id. Safe for concurrent
// use; renderers read it outside the engine loop.
type ColorCache struct {
	mu     sync.Mutex
	colors map[int]string
}

func NewColorCache() *ColorCache {
	return &ColorCache{colors: make(map[int]string)}
}

// ColorFor returns the deterministic display color for a user.
func (c *ColorCache) ColorFor(userID int) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if color, ok := c.colors[userID]; ok {
		return color
	}
	idx := userID % len(palette)
	if idx < 0 {
		idx += len(palette)
	}
	color := palette[idx]
	c.colors[userID] = color
	return color
}
