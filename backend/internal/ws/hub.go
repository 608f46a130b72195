package ws

import "sync"

// Hub 按 page key 维护房间。广播逐连接发：一个通道就是一个连接，
// 没有按用户聚合的概念。
type Hub struct {
	mu sync.RWMutex
	// pageKey -> set of connections
	rooms map[string]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Conn]struct{})}
}

func (h *Hub) Join(pageKey string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[pageKey] == nil {
		h.rooms[pageKey] = make(map[*Conn]struct{})
	}
	h.rooms[pageKey][c] = struct{}{}
}

func (h *Hub) Leave(pageKey string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[pageKey]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, pageKey)
		}
	}
}

// Push 只发给指定通道。
func (h *Hub) Push(pageKey, channelID string, n Notice) {
	for _, c := range h.snapshot(pageKey) {
		if c.channelID == channelID {
			c.Enqueue(n)
		}
	}
}

// Broadcast 发给页面里除 except 外的所有通道。
func (h *Hub) Broadcast(pageKey string, n Notice, except string) {
	for _, c := range h.snapshot(pageKey) {
		if c.channelID == except {
			continue
		}
		c.Enqueue(n)
	}
}

// snapshot 在读锁内把房间成员拷成切片；遍历和入队都在锁外做，
// 不和 Join/Leave 的写互相踩。
func (h *Hub) snapshot(pageKey string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*Conn, 0, len(h.rooms[pageKey]))
	for c := range h.rooms[pageKey] {
		conns = append(conns, c)
	}
	return conns
}
