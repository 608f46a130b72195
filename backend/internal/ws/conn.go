package ws

import (
	"context"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Heartbeats 是连接存活要汇报的注册表切面。
type Heartbeats interface {
	Heartbeat(ctx context.Context, pageKey, channelID string) error
}

type Conn struct {
	ws        *websocket.Conn
	hub       *Hub
	pageKey   string
	channelID string
	beats     Heartbeats

	mu     sync.Mutex
	send   chan Notice
	closed bool
}

func NewConn(ws *websocket.Conn, hub *Hub, pageKey, channelID string, beats Heartbeats) *Conn {
	return &Conn{
		ws:        ws,
		hub:       hub,
		pageKey:   pageKey,
		channelID: channelID,
		send:      make(chan Notice, 32),
		beats:     beats,
	}
}

// Enqueue 把通知排进出站队列；连接已收尾或队列满了就丢，
// 推送没有送达保证，客户端靠 open 重新对齐状态。
func (c *Conn) Enqueue(n Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- n:
	default:
	}
}

// shutdown 关掉出站队列，写循环随之退出。幂等；
// 要在连接摘出房间之后调，晚到的推送由 Enqueue 丢弃。
func (c *Conn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Conn) writeLoop() {
	for n := range c.send {
		_ = c.ws.WriteJSON(n)
	}
}

// readLoop 消费上行消息直到连接关闭，心跳转发给注册表。
func (c *Conn) readLoop(ctx context.Context) {
	for {
		var msg clientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "heartbeat":
			if err := c.beats.Heartbeat(ctx, c.pageKey, c.channelID); err != nil {
				log.Printf("heartbeat error (page=%s channel=%s): %v", c.pageKey, c.channelID, err)
			}
		default:
			// 忽略未知类型
		}
	}
}
