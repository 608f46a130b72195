package ws

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// 允许本地开发环境和配置里声明的来源
func newUpgrader(allowedPrefixes []string) websocket.Upgrader {
	prefixes := append([]string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}, allowedPrefixes...)
	return websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || origin == "null" { // 一些环境可能不发送 Origin，或为 "null"
			return true
		}
		for _, p := range prefixes {
			if p != "" && strings.HasPrefix(origin, p) {
				return true
			}
		}
		return false
	}}
}

type Manager struct {
	hub      *Hub
	beats    Heartbeats
	upgrader websocket.Upgrader
	// OnDisconnect 在连接收尾时回调，调用方借此摘通道、重算锁。
	OnDisconnect func(pageKey, channelID string)
}

func NewManager(hub *Hub, beats Heartbeats, allowedOrigins []string) *Manager {
	return &Manager{hub: hub, beats: beats, upgrader: newUpgrader(allowedOrigins)}
}

// Connect 把一条鉴权过的请求升级成推送连接。pageKey/channelID
// 由鉴权中间件从令牌里解出来放进 gin 上下文。
func (m *Manager) Connect(c *gin.Context) {
	pageKey := c.GetString("pageKey")
	channelID := c.GetString("channelId")
	if pageKey == "" || channelID == "" {
		c.String(http.StatusBadRequest, "missing channel identity")
		return
	}

	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	wsConn := NewConn(conn, m.hub, pageKey, channelID, m.beats)
	m.hub.Join(pageKey, wsConn)

	// 先起写循环，后续入队的通知才发得出去
	go wsConn.writeLoop()

	// 读循环阻塞到连接关闭
	wsConn.readLoop(c.Request.Context())

	// 先摘出房间再关出站队列，收尾窗口里的推送在 Enqueue 被丢掉
	m.hub.Leave(pageKey, wsConn)
	wsConn.shutdown()
	if m.OnDisconnect != nil {
		m.OnDisconnect(pageKey, channelID)
	}
}
