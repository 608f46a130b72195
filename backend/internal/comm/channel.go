package comm

import (
	"encoding/json"
	"sync"

	"github.com/glitchdotcom/WebPutty/backend/internal/logger"
)

// Channel 在 Transport 之上加了会话限定：每条消息都带本会话的 page key，
// 收到的消息 key 不匹配就静默丢弃，避免跨标签页串线。
type Channel struct {
	pageKey string
	tr      Transport
	log     *logger.Log
}

// Handlers 按命令分发载荷；缺失的命令被忽略。
type Handlers map[Command]func(data json.RawMessage)

func New(pageKey string, tr Transport, lg *logger.Log) *Channel {
	if lg == nil {
		lg = logger.New()
	}
	return &Channel{pageKey: pageKey, tr: tr, log: lg}
}

func (c *Channel) PageKey() string { return c.pageKey }

// Send 序列化 {pageKey, command, data} 并投递给对端。
// targetOrigin 传 "*" 表示不限定对端来源。
func (c *Channel) Send(name string, cmd Command, data any, targetOrigin string) error {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		raw = b
	}
	payload, err := json.Marshal(Envelope{PageKey: c.pageKey, Command: cmd, Data: raw})
	if err != nil {
		return err
	}
	c.log.Logf("comm", "%s send %s %s", name, cmd, payload)
	return c.tr.Post(payload, targetOrigin)
}

// Receive 启动接收循环。入站消息依次经过：反序列化（失败只记日志）、
// origin 判定、page key 比对、命令表查找。任何一步不通过都静默丢弃，
// 绝不向调用方抛错。返回的函数用于停止接收。
func (c *Channel) Receive(name string, originOK func(string) bool, handlers Handlers) (stop func()) {
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case <-quit:
				return
			case msg, ok := <-c.tr.Messages():
				if !ok {
					return
				}
				c.dispatch(name, originOK, handlers, msg)
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(quit) }) }
}

func (c *Channel) dispatch(name string, originOK func(string) bool, handlers Handlers, msg Message) {
	c.log.Logf("comm", "%s receive %s", name, msg.Payload)
	env, err := decodeEnvelope(msg.Payload)
	if err != nil {
		c.log.Logf("comm", "%s drop: %v", name, err)
		return
	}
	if originOK != nil && !originOK(msg.Origin) {
		c.log.Logf("comm", "%s drop: origin %q rejected", name, msg.Origin)
		return
	}
	if env.PageKey != c.pageKey {
		c.log.Logf("comm", "%s drop: bogus message (mismatching page keys)", name)
		return
	}
	if h, ok := handlers[env.Command]; ok {
		h(env.Data)
	}
}
