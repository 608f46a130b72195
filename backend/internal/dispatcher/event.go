package dispatcher

import "time"

// Event 是跨实例广播的领域事件。锁队列和发布动作都写在 redis/mysql 里，
// 事件只是“去重新算一遍”的信号，不要求强一致送达。
type Event struct {
	EventType string    `json:"eventType"` // LOCKS_CHANGED / STYLE_PUBLISHED
	PageKey   string    `json:"pageKey"`
	User      string    `json:"user,omitempty"`
	Origin    string    `json:"origin"` // 发出事件的实例 id，消费侧跳过自己
	At        time.Time `json:"at"`
}

const (
	EventLocksChanged   = "LOCKS_CHANGED"
	EventStylePublished = "STYLE_PUBLISHED"
)
