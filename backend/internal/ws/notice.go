package ws

// Notice 是服务端推给编辑会话的通知，和客户端 editor.Push 同构。
type Notice struct {
	Cmd  string `json:"cmd"` // lock / unlock / refresh
	User string `json:"user,omitempty"`
}

// clientMessage 是编辑会话沿推送连接上行的消息，目前只有心跳。
type clientMessage struct {
	Type string `json:"type"`
}
