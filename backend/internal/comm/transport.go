package comm

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

// Message 是传输层交付的原始消息：只有来源 origin 和文本载荷。
type Message struct {
	Origin  string
	Payload []byte
}

// Transport 模拟 postMessage 式的跨上下文原语：发后即忘，最多一次，
// 单条通道内按发送顺序到达。targetOrigin 为 "*" 或对端 origin，
// 不匹配时静默丢弃（postMessage 的限定投递语义）。
type Transport interface {
	Post(payload []byte, targetOrigin string) error
	Messages() <-chan Message
	Close() error
}

// PairEnd 是内存互联的一端，用于同一进程内的 editor/preview 两个上下文。
type PairEnd struct {
	origin string
	peer   *PairEnd
	in     chan Message

	mu     sync.Mutex
	closed bool
}

// Pair 返回互联的两端；originA/originB 是各端对外声明的来源。
func Pair(originA, originB string) (*PairEnd, *PairEnd) {
	a := &PairEnd{origin: originA, in: make(chan Message, 32)}
	b := &PairEnd{origin: originB, in: make(chan Message, 32)}
	a.peer = b
	b.peer = a
	return a, b
}

func (p *PairEnd) Post(payload []byte, targetOrigin string) error {
	if targetOrigin != "*" && targetOrigin != p.peer.origin {
		return nil
	}
	p.peer.mu.Lock()
	defer p.peer.mu.Unlock()
	if p.peer.closed {
		return errors.New("comm: peer closed")
	}
	msg := Message{Origin: p.origin, Payload: append([]byte(nil), payload...)}
	select {
	case p.peer.in <- msg:
	default:
		// 队列满则丢弃；本层没有重试或确认语义
	}
	return nil
}

func (p *PairEnd) Messages() <-chan Message { return p.in }

func (p *PairEnd) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.in)
	}
	return nil
}

// WSTransport 把两个独立进程里的上下文用 websocket 连起来。
// 对端 origin 在建立连接时就已知且固定。
type WSTransport struct {
	conn       *websocket.Conn
	peerOrigin string
	in         chan Message

	mu     sync.Mutex
	closed bool
}

func NewWSTransport(conn *websocket.Conn, peerOrigin string) *WSTransport {
	t := &WSTransport{conn: conn, peerOrigin: peerOrigin, in: make(chan Message, 32)}
	go t.readLoop()
	return t
}

func (t *WSTransport) readLoop() {
	defer func() {
		t.mu.Lock()
		if !t.closed {
			t.closed = true
			close(t.in)
		}
		t.mu.Unlock()
	}()
	for {
		_, payload, err := t.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case t.in <- Message{Origin: t.peerOrigin, Payload: payload}:
		default:
		}
	}
}

func (t *WSTransport) Post(payload []byte, targetOrigin string) error {
	if targetOrigin != "*" && targetOrigin != t.peerOrigin {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("comm: transport closed")
	}
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *WSTransport) Messages() <-chan Message { return t.in }

func (t *WSTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.conn.Close()
}
