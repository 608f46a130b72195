package editor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/glitchdotcom/WebPutty/backend/internal/logger"
)

// ErrRefreshRequired：服务端不再认这个会话令牌，本地状态已经不可信，
// 只能提示用户重新加载。任何时刻收到都立即进入断连态。
var ErrRefreshRequired = errors.New("editor: session expired, refresh required")

// SaveResult 是保存请求的编译结果。Log 非空表示编译诊断，非致命。
type SaveResult struct {
	CSS string `json:"css"`
	Log string `json:"log"`
}

// Service 是服务端推拉通道的拉取面：open 取权威样式列表，
// save 提交源码换回编译结果，claimLock 请求抢锁。
type Service interface {
	Open(ctx context.Context, pageKey string) ([]*StyleRecord, error)
	Save(ctx context.Context, styleID, pageKey, scss string, publish bool) (SaveResult, error)
	ClaimLock(ctx context.Context, pageKey string) error
}

// Push 是服务端主动推下来的通知。
type Push struct {
	Cmd  string `json:"cmd"` // lock / unlock / refresh
	User string `json:"user,omitempty"`
}

// HTTPService 按线上协议说话：请求体 {from: token, data: {cmd, ...}}，
// 应答要么带业务数据，要么是 {cmd: "refresh"}。
type HTTPService struct {
	Client *http.Client
	URL    string
	Token  string
}

type rpcRequest struct {
	From string         `json:"from"`
	Data map[string]any `json:"data"`
}

type rpcResponse struct {
	Cmd    string         `json:"cmd,omitempty"`
	CSS    string         `json:"css,omitempty"`
	Log    string         `json:"log,omitempty"`
	Styles []*StyleRecord `json:"styles,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func (s *HTTPService) call(ctx context.Context, data map[string]any) (rpcResponse, error) {
	body, err := json.Marshal(rpcRequest{From: s.Token, Data: data})
	if err != nil {
		return rpcResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return rpcResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return rpcResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return rpcResponse{}, fmt.Errorf("editor: channel rpc status %d", resp.StatusCode)
	}
	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return rpcResponse{}, err
	}
	if out.Cmd == "refresh" {
		return rpcResponse{}, ErrRefreshRequired
	}
	if out.Error != "" {
		return rpcResponse{}, errors.New("editor: " + out.Error)
	}
	return out, nil
}

func (s *HTTPService) Open(ctx context.Context, pageKey string) ([]*StyleRecord, error) {
	out, err := s.call(ctx, map[string]any{"cmd": "open", "page_key": pageKey})
	if err != nil {
		return nil, err
	}
	return out.Styles, nil
}

func (s *HTTPService) Save(ctx context.Context, styleID, pageKey, scss string, publish bool) (SaveResult, error) {
	data := map[string]any{
		"cmd":      "save",
		"style_id": styleID,
		"page_key": pageKey,
		"scss":     scss,
	}
	if publish {
		data["fPublish"] = true
	}
	out, err := s.call(ctx, data)
	if err != nil {
		return SaveResult{}, err
	}
	return SaveResult{CSS: out.CSS, Log: out.Log}, nil
}

func (s *HTTPService) ClaimLock(ctx context.Context, pageKey string) error {
	_, err := s.call(ctx, map[string]any{"cmd": "claimLock", "page_key": pageKey})
	return err
}

// ListenPush 消费服务端的 websocket 推送，逐条解码后交给 deliver。
// 格式不对的推送只记日志不中断；连接断开或 ctx 取消时返回。
func ListenPush(ctx context.Context, conn *websocket.Conn, lg *logger.Log, deliver func(Push)) {
	if lg == nil {
		lg = logger.New()
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var p Push
		if err := json.Unmarshal(payload, &p); err != nil || p.Cmd == "" {
			lg.Logf("push", "dropping malformed push: %s", payload)
			continue
		}
		deliver(p)
	}
}

// PrefStore 是按会话命名空间的本地偏好存储，存布局方向和分栏比例。
type PrefStore interface {
	Get(name string) (string, bool)
	Set(name, value string)
}

// MemPrefs 内存实现。
type MemPrefs struct {
	m map[string]string
}

func NewMemPrefs() *MemPrefs { return &MemPrefs{m: make(map[string]string)} }

func (p *MemPrefs) Get(name string) (string, bool) {
	v, ok := p.m[name]
	return v, ok
}

func (p *MemPrefs) Set(name, value string) { p.m[name] = value }
