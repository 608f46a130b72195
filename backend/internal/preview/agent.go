package preview

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/glitchdotcom/WebPutty/backend/internal/comm"
	"github.com/glitchdotcom/WebPutty/backend/internal/logger"
)

// Overlay 是一个高亮框：位置已按 margin 向左上平移，
// margin/border/padding/content 分层对应原盒模型。
type Overlay struct {
	Top, Left     float64
	Width, Height float64
	Margin        [4]float64
	Border        [4]float64
	Padding       [4]float64
}

func overlayFor(e *Element) Overlay {
	return Overlay{
		Top:     e.Box.Top - e.Box.Margin[0],
		Left:    e.Box.Left - e.Box.Margin[3],
		Width:   e.Box.Width,
		Height:  e.Box.Height,
		Margin:  e.Box.Margin,
		Border:  e.Box.Border,
		Padding: e.Box.Padding,
	}
}

// Agent 跑在嵌入的预览上下文里，是 Session Coordinator 的对端。
// 它只响应通过 Message Channel 到达、且 page key 匹配的命令，
// 然后改动自己的文档。
type Agent struct {
	key    string
	ch     *comm.Channel
	doc    *Document
	log    *logger.Log
	logOut io.Writer

	mu          sync.Mutex
	overlays    []Overlay
	diagnostics bool
}

func NewAgent(pageKey string, tr comm.Transport, doc *Document, lg *logger.Log) *Agent {
	if lg == nil {
		lg = logger.New()
	}
	return &Agent{
		key:    pageKey,
		ch:     comm.New(pageKey, tr, lg),
		doc:    doc,
		log:    lg,
		logOut: os.Stdout,
	}
}

// SetLogOutput 重定向 printLog 命令的输出，测试用。
func (a *Agent) SetLogOutput(w io.Writer) { a.logOut = w }

// Start 注册命令处理并向 editor 上下文宣告就绪。
// page key 校验在 comm 层完成，这里拿到的都是本会话的消息。
func (a *Agent) Start(originOK func(string) bool) (stop func()) {
	stop = a.ch.Receive("iframe", originOK, comm.Handlers{
		comm.CmdReady:     a.onReady,
		comm.CmdUpdate:    a.onUpdate,
		comm.CmdHighlight: a.onHighlight,
		comm.CmdPrintLog:  a.onPrintLog,
		comm.CmdFirebug:   a.onFirebug,
	})
	a.announceReady()
	return stop
}

func (a *Agent) announceReady() {
	_ = a.ch.Send("iframe", comm.CmdReady, comm.ReadyData{Href: a.doc.Location}, "*")
}

func (a *Agent) onReady(json.RawMessage) {
	// editor 那边刷新了，重报一次位置
	a.announceReady()
}

func (a *Agent) onUpdate(data json.RawMessage) {
	var css string
	if err := json.Unmarshal(data, &css); err != nil {
		a.log.Logf("iframe", "bad update payload: %v", err)
		return
	}
	// 原子换节点：新节点就位后旧节点才消失，不会闪一下无样式
	if !a.doc.SwapStyle(a.key, css) {
		a.log.Logf("iframe", "couldn't find a matching style tag, page/style key mismatch? %s", a.key)
		_ = a.ch.Send("iframe", comm.CmdMissingStyleTag, comm.ReadyData{Href: a.doc.Location}, "*")
	}
}

func (a *Agent) onHighlight(data json.RawMessage) {
	a.mu.Lock()
	a.overlays = nil
	a.mu.Unlock()

	var hl comm.HighlightData
	if err := json.Unmarshal(data, &hl); err != nil {
		a.log.Logf("iframe", "bad highlight payload: %v", err)
		return
	}
	if len(hl.Selectors) == 0 || hl.Selectors[0] == "" {
		a.log.Logf("iframe", "got empty selector %s", a.key)
		return
	}

	matches := a.doc.Query(hl.Selectors)
	overlays := make([]Overlay, 0, len(matches))
	for _, e := range matches {
		overlays = append(overlays, overlayFor(e))
	}
	a.mu.Lock()
	a.overlays = overlays
	a.mu.Unlock()
}

func (a *Agent) onPrintLog(data json.RawMessage) {
	region := "all"
	if len(data) > 0 {
		var s string
		if err := json.Unmarshal(data, &s); err == nil && s != "" {
			region = s
		}
	}
	a.log.PrintHistory(region, a.logOut)
}

func (a *Agent) onFirebug(data json.RawMessage) {
	var on bool
	_ = json.Unmarshal(data, &on)
	a.mu.Lock()
	defer a.mu.Unlock()
	if on && !a.diagnostics {
		a.diagnostics = true
		a.log.Logf("iframe", "diagnostics enabled %s", a.key)
		return
	}
	a.log.Logf("iframe", "diagnostics already enabled %s", a.key)
}

// Overlays 返回当前高亮框的副本。
func (a *Agent) Overlays() []Overlay {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Overlay, len(a.overlays))
	copy(out, a.overlays)
	return out
}

func (a *Agent) DiagnosticsEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.diagnostics
}

// StyleCSS 返回样式锚点当前的内容。
func (a *Agent) StyleCSS() string {
	return a.doc.StyleCSS(a.key)
}
