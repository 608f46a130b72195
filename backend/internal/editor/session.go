package editor

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/glitchdotcom/WebPutty/backend/internal/comm"
	"github.com/glitchdotcom/WebPutty/backend/internal/logger"
	"github.com/glitchdotcom/WebPutty/backend/internal/selector"
)

// SessionConfig 把会话需要的协作方一次交齐，不留任何全局量。
type SessionConfig struct {
	PageKey    string
	Style      *StyleRecord
	Buffer     Buffer
	View       View
	Service    Service
	Transport  comm.Transport
	Prefs      PrefStore
	Log        *logger.Log
	Timings    Timings // 零值用 DefaultTimings
	PreviewURL string
	// AllowOrigin 判定预览上下文消息的来源；nil 表示不限。
	AllowOrigin func(origin string) bool
}

// Session 是编辑会话协调器：持有锁态、模式、当前样式记录，驱动消息通道
// 和服务端推拉，编排去抖保存与高亮派发。所有状态只在自己的事件循环
// goroutine 上改动。
type Session struct {
	pageKey string
	style   *StyleRecord
	buf     Buffer
	view    View
	svc     Service
	ch      *comm.Channel
	prefs   PrefStore
	log     *logger.Log
	t       Timings
	loop    *Loop
	ctx     context.Context

	// switching 在程序性替换缓冲区期间置位，变更回调据此把这次替换
	// 和用户编辑区分开。回调来自任意 goroutine，所以用原子量。
	switching atomic.Bool

	mode             Mode
	locked           bool
	lockUser         string
	disconnected     bool
	frameReady       bool
	missingTags      bool
	warnedMissingTag bool
	previewURL       string
	css              string

	saveD      *debouncer
	hlThrottle *throttler
	clearD     *debouncer
	rehlD      *debouncer
	frameTimer *time.Timer
	stopRecv   func()
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.Log == nil {
		cfg.Log = logger.New()
	}
	if cfg.Timings == (Timings{}) {
		cfg.Timings = DefaultTimings()
	}
	if cfg.View == nil {
		cfg.View = NopView{}
	}
	if cfg.Prefs == nil {
		cfg.Prefs = NewMemPrefs()
	}
	s := &Session{
		pageKey:    cfg.PageKey,
		style:      cfg.Style,
		buf:        cfg.Buffer,
		view:       cfg.View,
		svc:        cfg.Service,
		ch:         comm.New(cfg.PageKey, cfg.Transport, cfg.Log),
		prefs:      cfg.Prefs,
		log:        cfg.Log,
		t:          cfg.Timings,
		loop:       NewLoop(),
		ctx:        context.Background(),
		mode:       ModePreview,
		previewURL: cfg.PreviewURL,
	}
	s.saveD = newDebouncer(s.loop, s.t.SaveDebounce, s.doSave)
	s.hlThrottle = newThrottler(s.loop, s.t.HighlightThrottle, s.dispatchHighlight)
	s.clearD = newDebouncer(s.loop, s.t.ResizeClear, s.clearHighlight)
	s.rehlD = newDebouncer(s.loop, s.t.ResizeRehighlight, s.dispatchHighlight)

	s.buf.OnChange(func() {
		if s.switching.Load() {
			return
		}
		s.loop.Post(s.onChange)
	})
	s.buf.OnCursorActivity(func() {
		s.hlThrottle.Trigger()
	})
	s.stopRecv = s.ch.Receive("editor", cfg.AllowOrigin, comm.Handlers{
		comm.CmdReady:           s.onFrameReady,
		comm.CmdMissingStyleTag: s.onMissingStyleTag,
	})
	if s.previewURL != "" {
		url := s.previewURL
		s.loop.Post(func() { s.navigate(url) })
	} else {
		s.loop.Post(s.computeEditable)
	}
	return s
}

func (s *Session) Stop() {
	s.stopRecv()
	s.saveD.Cancel()
	s.hlThrottle.Cancel()
	s.clearD.Cancel()
	s.rehlD.Cancel()
	s.loop.Post(func() {
		if s.frameTimer != nil {
			s.frameTimer.Stop()
		}
	})
	s.loop.Sync()
	s.loop.Stop()
}

// Sync 等事件队列排空，测试用。
func (s *Session) Sync() { s.loop.Sync() }

// ---- 编辑与保存 ----

func (s *Session) onChange() {
	if s.disconnected {
		return
	}
	s.style.SetSource(s.mode, s.buf.Value())
	if s.mode != ModePreview {
		return
	}
	s.saveD.Trigger()
}

func (s *Session) doSave() {
	if s.disconnected {
		return
	}
	res, err := s.svc.Save(s.ctx, s.style.ID, s.pageKey, s.style.PreviewSCSS, false)
	if err != nil {
		// 保存失败不重试：数据可能丢，明说，让用户重新加载
		s.log.Logf("session", "save failed: %v", err)
		s.enterDisconnected()
		return
	}
	s.css = res.CSS
	s.style.PreviewEdited = time.Now()
	if s.mode == ModePreview {
		s.view.SetLastEdited(s.style.PreviewEdited)
	}
	s.view.ShowCompileLog(res.Log)
	s.sendUpdate()
}

func (s *Session) sendUpdate() {
	_ = s.ch.Send("editor", comm.CmdUpdate, s.css, "*")
}

// ---- 服务端推送 ----

// HandlePush 把一条服务端通知排进事件队列。可从任意 goroutine 调用。
func (s *Session) HandlePush(p Push) {
	s.loop.Post(func() {
		switch p.Cmd {
		case "lock":
			s.lockEditor(p.User)
		case "unlock":
			s.unlockEditor()
		case "refresh":
			s.enterDisconnected()
		default:
			s.log.Logf("session", "ignoring unknown push %q", p.Cmd)
		}
	})
}

func (s *Session) lockEditor(user string) {
	if s.locked {
		// 重复 lock 只刷新横幅
		s.view.ShowLockMessage(user)
		s.lockUser = user
		return
	}
	s.locked = true
	s.lockUser = user
	s.view.ShowLockMessage(user)
	s.computeEditable()
}

func (s *Session) unlockEditor() {
	if s.locked {
		// 锁刚释放，别人可能改过：先取回权威内容再放开编辑
		recs, err := s.svc.Open(s.ctx, s.pageKey)
		if err != nil {
			s.log.Logf("session", "refetch after unlock failed: %v", err)
			s.enterDisconnected()
			return
		}
		s.adoptRecords(recs)
		s.switching.Store(true)
		s.buf.SetValue(s.style.Source(s.mode))
		s.buf.ClearHistory()
		s.switching.Store(false)
	}
	s.locked = false
	s.lockUser = ""
	s.view.ClearLockMessage()
	s.computeEditable()
}

func (s *Session) adoptRecords(recs []*StyleRecord) {
	for _, r := range recs {
		if r.ID == s.style.ID {
			s.style.PreviewSCSS = r.PreviewSCSS
			s.style.PublishedSCSS = r.PublishedSCSS
			s.style.PreviewEdited = r.PreviewEdited
			s.style.PublishedEdited = r.PublishedEdited
			return
		}
	}
}

// ClaimLock 请求抢锁；真正的解锁由服务端推送下发。
func (s *Session) ClaimLock() {
	s.loop.Post(func() {
		if err := s.svc.ClaimLock(s.ctx, s.pageKey); err != nil {
			if errors.Is(err, ErrRefreshRequired) {
				s.enterDisconnected()
				return
			}
			s.view.ShowStatus("couldn't claim the lock")
		}
	})
}

func (s *Session) enterDisconnected() {
	if s.disconnected {
		return
	}
	s.disconnected = true
	s.locked = true
	// 断连后挂着的去抖保存一并作废，不再发任何请求
	s.saveD.Cancel()
	s.view.ShowStatus("Connection to the server was lost. Reload the page to continue.")
	s.computeEditable()
}

// ---- 模式切换与发布 ----

func (s *Session) SwitchMode(target Mode) {
	s.loop.Post(func() { s.switchMode(target) })
}

func (s *Session) switchMode(target Mode) {
	if target == s.mode {
		return
	}
	st := &ModeState{Cursor: s.buf.Cursor(), History: s.buf.History()}
	if sel, ok := s.buf.Selection(); ok {
		st.Selection = &sel
	}
	s.style.snapshot(s.mode, st)

	s.switching.Store(true)
	s.buf.SetValue(s.style.Source(target))
	if saved := s.style.savedState(target); saved != nil {
		s.buf.SetHistory(saved.History)
		s.buf.SetCursor(saved.Cursor)
		if saved.Selection != nil {
			s.buf.SetSelection(*saved.Selection)
		}
	} else {
		// 没来过这个模式：清历史，撤销不能跨模式
		s.buf.ClearHistory()
	}
	s.switching.Store(false)

	s.mode = target
	s.sendUpdate()
	s.view.SetLastEdited(s.style.LastEdited(target))
	s.computeEditable()
}

// Publish 把 preview 内容提升为 published。
func (s *Session) Publish() {
	s.loop.Post(s.publish)
}

func (s *Session) publish() {
	if s.disconnected {
		return
	}
	s.style.PublishedSCSS = s.style.PreviewSCSS
	st := &ModeState{Cursor: s.buf.Cursor(), History: s.buf.History()}
	if sel, ok := s.buf.Selection(); ok {
		st.Selection = &sel
	}
	s.style.snapshot(ModePublished, st)

	res, err := s.svc.Save(s.ctx, s.style.ID, s.pageKey, s.style.PublishedSCSS, true)
	if err != nil {
		s.log.Logf("session", "publish failed: %v", err)
		s.enterDisconnected()
		return
	}
	s.css = res.CSS
	s.style.PublishedEdited = time.Now()
	if s.mode == ModePublished {
		s.view.SetLastEdited(s.style.PublishedEdited)
	}
	s.sendUpdate()
}

// ---- 预览集成 ----

// NavigatePreview 把预览切到新地址。ready 回来之前编辑保持关闭。
func (s *Session) NavigatePreview(url string) {
	s.loop.Post(func() { s.navigate(url) })
}

func (s *Session) navigate(url string) {
	s.previewURL = url
	s.frameReady = false
	s.missingTags = false
	s.computeEditable()
	s.view.NavigateFrame(url)
}

// FrameLoaded 由宿主在预览载入事件时调用：开一个宽限期等 ready，
// 超时就按“页面没接样式标签”处理。固定等待，不重试。
func (s *Session) FrameLoaded() {
	s.loop.Post(func() {
		if s.frameTimer != nil {
			s.frameTimer.Stop()
		}
		s.frameTimer = time.AfterFunc(s.t.FrameGrace, func() {
			s.loop.Post(s.frameGraceExpired)
		})
	})
}

func (s *Session) frameGraceExpired() {
	if s.frameReady {
		return
	}
	s.missingTags = true
	if !s.warnedMissingTag {
		s.warnedMissingTag = true
		s.view.ShowMissingTagsDialog()
	}
	s.computeEditable()
}

func (s *Session) onFrameReady(data json.RawMessage) {
	var rd comm.ReadyData
	_ = json.Unmarshal(data, &rd)
	s.loop.Post(func() {
		if s.frameTimer != nil {
			s.frameTimer.Stop()
		}
		s.frameReady = true
		s.missingTags = false
		s.log.Logf("session", "preview ready at %s", rd.Href)
		s.sendUpdate()
		s.computeEditable()
	})
}

func (s *Session) onMissingStyleTag(json.RawMessage) {
	s.loop.Post(func() {
		s.missingTags = true
		if !s.warnedMissingTag {
			s.warnedMissingTag = true
			s.view.ShowMissingTagsDialog()
		}
		s.computeEditable()
	})
}

// OverrideMissingTags：用户明确表示不管缺标签也要继续编辑。
// 预览端没确认过 ready，这里一并视作就绪，否则放开也编辑不了。
func (s *Session) OverrideMissingTags() {
	s.loop.Post(func() {
		s.missingTags = false
		s.frameReady = true
		s.computeEditable()
	})
}

// ---- 高亮 ----

func (s *Session) dispatchHighlight() {
	if s.disconnected || !s.frameReady {
		return
	}
	var sels []string
	if _, ok := s.buf.Selection(); !ok {
		if cur := s.buf.Cursor(); cur != (selector.Pos{}) {
			sels = selector.Resolve(s.buf.Value(), cur)
		}
	}
	_ = s.ch.Send("editor", comm.CmdHighlight, comm.HighlightData{Selectors: sels}, "*")
}

func (s *Session) clearHighlight() {
	if s.disconnected {
		return
	}
	_ = s.ch.Send("editor", comm.CmdHighlight, comm.HighlightData{}, "*")
}

// Resize 在窗口或分栏变动时调用：先清掉旧框，布局稳定后再重新高亮。
func (s *Session) Resize() {
	s.clearD.Trigger()
	s.rehlD.Trigger()
}

// ---- 布局偏好 ----

func (s *Session) LayoutMode() string {
	if v, ok := s.prefs.Get("layoutMode." + s.pageKey); ok {
		return v
	}
	return "horizontal"
}

func (s *Session) SetLayoutMode(mode string) {
	s.prefs.Set("layoutMode."+s.pageKey, mode)
}

func (s *Session) LayoutSize() (string, bool) {
	return s.prefs.Get("layoutSize." + s.pageKey)
}

func (s *Session) SetLayoutSize(size string) {
	s.prefs.Set("layoutSize."+s.pageKey, size)
}

// ---- 状态 ----

func (s *Session) computeEditable() {
	editable := s.mode == ModePreview &&
		!s.locked && !s.disconnected && !s.missingTags &&
		s.frameReady && s.previewURL != ""
	s.buf.SetReadOnly(!editable)
	s.view.SetEditable(editable)
}

// State 是会话状态的一致快照，经事件循环取出。
type State struct {
	Mode         Mode
	Locked       bool
	LockUser     string
	Disconnected bool
	FrameReady   bool
	MissingTags  bool
	CSS          string
}

func (s *Session) State() State {
	var st State
	done := make(chan struct{})
	s.loop.Post(func() {
		st = State{
			Mode:         s.mode,
			Locked:       s.locked,
			LockUser:     s.lockUser,
			Disconnected: s.disconnected,
			FrameReady:   s.frameReady,
			MissingTags:  s.missingTags,
			CSS:          s.css,
		}
		close(done)
	})
	select {
	case <-done:
	case <-s.loop.quit:
	}
	return st
}
