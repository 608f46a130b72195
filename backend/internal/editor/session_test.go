package editor

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/glitchdotcom/WebPutty/backend/internal/comm"
	"github.com/glitchdotcom/WebPutty/backend/internal/logger"
	"github.com/glitchdotcom/WebPutty/backend/internal/selector"
)

func testTimings() Timings {
	return Timings{
		SaveDebounce:      80 * time.Millisecond,
		HighlightThrottle: 10 * time.Millisecond,
		ResizeClear:       10 * time.Millisecond,
		ResizeRehighlight: 20 * time.Millisecond,
		FrameGrace:        40 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

type saveCall struct {
	StyleID string
	PageKey string
	SCSS    string
	Publish bool
}

type fakeService struct {
	mu         sync.Mutex
	saves      []saveCall
	opens      int
	claims     int
	openStyles []*StyleRecord
	saveErr    error
}

func (f *fakeService) Open(ctx context.Context, pageKey string) ([]*StyleRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	return f.openStyles, nil
}

func (f *fakeService) Save(ctx context.Context, styleID, pageKey, scss string, publish bool) (SaveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return SaveResult{}, f.saveErr
	}
	f.saves = append(f.saves, saveCall{StyleID: styleID, PageKey: pageKey, SCSS: scss, Publish: publish})
	return SaveResult{CSS: "compiled:" + scss}, nil
}

func (f *fakeService) ClaimLock(ctx context.Context, pageKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims++
	return nil
}

func (f *fakeService) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func (f *fakeService) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

type recorderView struct {
	mu         sync.Mutex
	editable   []bool
	lockMsgs   []string
	lockClears int
	statuses   []string
	dialogs    int
	navs       []string
}

func (v *recorderView) SetEditable(ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.editable = append(v.editable, ok)
}

func (v *recorderView) ShowLockMessage(user string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lockMsgs = append(v.lockMsgs, user)
}

func (v *recorderView) ClearLockMessage() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lockClears++
}

func (v *recorderView) ShowStatus(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statuses = append(v.statuses, msg)
}

func (v *recorderView) ShowCompileLog(string)   {}
func (v *recorderView) SetLastEdited(time.Time) {}

func (v *recorderView) ShowMissingTagsDialog() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dialogs++
}

func (v *recorderView) NavigateFrame(url string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.navs = append(v.navs, url)
}

func (v *recorderView) lockMsgCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.lockMsgs)
}

func (v *recorderView) dialogCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dialogs
}

// msgCounter 在预览端数编辑器发过来的消息。
type msgCounter struct {
	mu         sync.Mutex
	updates    []string
	highlights [][]string
}

func countMessages(end *comm.PairEnd) *msgCounter {
	c := &msgCounter{}
	go func() {
		for m := range end.Messages() {
			var env comm.Envelope
			if err := json.Unmarshal(m.Payload, &env); err != nil {
				continue
			}
			switch env.Command {
			case comm.CmdUpdate:
				var css string
				_ = json.Unmarshal(env.Data, &css)
				c.mu.Lock()
				c.updates = append(c.updates, css)
				c.mu.Unlock()
			case comm.CmdHighlight:
				var hd comm.HighlightData
				_ = json.Unmarshal(env.Data, &hd)
				c.mu.Lock()
				c.highlights = append(c.highlights, hd.Selectors)
				c.mu.Unlock()
			}
		}
	}()
	return c
}

func (c *msgCounter) updateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.updates)
}

func (c *msgCounter) lastHighlight() ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.highlights) == 0 {
		return nil, false
	}
	return c.highlights[len(c.highlights)-1], true
}

type harness struct {
	s     *Session
	buf   *MemBuffer
	svc   *fakeService
	view  *recorderView
	style *StyleRecord
	msgs  *msgCounter
	peer  *comm.Channel
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	edEnd, prEnd := comm.Pair("https://app.example.com", "https://preview.example.com")
	h := &harness{
		buf:  NewMemBuffer(""),
		svc:  &fakeService{},
		view: &recorderView{},
		style: &StyleRecord{
			ID:            "s1",
			PreviewSCSS:   "",
			PublishedSCSS: "a { color: blue; }",
		},
		msgs: countMessages(prEnd),
		peer: comm.New("P1", prEnd, logger.New()),
	}
	h.s = NewSession(SessionConfig{
		PageKey:    "P1",
		Style:      h.style,
		Buffer:     h.buf,
		View:       h.view,
		Service:    h.svc,
		Transport:  edEnd,
		Timings:    testTimings(),
		PreviewURL: "https://site.example.com/page",
	})
	t.Cleanup(h.s.Stop)
	return h
}

// frameReady 模拟预览端上报 ready。
func (h *harness) frameReady(t *testing.T) {
	t.Helper()
	if err := h.peer.Send("iframe", comm.CmdReady, comm.ReadyData{Href: "https://site.example.com/page"}, "*"); err != nil {
		t.Fatalf("Send(ready) = %v", err)
	}
	waitFor(t, func() bool { return h.s.State().FrameReady }, "frame ready")
}

func TestSession_AutosaveDebounceCoalesces(t *testing.T) {
	h := newHarness(t)
	h.frameReady(t)

	h.buf.SetValue("a")
	h.buf.SetValue("a {")
	h.buf.SetValue("a { color: red; }")

	waitFor(t, func() bool { return h.svc.saveCount() == 1 }, "debounced save")
	time.Sleep(4 * testTimings().SaveDebounce)
	if n := h.svc.saveCount(); n != 1 {
		t.Fatalf("save count = %d, want exactly 1", n)
	}
	h.svc.mu.Lock()
	got := h.svc.saves[0]
	h.svc.mu.Unlock()
	want := saveCall{StyleID: "s1", PageKey: "P1", SCSS: "a { color: red; }"}
	if got != want {
		t.Fatalf("save = %+v, want %+v", got, want)
	}
	// 编译结果回推给预览
	waitFor(t, func() bool { return h.s.State().CSS == "compiled:a { color: red; }" }, "compiled css")
}

func TestSession_EditUpdatesRecordImmediately(t *testing.T) {
	h := newHarness(t)
	h.frameReady(t)

	h.buf.SetValue("p { margin: 0; }")
	h.s.Sync()
	// 去抖窗口还没到，内存记录已经是新内容
	if h.style.PreviewSCSS != "p { margin: 0; }" {
		t.Fatalf("PreviewSCSS = %q, want immediate in-memory update", h.style.PreviewSCSS)
	}
	if n := h.svc.saveCount(); n != 0 {
		t.Fatalf("save count = %d before quiet period, want 0", n)
	}
}

func TestSession_SwitchModeIdempotent(t *testing.T) {
	h := newHarness(t)
	h.frameReady(t)
	// ready 时会回推一次编译结果，等它到账再取基线
	waitFor(t, func() bool { return h.msgs.updateCount() >= 1 }, "ready-triggered update")
	before := h.msgs.updateCount()

	h.s.SwitchMode(ModePreview)
	h.s.Sync()
	if got := h.msgs.updateCount(); got != before {
		t.Fatalf("update count = %d after no-op switch, want %d", got, before)
	}
	if h.buf.Value() != "" {
		t.Fatalf("buffer replaced on no-op switch: %q", h.buf.Value())
	}
}

func TestSession_SwitchModeSwapsContentWithoutSaving(t *testing.T) {
	h := newHarness(t)
	h.frameReady(t)

	h.s.SwitchMode(ModePublished)
	h.s.Sync()
	if h.buf.Value() != "a { color: blue; }" {
		t.Fatalf("buffer = %q, want published content", h.buf.Value())
	}
	if st := h.s.State(); st.Mode != ModePublished {
		t.Fatalf("mode = %q, want published", st.Mode)
	}
	// 程序性替换不算编辑，不触发保存
	time.Sleep(3 * testTimings().SaveDebounce)
	if n := h.svc.saveCount(); n != 0 {
		t.Fatalf("save count = %d after mode switch, want 0", n)
	}
}

func TestSession_SwitchModeRestoresSnapshots(t *testing.T) {
	h := newHarness(t)
	h.frameReady(t)

	h.buf.SetValue("a { b { } }")
	h.buf.SetCursor(selector.Pos{Line: 0, Ch: 6})
	h.s.Sync()

	h.s.SwitchMode(ModePublished)
	h.s.Sync()
	// 第一次进 published：没有快照，历史被清空
	if got := h.buf.History(); len(got.Undo) != 0 {
		t.Fatalf("history carried across modes: %v", got.Undo)
	}

	h.s.SwitchMode(ModePreview)
	h.s.Sync()
	if h.buf.Value() != "a { b { } }" {
		t.Fatalf("buffer = %q, want preview content restored", h.buf.Value())
	}
	if got := h.buf.Cursor(); got != (selector.Pos{Line: 0, Ch: 6}) {
		t.Fatalf("cursor = %+v, want snapshot restored", got)
	}
}

func TestSession_LockTransitionsMonotonic(t *testing.T) {
	h := newHarness(t)
	h.frameReady(t)
	waitFor(t, func() bool { return !h.buf.ReadOnly() }, "editable after ready")

	h.s.HandlePush(Push{Cmd: "lock", User: "ann"})
	h.s.Sync()
	if st := h.s.State(); !st.Locked || st.LockUser != "ann" {
		t.Fatalf("state = %+v, want locked by ann", st)
	}
	if !h.buf.ReadOnly() {
		t.Fatal("buffer editable while locked")
	}

	// 重复 lock 只重绘横幅
	h.s.HandlePush(Push{Cmd: "lock", User: "bob"})
	h.s.Sync()
	if st := h.s.State(); !st.Locked || st.LockUser != "bob" {
		t.Fatalf("state = %+v, want still locked, banner updated", st)
	}
	if got := h.view.lockMsgCount(); got != 2 {
		t.Fatalf("lock banner renders = %d, want 2", got)
	}
	if got := h.svc.openCount(); got != 0 {
		t.Fatalf("opens = %d during lock, want 0", got)
	}
}

func TestSession_UnlockRefetchesAuthoritativeContent(t *testing.T) {
	h := newHarness(t)
	h.frameReady(t)
	h.svc.mu.Lock()
	h.svc.openStyles = []*StyleRecord{{ID: "s1", PreviewSCSS: "b { top: 0; }", PublishedSCSS: "a { color: blue; }"}}
	h.svc.mu.Unlock()

	h.s.HandlePush(Push{Cmd: "lock", User: "ann"})
	h.s.Sync()
	h.s.HandlePush(Push{Cmd: "unlock"})
	h.s.Sync()

	if got := h.svc.openCount(); got != 1 {
		t.Fatalf("opens = %d, want refetch on unlock-while-locked", got)
	}
	if h.buf.Value() != "b { top: 0; }" {
		t.Fatalf("buffer = %q, want fetched content", h.buf.Value())
	}
	// 替换本身不触发保存
	time.Sleep(3 * testTimings().SaveDebounce)
	if n := h.svc.saveCount(); n != 0 {
		t.Fatalf("save count = %d after refresh replacement, want 0", n)
	}

	// 已解锁时再收 unlock：走免拉取路径
	h.s.HandlePush(Push{Cmd: "unlock"})
	h.s.Sync()
	if got := h.svc.openCount(); got != 1 {
		t.Fatalf("opens = %d after redundant unlock, want still 1", got)
	}
	if st := h.s.State(); st.Locked {
		t.Fatalf("state = %+v, want unlocked", st)
	}
}

func TestSession_RefreshCancelsPendingSave(t *testing.T) {
	h := newHarness(t)
	h.frameReady(t)

	h.buf.SetValue("a { color: red; }")
	h.s.Sync()
	// 去抖还挂着，refresh 先到
	h.s.HandlePush(Push{Cmd: "refresh"})
	h.s.Sync()

	st := h.s.State()
	if !st.Disconnected || !st.Locked {
		t.Fatalf("state = %+v, want disconnected and locked", st)
	}
	time.Sleep(4 * testTimings().SaveDebounce)
	if n := h.svc.saveCount(); n != 0 {
		t.Fatalf("save count = %d, pending save must die with the session", n)
	}

	// 断连后的编辑不再排保存
	h.buf.SetValue("a { color: green; }")
	time.Sleep(4 * testTimings().SaveDebounce)
	if n := h.svc.saveCount(); n != 0 {
		t.Fatalf("save count = %d after disconnected edit, want 0", n)
	}
}

func TestSession_SaveFailureDisconnects(t *testing.T) {
	h := newHarness(t)
	h.frameReady(t)
	h.svc.mu.Lock()
	h.svc.saveErr = errors.New("network down")
	h.svc.mu.Unlock()

	h.buf.SetValue("a { color: red; }")
	waitFor(t, func() bool { return h.s.State().Disconnected }, "disconnect on save failure")
	h.view.mu.Lock()
	n := len(h.view.statuses)
	h.view.mu.Unlock()
	if n == 0 {
		t.Fatal("no reload-required status shown")
	}
}

func TestSession_PublishPromotesPreview(t *testing.T) {
	h := newHarness(t)
	h.frameReady(t)

	h.buf.SetValue("a { color: red; }")
	waitFor(t, func() bool { return h.svc.saveCount() == 1 }, "autosave")

	h.s.Publish()
	h.s.Sync()
	waitFor(t, func() bool { return h.svc.saveCount() == 2 }, "publish save")

	h.svc.mu.Lock()
	pub := h.svc.saves[1]
	h.svc.mu.Unlock()
	if !pub.Publish || pub.SCSS != "a { color: red; }" {
		t.Fatalf("publish save = %+v", pub)
	}
	if h.style.PublishedSCSS != h.style.PreviewSCSS {
		t.Fatalf("PublishedSCSS = %q, want promoted preview content", h.style.PublishedSCSS)
	}
	if h.style.PublishedEdited.IsZero() {
		t.Fatal("published timestamp not set")
	}
}

func TestSession_FrameGraceExpiresToMissingTags(t *testing.T) {
	h := newHarness(t)
	// 不发 ready，只报加载完成
	h.s.FrameLoaded()
	waitFor(t, func() bool { return h.s.State().MissingTags }, "missing tags after grace period")
	if got := h.view.dialogCount(); got != 1 {
		t.Fatalf("dialog count = %d, want 1", got)
	}
	if !h.buf.ReadOnly() {
		t.Fatal("buffer editable in missing-tags state")
	}

	h.s.OverrideMissingTags()
	waitFor(t, func() bool { return !h.buf.ReadOnly() }, "editable after override")
}

func TestSession_HighlightDispatch(t *testing.T) {
	h := newHarness(t)
	h.frameReady(t)

	h.buf.SetValue("a {\n  b {\n  }\n}\n")
	h.s.Sync()
	h.buf.SetCursor(selector.Pos{Line: 1, Ch: 3})

	waitFor(t, func() bool {
		sels, ok := h.msgs.lastHighlight()
		return ok && reflect.DeepEqual(sels, []string{"a", "b"})
	}, "highlight with enclosing chain")
}

func TestSession_SelectionSuppressesHighlight(t *testing.T) {
	h := newHarness(t)
	h.frameReady(t)

	h.buf.SetValue("a {\n  b {\n  }\n}\n")
	h.s.Sync()
	h.buf.SetCursor(selector.Pos{Line: 1, Ch: 3})
	waitFor(t, func() bool {
		sels, ok := h.msgs.lastHighlight()
		return ok && len(sels) > 0
	}, "cursor highlight")

	// 有活动选区时不做解析，派发的是清除
	h.buf.SetSelection(Span{
		Anchor: selector.Pos{Line: 0, Ch: 0},
		Head:   selector.Pos{Line: 1, Ch: 3},
	})
	waitFor(t, func() bool {
		sels, ok := h.msgs.lastHighlight()
		return ok && len(sels) == 0
	}, "cleared highlight while selection active")
}

func TestSession_ResizeClearsHighlight(t *testing.T) {
	h := newHarness(t)
	h.frameReady(t)

	h.buf.SetValue("a {\n  b {\n  }\n}\n")
	h.s.Sync()
	h.buf.SetCursor(selector.Pos{Line: 1, Ch: 3})
	waitFor(t, func() bool { _, ok := h.msgs.lastHighlight(); return ok }, "initial highlight")

	h.s.Resize()
	// 先清空，布局稳定后按当前光标重新高亮
	waitFor(t, func() bool {
		h.msgs.mu.Lock()
		defer h.msgs.mu.Unlock()
		for _, sels := range h.msgs.highlights {
			if len(sels) == 0 {
				return true
			}
		}
		return false
	}, "highlight cleared on resize")
}
