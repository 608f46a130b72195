package editor

import (
	"strings"
	"sync"

	"github.com/glitchdotcom/WebPutty/backend/internal/selector"
)

// Span 是一段选区，Anchor==Head 表示只有光标没有选区。
type Span struct {
	Anchor selector.Pos
	Head   selector.Pos
}

// History 是编辑历史的一份快照，可整体取出、整体装回。
type History struct {
	Undo []string
	Redo []string
}

// Buffer 抽象代码编辑控件：取/设内容、光标、选区、历史，只读开关，
// 以及变更和光标活动的回调。协调器只认这个接口，不关心控件实现。
type Buffer interface {
	Value() string
	SetValue(string)
	Cursor() selector.Pos
	SetCursor(selector.Pos)
	Selection() (Span, bool)
	SetSelection(Span)
	ClearSelection()
	History() History
	SetHistory(History)
	ClearHistory()
	LineCount() int
	Line(i int) string
	SetReadOnly(bool)
	ReadOnly() bool
	OnChange(func())
	OnCursorActivity(func())
}

// MemBuffer 是纯内存实现，测试和无界面运行用。
// 回调在调用 SetValue/SetCursor 的 goroutine 上同步触发。
type MemBuffer struct {
	mu       sync.Mutex
	value    string
	cursor   selector.Pos
	sel      *Span
	history  History
	readOnly bool

	changeFns []func()
	cursorFns []func()
}

func NewMemBuffer(value string) *MemBuffer {
	return &MemBuffer{value: value}
}

func (b *MemBuffer) Value() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

// SetValue 替换全文并触发变更回调。程序性替换和用户编辑走同一条路，
// 由调用方用 switching 标志区分（和真实编辑控件一致）。
func (b *MemBuffer) SetValue(v string) {
	b.mu.Lock()
	if v == b.value {
		b.mu.Unlock()
		return
	}
	b.history.Undo = append(b.history.Undo, b.value)
	b.history.Redo = nil
	b.value = v
	fns := append([]func(){}, b.changeFns...)
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (b *MemBuffer) Cursor() selector.Pos {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

func (b *MemBuffer) SetCursor(p selector.Pos) {
	b.mu.Lock()
	b.cursor = p
	b.sel = nil
	fns := append([]func(){}, b.cursorFns...)
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (b *MemBuffer) Selection() (Span, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sel == nil || b.sel.Anchor == b.sel.Head {
		return Span{}, false
	}
	return *b.sel, true
}

func (b *MemBuffer) SetSelection(s Span) {
	b.mu.Lock()
	b.sel = &s
	b.cursor = s.Head
	fns := append([]func(){}, b.cursorFns...)
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (b *MemBuffer) ClearSelection() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sel = nil
}

func (b *MemBuffer) History() History {
	b.mu.Lock()
	defer b.mu.Unlock()
	return History{
		Undo: append([]string(nil), b.history.Undo...),
		Redo: append([]string(nil), b.history.Redo...),
	}
}

func (b *MemBuffer) SetHistory(h History) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = History{
		Undo: append([]string(nil), h.Undo...),
		Redo: append([]string(nil), h.Redo...),
	}
}

func (b *MemBuffer) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = History{}
}

func (b *MemBuffer) LineCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Count(b.value, "\n") + 1
}

func (b *MemBuffer) Line(i int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	lines := strings.Split(b.value, "\n")
	if i < 0 || i >= len(lines) {
		return ""
	}
	return lines[i]
}

// SetReadOnly 只挡用户输入；程序性 SetValue 不受影响，
// 锁定状态下服务端刷新内容仍要能落进来。
func (b *MemBuffer) SetReadOnly(ro bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readOnly = ro
}

func (b *MemBuffer) ReadOnly() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readOnly
}

func (b *MemBuffer) OnChange(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changeFns = append(b.changeFns, fn)
}

func (b *MemBuffer) OnCursorActivity(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cursorFns = append(b.cursorFns, fn)
}
