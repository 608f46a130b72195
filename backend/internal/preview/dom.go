package preview

import (
	"strings"
	"sync"
)

// Box 是一个元素的盒模型度量，四元组顺序为 top/right/bottom/left。
type Box struct {
	Top, Left     float64
	Width, Height float64 // content box
	Margin        [4]float64
	Border        [4]float64
	Padding       [4]float64
}

// Element 是预览文档里的一个节点。这里只建模高亮需要的最小结构：
// 标签、id、class 和盒模型，不是浏览器 DOM。
type Element struct {
	Tag      string
	ID       string
	Classes  []string
	Box      Box
	Children []*Element
}

func (e *Element) hasClass(name string) bool {
	for _, c := range e.Classes {
		if c == name {
			return true
		}
	}
	return false
}

// walk 先序遍历 e 的整棵子树（含 e 自身）。
func (e *Element) walk(fn func(*Element)) {
	fn(e)
	for _, c := range e.Children {
		c.walk(fn)
	}
}

// StyleNode 对应页面 head 里挂的 style/link 节点；
// 预览样式锚点的 id 就是本会话的 page key。
type StyleNode struct {
	ID  string
	CSS string
}

// Document 是嵌入预览上下文自己的文档。editor 上下文永远不直接碰它，
// 所有修改都经由 Preview Host Agent 处理的消息。
type Document struct {
	mu       sync.RWMutex
	Location string
	Root     *Element
	styles   []*StyleNode
}

func NewDocument(location string, root *Element) *Document {
	return &Document{Location: location, Root: root}
}

func (d *Document) AppendStyle(node *StyleNode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.styles = append(d.styles, node)
}

// findStyle 按 id 定位样式锚点；找不到说明页面没接入预览标签。
func (d *Document) findStyle(id string) *StyleNode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.styles {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// SwapStyle 用一个全新节点原地替换 id 相同的旧节点，避免出现
// 先删后加造成的无样式闪烁。锚点缺失时返回 false。
func (d *Document) SwapStyle(id, css string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.styles {
		if s.ID == id {
			d.styles[i] = &StyleNode{ID: id, CSS: css}
			return true
		}
	}
	return false
}

// StyleCSS 返回锚点当前承载的样式文本；锚点缺失返回空串。
func (d *Document) StyleCSS(id string) string {
	if s := d.findStyle(id); s != nil {
		return s.CSS
	}
	return ""
}

// parseSimple 拆解一个简单选择器：tag、#id、.class 的复合，或 "*"。
type simpleSelector struct {
	tag     string
	id      string
	classes []string
	any     bool
}

func parseSimple(sel string) simpleSelector {
	sel = strings.TrimSpace(sel)
	if sel == "*" {
		return simpleSelector{any: true}
	}
	var out simpleSelector
	mode := byte(0) // 0=tag '#'=id '.'=class
	var buf strings.Builder
	flush := func() {
		part := buf.String()
		buf.Reset()
		switch {
		case mode == '#':
			out.id = part
		case mode == '.' && part != "":
			out.classes = append(out.classes, part)
		case mode == 0:
			out.tag = part
		}
	}
	for i := 0; i < len(sel); i++ {
		if sel[i] == '#' || sel[i] == '.' {
			flush()
			mode = sel[i]
			continue
		}
		buf.WriteByte(sel[i])
	}
	flush()
	return out
}

func (s simpleSelector) matches(e *Element) bool {
	if s.any {
		return true
	}
	if s.tag != "" && !strings.EqualFold(s.tag, e.Tag) {
		return false
	}
	if s.id != "" && s.id != e.ID {
		return false
	}
	for _, c := range s.classes {
		if !e.hasClass(c) {
			return false
		}
	}
	return s.tag != "" || s.id != "" || len(s.classes) > 0
}
