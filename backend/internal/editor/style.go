package editor

import (
	"time"

	"github.com/glitchdotcom/WebPutty/backend/internal/selector"
)

type Mode string

const (
	ModePreview   Mode = "preview"
	ModePublished Mode = "published"
)

// ModeState 是切换模式时留下的快照：光标、选区、编辑历史。
// 回到该模式时原样恢复；没有快照就清空历史，防止跨模式撤销串台。
type ModeState struct {
	Cursor    selector.Pos
	Selection *Span
	History   History
}

// StyleRecord 是一条样式的双份内容：preview 是沙箱，published 是线上。
// 同一时刻只有一条记录是“当前”的，只被协调器改动。
// 字段标签对齐服务端的 JSON。
type StyleRecord struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	PreviewSCSS     string    `json:"preview_scss"`
	PublishedSCSS   string    `json:"published_scss"`
	PreviewEdited   time.Time `json:"preview_dt_last_edit"`
	PublishedEdited time.Time `json:"published_dt_last_edit"`
	PageURL         string    `json:"page_url,omitempty"`

	modeState map[Mode]*ModeState
}

func (r *StyleRecord) Source(m Mode) string {
	if m == ModePublished {
		return r.PublishedSCSS
	}
	return r.PreviewSCSS
}

func (r *StyleRecord) SetSource(m Mode, scss string) {
	if m == ModePublished {
		r.PublishedSCSS = scss
		return
	}
	r.PreviewSCSS = scss
}

func (r *StyleRecord) LastEdited(m Mode) time.Time {
	if m == ModePublished {
		return r.PublishedEdited
	}
	return r.PreviewEdited
}

func (r *StyleRecord) snapshot(m Mode, st *ModeState) {
	if r.modeState == nil {
		r.modeState = make(map[Mode]*ModeState)
	}
	r.modeState[m] = st
}

// savedState 返回之前离开 m 时留下的快照；没有则为 nil。
func (r *StyleRecord) savedState(m Mode) *ModeState {
	return r.modeState[m]
}
