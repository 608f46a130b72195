package comm

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Command string

// 两个方向的命令集都是封闭的；未知命令不报错，直接忽略。
const (
	// editor -> preview
	CmdReady     Command = "ready"
	CmdUpdate    Command = "update"
	CmdHighlight Command = "highlight"
	CmdPrintLog  Command = "printLog"
	CmdFirebug   Command = "firebug"

	// preview -> editor（CmdReady 两个方向都有）
	CmdMissingStyleTag Command = "missing_style_tag"
)

// Envelope 是线上的扁平信封：{pageKey, command, data}，序列化成文本传输。
type Envelope struct {
	PageKey string          `json:"pageKey"`
	Command Command         `json:"command"`
	Data    json.RawMessage `json:"data,omitempty"`
}

var ErrBadEnvelope = errors.New("comm: malformed envelope")

func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if env.Command == "" {
		return Envelope{}, fmt.Errorf("%w: missing command", ErrBadEnvelope)
	}
	return env, nil
}

// ReadyData 由 preview 上报，携带其当前位置。
type ReadyData struct {
	Href string `json:"href"`
}

// HighlightData 携带自外向内的选择器链；nil 表示清除高亮。
type HighlightData struct {
	Selectors []string `json:"selectors"`
}
