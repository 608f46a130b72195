package editor

import "time"

// View 把所有界面改动收拢成一个窄接口，状态机不碰任何渲染细节。
// 实现可以是真实页面，也可以是测试里的记录器。
type View interface {
	SetEditable(bool)
	// ShowLockMessage 显示“被 user 锁定”的横幅；user 为空表示匿名持有者，
	// 清除横幅走 ClearLockMessage。
	ShowLockMessage(user string)
	ClearLockMessage()
	ShowStatus(msg string)
	// ShowCompileLog 展示编译诊断面板；空串表示收起面板。
	ShowCompileLog(log string)
	SetLastEdited(t time.Time)
	ShowMissingTagsDialog()
	NavigateFrame(url string)
}

// NopView 全部空实现，无界面场景用。
type NopView struct{}

func (NopView) SetEditable(bool)        {}
func (NopView) ShowLockMessage(string)  {}
func (NopView) ClearLockMessage()       {}
func (NopView) ShowStatus(string)       {}
func (NopView) ShowCompileLog(string)   {}
func (NopView) SetLastEdited(time.Time) {}
func (NopView) ShowMissingTagsDialog()  {}
func (NopView) NavigateFrame(string)    {}
