package logger

import (
	"fmt"
	"io"
	"log"
	"sync"
)

// 区域日志：每条记录归属一个 region，同时汇总到 "all"。
// comm 层的每一次收发都会写到这里，用于事后排查跨上下文消息问题。
// 打印开关按 region 控制，历史始终记录（printLog 命令要用）。
type Log struct {
	mu      sync.Mutex
	enabled map[string]bool
	history map[string][]string
	print   bool
}

func New() *Log {
	return &Log{
		enabled: make(map[string]bool),
		history: make(map[string][]string),
	}
}

// EnablePrint 让启用区域的记录同时写到标准日志输出。
func (l *Log) EnablePrint() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.print = true
}

func (l *Log) Enable(region string) {
	if region == "" {
		region = "all"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled[region] = true
}

func (l *Log) Disable(region string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.enabled, region)
}

func (l *Log) Logf(region string, format string, args ...any) {
	if region == "" {
		region = "all"
	}
	line := fmt.Sprintf(format, args...)
	l.mu.Lock()
	l.history[region] = append(l.history[region], line)
	if region != "all" {
		l.history["all"] = append(l.history["all"], line)
	}
	doPrint := l.print && (l.enabled["all"] || l.enabled[region])
	l.mu.Unlock()
	if doPrint {
		log.Printf("[%s] %s", region, line)
	}
}

// History 返回某个 region 的记录副本；region 为空表示 "all"。
func (l *Log) History(region string) []string {
	if region == "" {
		region = "all"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.history[region]))
	copy(out, l.history[region])
	return out
}

func (l *Log) PrintHistory(region string, w io.Writer) {
	for _, line := range l.History(region) {
		fmt.Fprintf(w, "[%s] %s\n", region, line)
	}
}
