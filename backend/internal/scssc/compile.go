package scssc

import (
	"fmt"
	"io"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// Result 是一次编译的产物。Log 非空表示有诊断，但不阻止保存：
// 诊断展示给编辑者，产出照常入库。
type Result struct {
	CSS string
	Log string
}

// Compile 用词法器过一遍源码：剔除注释、压缩空白、收集诊断。
// 嵌套规则原样保留，这里不做展开（不重造 CSS 引擎）。
func Compile(src string) Result {
	l := css.NewLexer(parse.NewInputString(src))

	var out []byte
	var diags []string
	pendingSpace := false
	depth := 0

	write := func(data []byte) {
		if len(data) == 0 {
			return
		}
		if pendingSpace && len(out) > 0 && !tight(out[len(out)-1]) && !tight(data[0]) {
			out = append(out, ' ')
		}
		pendingSpace = false
		out = append(out, data...)
	}

	for {
		tt, data := l.Next()
		if tt == css.ErrorToken {
			if err := l.Err(); err != nil && err != io.EOF {
				diags = append(diags, err.Error())
			}
			break
		}
		switch tt {
		case css.CommentToken:
			continue
		case css.WhitespaceToken:
			pendingSpace = true
			continue
		case css.BadStringToken:
			diags = append(diags, "unterminated string")
		case css.BadURLToken:
			diags = append(diags, "malformed url()")
		case css.URLToken:
			// 样式表不和页面同源，相对地址到了线上就指错地方
			if u := innerURL(data); relativeURL(u) {
				diags = append(diags, fmt.Sprintf("relative URL %q won't resolve once the stylesheet is served from this server", u))
			}
		case css.LeftBraceToken:
			depth++
		case css.RightBraceToken:
			depth--
			if depth < 0 {
				diags = append(diags, "unexpected '}'")
				depth = 0
			}
		}
		write(data)
	}
	if depth > 0 {
		diags = append(diags, "unclosed block")
	}

	return Result{
		CSS: strings.TrimSpace(string(out)),
		Log: strings.Join(diags, "\n"),
	}
}

// tight 两侧的空白可以安全去掉；'.'、':' 这类在选择器里有
// 结合语义的字符不能进这个集合。
func tight(b byte) bool {
	switch b {
	case '{', '}', ';', ',':
		return true
	}
	return false
}

func innerURL(data []byte) string {
	s := string(data)
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(s, ")")
	s = strings.Trim(s, " \t\"'")
	return s
}

func relativeURL(u string) bool {
	if u == "" {
		return false
	}
	for _, p := range []string{"http://", "https://", "//", "/", "data:"} {
		if strings.HasPrefix(u, p) {
			return false
		}
	}
	return true
}
