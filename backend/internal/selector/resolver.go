package selector

import (
	"regexp"
	"strings"
)

// Pos 是缓冲区里的一个位置，行、列均从 0 开始。
type Pos struct {
	Line int
	Ch   int
}

var (
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	// 单行注释、@import、@media 都不构成嵌套选择器作用域，整行去掉
	reLineNoise   = regexp.MustCompile(`(?mi)^[ \t]*(//|@import|@media).*$`)
	reBraceComma  = regexp.MustCompile(`\s*([{},])\s*`)
	reWhitespace  = regexp.MustCompile(`\s+`)
	reAfterEnd    = regexp.MustCompile(`[;){}]\s*$`)
	reLeadingGap  = regexp.MustCompile(`^\s`)
)

func indexOfAny(s string, chars string) int {
	min := -1
	for _, ch := range chars {
		if ix := strings.IndexRune(s, ch); ix != -1 {
			if min == -1 || ix < min {
				min = ix
			}
		}
	}
	return min
}

// Resolve 把光标位置映射为自外向内包围它的选择器链。
// 光标不落在选择器位置上、或文本无法可靠解析时返回 nil —— 从不 panic。
// 空文档、光标在 (0,0)、有活动选区这几种情况由调用方直接跳过，不会走到这里。
func Resolve(text string, cur Pos) []string {
	lines := strings.Split(text, "\n")
	line := cur.Line
	if line < 0 {
		line = 0
	}
	if line >= len(lines) {
		line = len(lines) - 1
	}
	col := cur.Ch
	if col < 0 {
		col = 0
	}
	if col > len(lines[line]) {
		col = len(lines[line])
	}

	head := append([]string(nil), lines[:line+1]...)
	head[len(head)-1] = head[len(head)-1][:col]
	before := strings.Join(head, "\n")
	after := text[len(before):]

	firstEnd := indexOfAny(after, ";)}")
	nextStart := strings.Index(after, "{")

	// 光标必须位于某个选择器位置上：后方要先遇到 "{"，而不是语句终结符
	if nextStart == -1 || (firstEnd != -1 && nextStart > firstEnd) {
		return nil
	}
	// 落在上一条规则结束后的空白里，算“在规则之间”，不算在选择器里
	if reAfterEnd.MatchString(before) && reLeadingGap.MatchString(after) {
		return nil
	}

	s := text[:len(before)+nextStart]
	s = reBlockComment.ReplaceAllString(s, "")
	s = reLineNoise.ReplaceAllString(s, "")
	s = reBraceComma.ReplaceAllString(s, " $1 ")
	s = strings.TrimSpace(reWhitespace.ReplaceAllString(s, " "))
	if s == "" {
		return nil
	}
	tokens := strings.Split(s, " ")

	// 从截断点倒着扫：深度计数器区分“旁系的兄弟块”和“真正包住光标的祖先块”
	inSelector := true
	depth := 0
	var selectors []string
	var current []string
	for i := len(tokens) - 1; i >= 0; i-- {
		switch {
		case inSelector:
			current = append([]string{tokens[i]}, current...)
			if i == 0 || endsStatement(tokens[i-1]) {
				selectors = append([]string{strings.Join(current, " ")}, selectors...)
				current = nil
				inSelector = false
			}
		case tokens[i] == "}":
			depth++
		case tokens[i] == "{":
			if depth > 0 {
				depth--
			} else {
				inSelector = true
			}
		}
	}

	if len(selectors) == 0 {
		return nil
	}
	if len(selectors) == 1 {
		// 整个 body/html 的高亮没有参考价值，宁可不亮
		if selectors[0] == "body" || selectors[0] == "html" {
			return nil
		}
	}
	return selectors
}

func endsStatement(token string) bool {
	if token == "" {
		return false
	}
	switch token[len(token)-1] {
	case ';', '{', '}', ')':
		return true
	}
	return false
}
