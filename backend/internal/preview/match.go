package preview

import "strings"

// 作用域式查找：链上第一个选择器在整个文档里查，后面的每个选择器
// 只在前一批命中的子树里继续收窄。选择器本身支持复合简单选择器、
// 后代组合器和 ">" 子组合器，够覆盖编辑器里解析出的链；更复杂的
// 语法不在支持范围内（本系统不重造 CSS 引擎）。
func (d *Document) Query(selectors []string) []*Element {
	if d.Root == nil || len(selectors) == 0 {
		return nil
	}
	set := selectIn([]*Element{d.Root}, selectors[0], true)
	for _, sel := range selectors[1:] {
		if len(set) == 0 {
			return nil
		}
		set = selectIn(set, sel, false)
	}
	return set
}

func selectIn(roots []*Element, sel string, includeRoots bool) []*Element {
	var out []*Element
	seen := make(map[*Element]bool)
	add := func(e *Element) {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	for _, alt := range strings.Split(sel, ",") {
		parts := strings.Fields(alt)
		if len(parts) == 0 {
			continue
		}
		for _, e := range evalSequence(roots, parts, includeRoots) {
			add(e)
		}
	}
	return out
}

func evalSequence(roots []*Element, parts []string, includeRoots bool) []*Element {
	current := gather(roots, parseSimple(parts[0]), includeRoots, false)
	i := 1
	for i < len(parts) {
		childOnly := false
		if parts[i] == ">" {
			childOnly = true
			i++
			if i >= len(parts) {
				return nil
			}
		}
		current = gather(current, parseSimple(parts[i]), false, childOnly)
		i++
	}
	return current
}

// gather 在 roots 的子树里收集命中 simple 的元素。
// includeRoots 决定根自身是否参与匹配；childOnly 只看直接子节点。
func gather(roots []*Element, simple simpleSelector, includeRoots, childOnly bool) []*Element {
	var out []*Element
	seen := make(map[*Element]bool)
	add := func(e *Element) {
		if simple.matches(e) && !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	for _, root := range roots {
		switch {
		case childOnly:
			for _, c := range root.Children {
				add(c)
			}
		case includeRoots:
			root.walk(add)
		default:
			for _, c := range root.Children {
				c.walk(add)
			}
		}
	}
	return out
}
