package preview

import "testing"

func queryDoc() *Document {
	root := &Element{
		Tag: "html",
		Children: []*Element{
			{Tag: "body", Children: []*Element{
				{Tag: "nav", ID: "top", Children: []*Element{
					{Tag: "a", Classes: []string{"active"}},
					{Tag: "a"},
				}},
				{Tag: "div", Classes: []string{"content", "wide"}, Children: []*Element{
					{Tag: "p", Children: []*Element{
						{Tag: "a"},
					}},
				}},
			}},
		},
	}
	return NewDocument("about:blank", root)
}

func TestQuery_ScopeNarrowsPerSelector(t *testing.T) {
	d := queryDoc()
	// 链：div.content 下的 a；nav 里的两个 a 不命中
	got := d.Query([]string{"div.content", "a"})
	if len(got) != 1 || got[0].Tag != "a" {
		t.Fatalf("Query() matched %d elements, want the single content link", len(got))
	}
}

func TestQuery_ChildCombinator(t *testing.T) {
	d := queryDoc()
	if got := d.Query([]string{"nav > a"}); len(got) != 2 {
		t.Fatalf("Query(nav > a) matched %d, want 2", len(got))
	}
	// a 不是 div.content 的直接子节点
	if got := d.Query([]string{"div.content > a"}); len(got) != 0 {
		t.Fatalf("Query(div.content > a) matched %d, want 0", len(got))
	}
}

func TestQuery_CommaUnion(t *testing.T) {
	d := queryDoc()
	got := d.Query([]string{"nav, p"})
	if len(got) != 2 {
		t.Fatalf("Query(nav, p) matched %d, want 2", len(got))
	}
}

func TestQuery_CompoundSelector(t *testing.T) {
	d := queryDoc()
	if got := d.Query([]string{"div.content.wide"}); len(got) != 1 {
		t.Fatalf("Query(div.content.wide) matched %d, want 1", len(got))
	}
	if got := d.Query([]string{"div.content.narrow"}); len(got) != 0 {
		t.Fatalf("Query(div.content.narrow) matched %d, want 0", len(got))
	}
	if got := d.Query([]string{"#top"}); len(got) != 1 || got[0].Tag != "nav" {
		t.Fatalf("Query(#top) = %v, want the nav element", got)
	}
}

func TestQuery_SubsequentSelectorExcludesRoot(t *testing.T) {
	d := queryDoc()
	// 第二段只在前一批命中的“子树内部”找，不包含命中元素自身
	if got := d.Query([]string{"div.content", "div"}); len(got) != 0 {
		t.Fatalf("Query() matched %d, want 0", len(got))
	}
}
