package comm

import (
	"encoding/json"
	"testing"
	"time"
)

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("handler got %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func TestChannel_DeliversMatchingPageKey(t *testing.T) {
	a, b := Pair("http://editor.local", "http://preview.local")
	editor := New("P1", a, nil)
	preview := New("P1", b, nil)

	got := make(chan string, 1)
	stop := preview.Receive("preview", nil, Handlers{
		CmdUpdate: func(data json.RawMessage) {
			var css string
			_ = json.Unmarshal(data, &css)
			got <- css
		},
	})
	defer stop()

	if err := editor.Send("editor", CmdUpdate, "body{color:red}", "*"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	waitFor(t, got, "body{color:red}")
}

func TestChannel_DropsMismatchingPageKey(t *testing.T) {
	a, b := Pair("http://editor.local", "http://preview.local")
	editor := New("P2", a, nil)
	preview := New("P1", b, nil)

	got := make(chan string, 1)
	stop := preview.Receive("preview", nil, Handlers{
		CmdUpdate: func(data json.RawMessage) { got <- string(data) },
	})
	defer stop()

	if err := editor.Send("editor", CmdUpdate, "body{color:red}", "*"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	select {
	case css := <-got:
		t.Fatalf("handler invoked for mismatching key, got %q", css)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChannel_RejectsOrigin(t *testing.T) {
	a, b := Pair("http://evil.local", "http://preview.local")
	editor := New("P1", a, nil)
	preview := New("P1", b, nil)

	got := make(chan string, 1)
	allowed := func(origin string) bool { return origin == "http://editor.local" }
	stop := preview.Receive("preview", allowed, Handlers{
		CmdUpdate: func(data json.RawMessage) { got <- string(data) },
	})
	defer stop()

	_ = editor.Send("editor", CmdUpdate, "x", "*")
	select {
	case <-got:
		t.Fatal("handler invoked for rejected origin")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChannel_IgnoresMalformedAndUnknown(t *testing.T) {
	a, b := Pair("http://editor.local", "http://preview.local")
	preview := New("P1", b, nil)

	got := make(chan string, 1)
	stop := preview.Receive("preview", nil, Handlers{
		CmdUpdate: func(data json.RawMessage) { got <- string(data) },
	})
	defer stop()

	// 坏 JSON、缺命令、未知命令都不该触发 handler，也不该崩溃
	_ = a.Post([]byte("not json at all"), "*")
	_ = a.Post([]byte(`{"pageKey":"P1"}`), "*")
	_ = a.Post([]byte(`{"pageKey":"P1","command":"nonsense","data":"1"}`), "*")

	select {
	case data := <-got:
		t.Fatalf("handler invoked unexpectedly with %q", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChannel_TargetOriginFiltering(t *testing.T) {
	a, b := Pair("http://editor.local", "http://preview.local")
	editor := New("P1", a, nil)
	preview := New("P1", b, nil)

	got := make(chan string, 1)
	stop := preview.Receive("preview", nil, Handlers{
		CmdUpdate: func(data json.RawMessage) { got <- string(data) },
	})
	defer stop()

	// 限定到错误的 targetOrigin：静默丢弃
	_ = editor.Send("editor", CmdUpdate, "a", "http://other.local")
	select {
	case <-got:
		t.Fatal("message delivered to non-matching target origin")
	case <-time.After(100 * time.Millisecond):
	}

	// 限定到正确的 targetOrigin：投递
	_ = editor.Send("editor", CmdUpdate, "b", "http://preview.local")
	waitFor(t, got, `"b"`)
}
