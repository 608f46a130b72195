package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/glitchdotcom/WebPutty/backend/internal/comm"
	"github.com/glitchdotcom/WebPutty/backend/internal/editor"
	"github.com/glitchdotcom/WebPutty/backend/internal/logger"
	"github.com/glitchdotcom/WebPutty/backend/internal/preview"
)

// 无界面沙箱：标准输入喂 scss，走真实的会话协调器和服务端通道，
// 预览上下文在同进程里用内存互联模拟。联调服务端时很方便。
func main() {
	server := flag.String("server", "http://localhost:3010", "style server base URL")
	page := flag.String("page", "", "page key")
	token := flag.String("token", "", "channel token (from POST /pages)")
	publish := flag.Bool("publish", false, "publish after the save settles")
	flag.Parse()
	if *page == "" || *token == "" {
		log.Fatal("both -page and -token are required")
	}

	lg := logger.New()
	lg.EnablePrint()
	lg.Enable("comm")
	lg.Enable("session")

	svc := &editor.HTTPService{
		URL:   strings.TrimRight(*server, "/") + "/page/" + *page + "/rpc",
		Token: *token,
	}
	ctx := context.Background()
	recs, err := svc.Open(ctx, *page)
	if err != nil {
		log.Fatalf("open failed: %v", err)
	}
	if len(recs) == 0 {
		log.Fatalf("no style records for page %s", *page)
	}
	style := recs[0]

	// 预览上下文：同进程内存互联，样式锚点 id 就是 page key
	doc := preview.NewDocument(style.PageURL, &preview.Element{Tag: "html"})
	doc.AppendStyle(&preview.StyleNode{ID: *page})
	edEnd, prEnd := comm.Pair("sandbox-editor", "sandbox-preview")
	agent := preview.NewAgent(*page, prEnd, doc, lg)
	stopAgent := agent.Start(nil)
	defer stopAgent()

	buf := editor.NewMemBuffer(style.PreviewSCSS)
	sess := editor.NewSession(editor.SessionConfig{
		PageKey:    *page,
		Style:      style,
		Buffer:     buf,
		Service:    svc,
		Transport:  edEnd,
		Log:        lg,
		PreviewURL: style.PageURL,
	})
	defer sess.Stop()

	// 服务端推送：lock/unlock/refresh
	wsURL := strings.Replace(strings.TrimRight(*server, "/"), "http", "ws", 1) +
		"/page/" + *page + "/push?token=" + *token
	if conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil); err != nil {
		log.Printf("push channel unavailable: %v", err)
	} else {
		go editor.ListenPush(ctx, conn, lg, sess.HandlePush)
	}

	src, err := io.ReadAll(os.Stdin)
	if err != nil {
		log.Fatalf("read stdin: %v", err)
	}
	buf.SetValue(string(src))

	// 等去抖窗口过去、保存落地
	time.Sleep(2 * editor.DefaultTimings().SaveDebounce)
	sess.Sync()

	if *publish {
		sess.Publish()
		sess.Sync()
	}

	st := sess.State()
	if st.Disconnected {
		log.Fatal("session disconnected; reload (new open) required")
	}
	fmt.Println(st.CSS)
}
