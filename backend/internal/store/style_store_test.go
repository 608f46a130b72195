package store

import (
	"context"
	"os"
	"testing"

	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("STYLE_TEST_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(127.0.0.1:3306)/style_test?parseTime=true&charset=utf8mb4"
	}
	db, err := InitMySQL(dsn)
	// 若 MySQL 未启动则跳过
	if err != nil {
		t.Skipf("skip: mysql not available: %v", err)
	}
	t.Cleanup(func() {
		db.Exec("DELETE FROM style_revisions")
		db.Exec("DELETE FROM styles")
	})
	return db
}

func TestStyleStore_SaveForksFromPublished(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	s := NewStyleStore(db)

	style, err := s.Create(ctx, "site theme", "https://site.example.com")
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if style.PreviewRevID == nil || style.PublishedRevID == nil ||
		*style.PreviewRevID != *style.PublishedRevID {
		t.Fatalf("fresh style revs = %v/%v, want shared", style.PreviewRevID, style.PublishedRevID)
	}

	// 第一次保存：预览从发布版分叉出来
	if err := s.SavePreview(ctx, style.PageKey, style.ID, "a{color:red}", "a{color: red;}"); err != nil {
		t.Fatalf("SavePreview() = %v", err)
	}
	got, err := s.ByPageKey(ctx, style.PageKey)
	if err != nil {
		t.Fatalf("ByPageKey() = %v", err)
	}
	if *got.PreviewRevID == *got.PublishedRevID {
		t.Fatal("preview rev still shared with published after save")
	}

	// 第二次保存：原地更新预览修订，不再分叉
	forked := *got.PreviewRevID
	if err := s.SavePreview(ctx, style.PageKey, style.ID, "a{color:green}", "a{color: green;}"); err != nil {
		t.Fatalf("SavePreview() = %v", err)
	}
	got, _ = s.ByPageKey(ctx, style.PageKey)
	if *got.PreviewRevID != forked {
		t.Fatalf("preview rev = %d, want in-place update of %d", *got.PreviewRevID, forked)
	}

	recs, err := s.Records(ctx, style.PageKey)
	if err != nil {
		t.Fatalf("Records() = %v", err)
	}
	if recs[0].PreviewSCSS != "a{color:green}" || recs[0].PublishedSCSS != "" {
		t.Fatalf("Records() = %+v", recs[0])
	}
}

func TestStyleStore_PublishPromotesPreview(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	s := NewStyleStore(db)

	style, err := s.Create(ctx, "site theme", "https://site.example.com")
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if err := s.SavePreview(ctx, style.PageKey, style.ID, "a{color:red}", "a{color: red;}"); err != nil {
		t.Fatalf("SavePreview() = %v", err)
	}
	if err := s.Publish(ctx, style.PageKey, style.ID); err != nil {
		t.Fatalf("Publish() = %v", err)
	}

	css, err := s.CSS(ctx, style.PageKey, true)
	if err != nil {
		t.Fatalf("CSS() = %v", err)
	}
	if css != "a{color: red;}" {
		t.Fatalf("published CSS = %q", css)
	}

	// 发布后再保存：又从发布版分叉
	if err := s.SavePreview(ctx, style.PageKey, style.ID, "a{color:blue}", "a{color: blue;}"); err != nil {
		t.Fatalf("SavePreview() = %v", err)
	}
	if css, _ := s.CSS(ctx, style.PageKey, true); css != "a{color: red;}" {
		t.Fatalf("published CSS = %q, must not follow preview edits", css)
	}
	if css, _ := s.CSS(ctx, style.PageKey, false); css != "a{color: blue;}" {
		t.Fatalf("preview CSS = %q", css)
	}
}

func TestStyleStore_UnknownPage(t *testing.T) {
	db := testDB(t)
	s := NewStyleStore(db)
	_, err := s.ByPageKey(context.Background(), "nope")
	if err == nil {
		t.Fatal("ByPageKey() = nil error for unknown page")
	}
}
