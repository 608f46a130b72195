package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrStyleNotFound = errors.New("store: style not found")

// Style 是一条样式的主记录。preview/published 各指向一条修订，
// 发布就是把 published 指到 preview 的那条上。
type Style struct {
	ID             uint64 `gorm:"primaryKey"`
	PageKey        string `gorm:"size:64;uniqueIndex"`
	Name           string `gorm:"size:255"`
	PageURL        string `gorm:"size:1024"`
	PreviewRevID   *uint64
	PublishedRevID *uint64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StyleRevision 保存一版源码和它的编译产物。
type StyleRevision struct {
	ID        uint64 `gorm:"primaryKey"`
	StyleID   uint64 `gorm:"index"`
	SCSS      string `gorm:"type:mediumtext"`
	CSS       string `gorm:"type:mediumtext"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StyleData 是发给编辑器的样式视图，两种模式的内容并排。
type StyleData struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	PreviewSCSS     string    `json:"preview_scss"`
	PublishedSCSS   string    `json:"published_scss"`
	PreviewEdited   time.Time `json:"preview_dt_last_edit"`
	PublishedEdited time.Time `json:"published_dt_last_edit"`
	PageURL         string    `json:"page_url,omitempty"`
}

type StyleStore struct {
	db *gorm.DB
}

func NewStyleStore(db *gorm.DB) *StyleStore {
	return &StyleStore{db: db}
}

// Create 建一条新样式，page key 用 uuid，预览和发布各指向同一条空修订。
func (s *StyleStore) Create(ctx context.Context, name, pageURL string) (*Style, error) {
	style := &Style{
		PageKey: uuid.NewString(),
		Name:    name,
		PageURL: pageURL,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(style).Error; err != nil {
			return err
		}
		rev := &StyleRevision{StyleID: style.ID}
		if err := tx.Create(rev).Error; err != nil {
			return err
		}
		style.PreviewRevID = &rev.ID
		style.PublishedRevID = &rev.ID
		return tx.Save(style).Error
	})
	if err != nil {
		return nil, err
	}
	return style, nil
}

func (s *StyleStore) ByPageKey(ctx context.Context, pageKey string) (*Style, error) {
	var style Style
	err := s.db.WithContext(ctx).Where("page_key = ?", pageKey).First(&style).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: page %s", ErrStyleNotFound, pageKey)
	}
	if err != nil {
		return nil, err
	}
	return &style, nil
}

// Records 返回页面的样式视图（目前一页一条样式）。
func (s *StyleStore) Records(ctx context.Context, pageKey string) ([]StyleData, error) {
	style, err := s.ByPageKey(ctx, pageKey)
	if err != nil {
		return nil, err
	}
	data := StyleData{
		ID:      strconv.FormatUint(style.ID, 10),
		Name:    style.Name,
		PageURL: style.PageURL,
	}
	if rev, err := s.revision(ctx, style.PreviewRevID); err == nil && rev != nil {
		data.PreviewSCSS = rev.SCSS
		data.PreviewEdited = rev.UpdatedAt
	}
	if rev, err := s.revision(ctx, style.PublishedRevID); err == nil && rev != nil {
		data.PublishedSCSS = rev.SCSS
		data.PublishedEdited = rev.UpdatedAt
	}
	return []StyleData{data}, nil
}

func (s *StyleStore) revision(ctx context.Context, id *uint64) (*StyleRevision, error) {
	if id == nil {
		return nil, nil
	}
	var rev StyleRevision
	if err := s.db.WithContext(ctx).First(&rev, *id).Error; err != nil {
		return nil, err
	}
	return &rev, nil
}

// SavePreview 落一次保存。预览修订和发布修订同指一条时先分叉出新修订，
// 发布版不能被后续编辑污染。
func (s *StyleStore) SavePreview(ctx context.Context, pageKey string, styleID uint64, scss, css string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var style Style
		if err := tx.Where("page_key = ? AND id = ?", pageKey, styleID).First(&style).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: style %d on page %s", ErrStyleNotFound, styleID, pageKey)
			}
			return err
		}
		shared := style.PreviewRevID == nil ||
			(style.PublishedRevID != nil && *style.PreviewRevID == *style.PublishedRevID)
		if shared {
			rev := &StyleRevision{StyleID: style.ID, SCSS: scss, CSS: css}
			if err := tx.Create(rev).Error; err != nil {
				return err
			}
			style.PreviewRevID = &rev.ID
			return tx.Save(&style).Error
		}
		return tx.Model(&StyleRevision{}).Where("id = ?", *style.PreviewRevID).
			Updates(map[string]any{"scss": scss, "css": css}).Error
	})
}

// Publish 把发布指针挪到当前预览修订上。
func (s *StyleStore) Publish(ctx context.Context, pageKey string, styleID uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var style Style
		if err := tx.Where("page_key = ? AND id = ?", pageKey, styleID).First(&style).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: style %d on page %s", ErrStyleNotFound, styleID, pageKey)
			}
			return err
		}
		style.PublishedRevID = style.PreviewRevID
		return tx.Save(&style).Error
	})
}

// CSS 取一个页面编译后的产物，published 决定取哪条修订。
func (s *StyleStore) CSS(ctx context.Context, pageKey string, published bool) (string, error) {
	style, err := s.ByPageKey(ctx, pageKey)
	if err != nil {
		return "", err
	}
	id := style.PreviewRevID
	if published {
		id = style.PublishedRevID
	}
	rev, err := s.revision(ctx, id)
	if err != nil || rev == nil {
		return "", err
	}
	return rev.CSS, nil
}
