package httpapi

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"github.com/glitchdotcom/WebPutty/backend/internal/cache"
	"github.com/glitchdotcom/WebPutty/backend/internal/dispatcher"
	"github.com/glitchdotcom/WebPutty/backend/internal/scssc"
	"github.com/glitchdotcom/WebPutty/backend/internal/store"
	"github.com/glitchdotcom/WebPutty/backend/internal/ws"
)

// 依赖都收成小接口，处理器可以脱离 mysql/redis 测试。

type Styles interface {
	Records(ctx context.Context, pageKey string) ([]store.StyleData, error)
	SavePreview(ctx context.Context, pageKey string, styleID uint64, scss, css string) error
	Publish(ctx context.Context, pageKey string, styleID uint64) error
	CSS(ctx context.Context, pageKey string, published bool) (string, error)
}

type Locks interface {
	Register(ctx context.Context, pageKey, channelID, user string) error
	Claim(ctx context.Context, pageKey, channelID string) error
	Owner(ctx context.Context, pageKey string) (cache.Channel, error)
	Remove(ctx context.Context, pageKey, channelID string) error
}

type CSSCache interface {
	Get(ctx context.Context, pageKey, mode string) (string, bool, error)
	Set(ctx context.Context, pageKey, mode, css string) error
	Invalidate(ctx context.Context, pageKey string) error
}

type Notifier interface {
	Push(pageKey, channelID string, n ws.Notice)
	Broadcast(pageKey string, n ws.Notice, except string)
}

type Events interface {
	Enqueue(ctx context.Context, evt dispatcher.Event) error
}

type Handlers struct {
	styles   Styles
	locks    Locks
	cssCache CSSCache
	hub      Notifier
	events   Events
	// origin 是本实例的 id，事件消费侧用来跳过自己
	origin string
	sf     singleflight.Group
}

func NewHandlers(styles Styles, locks Locks, cssCache CSSCache, hub Notifier, events Events, origin string) *Handlers {
	return &Handlers{styles: styles, locks: locks, cssCache: cssCache, hub: hub, events: events, origin: origin}
}

func (h *Handlers) Register(r *gin.Engine, mgr *ws.Manager) {
	page := r.Group("/page")
	page.POST("/:pageID/rpc", h.RPC)
	page.GET("/:pageID/css", h.ExportCSS)

	authed := page.Group("", AuthMiddleware())
	authed.GET("/:pageID/styles", h.ListStyles)
	authed.GET("/:pageID/push", mgr.Connect)
}

type rpcEnvelope struct {
	From string `json:"from"`
	Data struct {
		Cmd      string `json:"cmd"`
		StyleID  string `json:"style_id"`
		PageKey  string `json:"page_key"`
		SCSS     string `json:"scss"`
		FPublish bool   `json:"fPublish"`
	} `json:"data"`
}

// RPC 是编辑会话的拉取面：open / claimLock / save。
// 令牌不认账一律回 {cmd:"refresh"}，客户端只能重新加载。
func (h *Handlers) RPC(c *gin.Context) {
	var env rpcEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed envelope"})
		return
	}
	claims, err := ParseChannelToken(env.From)
	if err != nil || claims.PageKey != c.Param("pageID") {
		c.JSON(http.StatusOK, gin.H{"cmd": "refresh"})
		return
	}
	ctx := c.Request.Context()
	pageKey := claims.PageKey

	switch env.Data.Cmd {
	case "open":
		if err := h.locks.Register(ctx, pageKey, claims.ChannelID, claims.User); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "register failed"})
			return
		}
		h.RecomputeLocks(ctx, pageKey)
		recs, err := h.styles.Records(ctx, pageKey)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load styles failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"styles": recs})

	case "claimLock":
		if err := h.locks.Claim(ctx, pageKey, claims.ChannelID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "claim failed"})
			return
		}
		h.RecomputeLocks(ctx, pageKey)
		c.JSON(http.StatusOK, gin.H{})

	case "save":
		styleID, err := strconv.ParseUint(env.Data.StyleID, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad style_id"})
			return
		}
		// 编译诊断不拦保存，原样带回给编辑器
		res := scssc.Compile(env.Data.SCSS)
		if err := h.styles.SavePreview(ctx, pageKey, styleID, env.Data.SCSS, res.CSS); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
			return
		}
		if env.Data.FPublish {
			if err := h.styles.Publish(ctx, pageKey, styleID); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "publish failed"})
				return
			}
			h.enqueue(ctx, dispatcher.Event{
				EventType: dispatcher.EventStylePublished,
				PageKey:   pageKey,
				User:      claims.User,
			})
		}
		if err := h.cssCache.Invalidate(ctx, pageKey); err != nil {
			log.Printf("css cache invalidate failed (page=%s): %v", pageKey, err)
		}
		c.JSON(http.StatusOK, gin.H{"css": res.CSS, "log": res.Log})

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown cmd"})
	}
}

// ListStyles 返回页面的样式记录，鉴权走中间件。
func (h *Handlers) ListStyles(c *gin.Context) {
	recs, err := h.styles.Records(c.Request.Context(), c.GetString("pageKey"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load styles failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"styles": recs})
}

// ExportCSS 对外发编译产物。缓存 + singleflight，发布页被打爆时
// 只有一个请求真正去查库。
func (h *Handlers) ExportCSS(c *gin.Context) {
	pageKey := c.Param("pageID")
	mode := "preview"
	published := c.Query("published") == "1"
	if published {
		mode = "published"
	}
	ctx := c.Request.Context()

	if css, ok, err := h.cssCache.Get(ctx, pageKey, mode); err == nil && ok {
		c.Data(http.StatusOK, "text/css; charset=utf-8", []byte(css))
		return
	}
	v, err, _ := h.sf.Do(pageKey+":"+mode, func() (any, error) {
		css, err := h.styles.CSS(ctx, pageKey, published)
		if err != nil {
			return "", err
		}
		if err := h.cssCache.Set(ctx, pageKey, mode, css); err != nil {
			log.Printf("css cache set failed (page=%s): %v", pageKey, err)
		}
		return css, nil
	})
	if err != nil {
		c.String(http.StatusNotFound, "/* no stylesheet for this page */")
		return
	}
	c.Data(http.StatusOK, "text/css; charset=utf-8", []byte(v.(string)))
}

// RecomputeLocks 重算一个页面的锁并通知本实例的连接，
// 再广播事件让其它实例照做。
func (h *Handlers) RecomputeLocks(ctx context.Context, pageKey string) {
	h.NotifyLocks(ctx, pageKey)
	h.enqueue(ctx, dispatcher.Event{
		EventType: dispatcher.EventLocksChanged,
		PageKey:   pageKey,
	})
}

// NotifyLocks 只做本地通知：队头的活通道拿锁（收 unlock），
// 其余通道收 lock{user: 锁主}。
func (h *Handlers) NotifyLocks(ctx context.Context, pageKey string) {
	owner, err := h.locks.Owner(ctx, pageKey)
	if err != nil {
		log.Printf("lock owner lookup failed (page=%s): %v", pageKey, err)
		return
	}
	if owner.ID == "" {
		return
	}
	h.hub.Push(pageKey, owner.ID, ws.Notice{Cmd: "unlock"})
	h.hub.Broadcast(pageKey, ws.Notice{Cmd: "lock", User: owner.User}, owner.ID)
}

// HandleChannelGone 在推送连接收尾时调用：摘通道、锁让位。
func (h *Handlers) HandleChannelGone(pageKey, channelID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.locks.Remove(ctx, pageKey, channelID); err != nil {
		log.Printf("channel remove failed (page=%s channel=%s): %v", pageKey, channelID, err)
		return
	}
	h.RecomputeLocks(ctx, pageKey)
}

// HandleRemoteEvent 消费其它实例广播的事件。
func (h *Handlers) HandleRemoteEvent(evt dispatcher.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	switch evt.EventType {
	case dispatcher.EventLocksChanged:
		h.NotifyLocks(ctx, evt.PageKey)
	case dispatcher.EventStylePublished:
		if err := h.cssCache.Invalidate(ctx, evt.PageKey); err != nil {
			log.Printf("remote invalidate failed (page=%s): %v", evt.PageKey, err)
		}
	}
}

func (h *Handlers) enqueue(ctx context.Context, evt dispatcher.Event) {
	if h.events == nil {
		return
	}
	evt.Origin = h.origin
	evt.At = time.Now()
	ctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	if err := h.events.Enqueue(ctx, evt); err != nil {
		log.Printf("event enqueue failed (page=%s type=%s): %v", evt.PageKey, evt.EventType, err)
	}
}
