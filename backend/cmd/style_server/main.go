package main

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/glitchdotcom/WebPutty/backend/config"
	"github.com/glitchdotcom/WebPutty/backend/internal/cache"
	"github.com/glitchdotcom/WebPutty/backend/internal/dispatcher"
	"github.com/glitchdotcom/WebPutty/backend/internal/httpapi"
	"github.com/glitchdotcom/WebPutty/backend/internal/store"
	"github.com/glitchdotcom/WebPutty/backend/internal/ws"
)

func initConfig() (*config.Config, error) {
	cfg := &config.Config{}
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 backend 目录启动
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	db, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// === 初始化 Kafka Producer ===
	kafkaCfg := sarama.NewConfig()
	// SyncProducer 必须开启 Return.Successes
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		log.Fatalf("Failed to connect kafka: %v", err)
	}
	defer producer.Close()

	events := dispatcher.New(producer, cfg.Kafka.Topic, dispatcher.Options{
		QueueSize:   10_000,
		Workers:     4,
		MaxRetry:    3,
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  1 * time.Second,
	})
	defer events.Stop()

	styles := store.NewStyleStore(db)
	locks := cache.NewLockRegistry(rdb)
	cssCache := cache.NewCSSCache(rdb)
	hub := ws.NewHub()
	manager := ws.NewManager(hub, locks, cfg.Preview.AllowedOrigins)

	// 实例 id：事件回环时跳过自己
	origin := uuid.NewString()
	handlers := httpapi.NewHandlers(styles, locks, cssCache, hub, events, origin)
	manager.OnDisconnect = handlers.HandleChannelGone

	// 消费其它实例广播的锁/发布事件
	go func() {
		if err := dispatcher.RunConsumer(context.Background(),
			cfg.Kafka.Brokers, cfg.Kafka.Group, cfg.Kafka.Topic, origin,
			handlers.HandleRemoteEvent); err != nil {
			log.Printf("event consumer stopped: %v", err)
		}
	}()

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// 预览页面跨源取 CSS，放开 CORS
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	handlers.Register(r, manager)
	handlers.RegisterAdmin(r, styles)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	_ = r.Run(":" + strconv.Itoa(cfg.Running.Port))
}
