// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"safechat-go/internal/config"
	"safechat-go/internal/handler"
	"safechat-go/internal/hub"
	"safechat-go/internal/middleware"
	"safechat-go/internal/model"
	"safechat-go/internal/repository"
	"safechat-go/internal/service"
	"safechat-go/pkg/ai"
	"safechat-go/pkg/database"
	"safechat-go/pkg/kafka"
	"safechat-go/pkg/log"
	"safechat-go/pkg/moderation"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 与 Kafka（反馈管道）
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err := database.DB.AutoMigrate(&model.FeedbackRecord{}); err != nil {
		log.Fatal("反馈记录表迁移失败", err)
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	feedbackRepo := repository.NewFeedbackRepository(database.DB)
	analyticsRepo := repository.NewAnalyticsRepository(database.RDB)

	// 5. 初始化 Service (依赖注入)
	moderationClient := moderation.NewClient(cfg.Moderation)
	aiResponder := ai.NewResponder(cfg.AI)
	broadcastHub := hub.NewHub()
	sessionService := service.NewSessionService(broadcastHub, moderationClient, aiResponder, cfg.Chat, cfg.AI)
	feedbackService := service.NewFeedbackService(feedbackRepo, analyticsRepo, kafka.ProduceFeedbackRecord)

	// 6. 启动后台 Kafka 消费者（反馈记录入库与统计）
	go kafka.StartConsumer(cfg.Kafka, feedbackService)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	systemHandler := handler.NewSystemHandler()
	feedbackHandler := handler.NewFeedbackHandler(feedbackService)
	chatHandler := handler.NewChatHandler(sessionService, broadcastHub)

	r.GET("/health", systemHandler.Health)

	api := r.Group("/api")
	{
		api.GET("/info", systemHandler.Info)
		api.GET("/ai/status", systemHandler.AIStatus)

		feedback := api.Group("/feedback")
		{
			feedback.POST("", feedbackHandler.Submit)
			feedback.GET("/logs", feedbackHandler.Logs)
			feedback.GET("/analytics", feedbackHandler.Analytics)
		}
	}

	// Chat 路由 (WebSocket)
	r.GET("/chat", chatHandler.Handle)

	// 静态资源（浏览器 UI）
	r.Static("/static", "./web/static")
	r.StaticFile("/", "./web/static/index.html")

	// 9. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 兜底定时器：任何一步卡住都强制退出进程
	forceExit := time.AfterFunc(10*time.Second, func() {
		log.Errorf("优雅停机超时，强制退出")
		os.Exit(1)
	})
	defer forceExit.Stop()

	// 停机顺序：停止接受新连接 → 强制断开在线连接 → 清空会话状态
	// → 关闭上游客户端 → 关闭监听
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	broadcastHub.CloseAll()
	sessionService.Shutdown()
	moderationClient.Close()
	aiResponder.Close()
	kafka.CloseProducer()
	database.CloseRedis()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
