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

	"ai-playground-go/internal/config"
	"ai-playground-go/internal/handler"
	"ai-playground-go/internal/middleware"
	"ai-playground-go/internal/model"
	"ai-playground-go/internal/repository"
	"ai-playground-go/internal/service"
	"ai-playground-go/pkg/database"
	"ai-playground-go/pkg/log"
	"ai-playground-go/pkg/openai"
	"ai-playground-go/pkg/storage"
	"ai-playground-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 和对象存储
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.AutoMigrate(&model.User{}, &model.ChatSession{}, &model.SessionMessage{})
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)

	// 4. 初始化 Repository
	userRepository := repository.NewUserRepository(database.DB)
	sessionRepository := repository.NewSessionRepository(database.DB)
	sessionCache := repository.NewSessionCache(database.RDB,
		cfg.Playground.HistoryLimit,
		time.Duration(cfg.Playground.CacheTTLHours)*time.Hour)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	llmClient := openai.NewClient(cfg.OpenAI)
	objectStore := service.NewMinioStore(cfg.MinIO.BucketName)
	userService := service.NewUserService(userRepository, jwtManager)
	sessionService := service.NewSessionService(sessionRepository, sessionCache)
	audioService := service.NewAudioService(llmClient, objectStore)

	// 6. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 7. 注册路由
	aiHandler := handler.NewAIHandler(llmClient)
	sessionHandler := handler.NewSessionHandler(sessionService)
	audioHandler := handler.NewAudioHandler(audioService)
	fileHandler := handler.NewFileHandler(objectStore)
	userHandler := handler.NewUserHandler(userService)
	playgroundHandler := handler.NewPlaygroundHandler(llmClient, sessionService, audioService, jwtManager)

	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", handler.NewAuthHandler(userService).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", userHandler.GetProfile)
				authed.POST("/logout", userHandler.Logout)
			}
		}

		// 生成路由：流式/非流式补全与模型目录
		apiV1.POST("/ai", aiHandler.Generate)
		apiV1.GET("/models", aiHandler.ListModels)

		// 会话路由组，需要认证
		sessions := apiV1.Group("/chat/sessions")
		sessions.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			sessions.GET("", sessionHandler.ListSessions)
			sessions.POST("", sessionHandler.CreateSession)
			sessions.GET("/current", sessionHandler.GetCurrentSession)
			sessions.GET("/:id", sessionHandler.GetSession)
			sessions.POST("/:id/messages", sessionHandler.AppendMessage)
		}

		// 音频旁路，需要认证
		audio := apiV1.Group("/audio")
		audio.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			audio.POST("/transcriptions", audioHandler.Transcribe)
			audio.POST("/speech", audioHandler.Speech)
		}

		// 附件上传，需要认证
		files := apiV1.Group("/files")
		files.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			files.POST("", fileHandler.Upload)
		}
	}

	// Playground 交互通道 (WebSocket)，token 放在路径中
	r.GET("/playground/:token", playgroundHandler.Handle)

	// 启动 HTTP 服务器并实现优雅停机
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

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
