package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"AutoFM/config"
	"AutoFM/core/analysis"
	"AutoFM/core/mixer"
	"AutoFM/core/provider"
	"AutoFM/core/render"
	"AutoFM/core/selector"
	"AutoFM/db"
	"AutoFM/logger"
	"AutoFM/model"
	"AutoFM/repository"
	"AutoFM/storage"

	"github.com/gorilla/mux"
)

// Start initializes dependencies and starts the HTTP server.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogPath,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	})

	// 设置服务器超时。混音流下载可能很慢，写超时放宽一些
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// 初始化 MinIO 客户端
	if err := storage.InitMinio(cfg); err != nil {
		logger.Fatal("Failed to initialize MinIO", logger.ErrorField(err))
	}

	// Connect to the database
	if err := db.ConnectDB(cfg); err != nil {
		logger.Fatal("Failed to connect to database", logger.ErrorField(err))
	}
	defer db.DB.Close()

	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("Failed to connect GORM database", logger.ErrorField(err))
	}
	defer db.CloseGormDB()

	// Connect to Redis
	if err := db.ConnectRedis(cfg); err != nil {
		logger.Fatal("Failed to connect to Redis", logger.ErrorField(err))
	}
	defer db.CloseRedis()

	// Initialize database schema
	if err := db.InitDB(); err != nil {
		logger.Fatal("Failed to initialize database", logger.ErrorField(err))
	}
	if err := db.AutoMigrateModels(&model.Track{}, &model.StatusCheck{}); err != nil {
		logger.Fatal("Failed to migrate GORM models", logger.ErrorField(err))
	}

	ensureDirExists(cfg.WorkDir)

	// 打分权重：文件加载 + 热更新
	weights := selector.NewWeightsStore(cfg.WeightsPath)
	if err := weights.Watch(); err != nil {
		logger.Warn("权重热更新监听启动失败", logger.ErrorField(err))
	}
	defer weights.Close()

	mixRepo := repository.NewMySQLMixRepository()
	trackRepo := repository.NewGormTrackRepository()
	statusRepo := repository.NewGormStatusCheckRepository()

	orch := mixer.NewOrchestrator(
		cfg,
		mixRepo,
		trackRepo,
		storage.NewMinioArtifactStore(cfg),
		provider.NewYtdlpProvider(cfg),
		weights,
		analysis.NewFFmpegDecoder(cfg.FFmpegPath),
		&render.FFmpegSegmentDecoder{FFmpegPath: cfg.FFmpegPath},
		&render.FFmpegSegmentEncoder{FFmpegPath: cfg.FFmpegPath},
		mixer.NewHub(),
	)

	janitor := mixer.NewJanitor(cfg)
	if err := janitor.Start(); err != nil {
		logger.Warn("临时文件清理器启动失败", logger.ErrorField(err))
	}
	defer janitor.Stop()

	// 初始化处理器
	mixHandler := NewMixHandler(orch)
	trackHandler := NewTrackHandler(cfg, trackRepo)
	statusHandler := NewStatusHandler(statusRepo)
	wsHandler := NewWSHandler(orch)

	// 使用 gorilla/mux 创建路由器
	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Range")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// API Endpoints
	router.HandleFunc("/api/", rootHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/genres", trackHandler.GetGenresHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks", trackHandler.GetTracksHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/status", statusHandler.CreateStatusHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/status", statusHandler.ListStatusHandler).Methods(http.MethodGet)

	// 混音任务相关的API端点
	router.HandleFunc("/api/mixes", mixHandler.CreateMixHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/mixes", mixHandler.ListMixesHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/mixes/{id}", mixHandler.GetMixHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/mixes/{id}", mixHandler.DeleteMixHandler).Methods(http.MethodDelete)
	router.HandleFunc("/api/mixes/{id}/stream", mixHandler.StreamMixHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/mixes/{id}/ws", wsHandler.StatusWSHandler).Methods(http.MethodGet)

	router.HandleFunc("/health", healthHandler).Methods(http.MethodGet)

	server.Handler = router

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// 在goroutine中启动服务器
	go func() {
		logger.Info("Server starting", logger.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", logger.ErrorField(err))
		}
	}()

	// 等待中断信号
	<-stop
	logger.Info("Shutting down server...")

	// 优雅关闭服务器
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", logger.ErrorField(err))
	}

	logger.Info("Server stopped")
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "AutoFM mix generation service"})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func ensureDirExists(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("Creating directory", logger.String("path", path))
		if err := os.MkdirAll(path, 0o755); err != nil {
			logger.Fatal("Failed to create directory", logger.String("path", path), logger.ErrorField(err))
		}
	} else if err != nil {
		logger.Fatal("Failed to check directory", logger.String("path", path), logger.ErrorField(err))
	}
}
