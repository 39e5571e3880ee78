package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/langchou/truckpark/internal/api/gate"
	"github.com/langchou/truckpark/internal/api/handlers"
	"github.com/langchou/truckpark/internal/metrics"
	"github.com/langchou/truckpark/internal/repository"
	"github.com/langchou/truckpark/internal/service"
	"github.com/langchou/truckpark/internal/txn"
	"github.com/langchou/truckpark/pkg/ws"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting truckpark", zap.String("port", cfg.ServerPort))

	isoLevel, err := repository.ParseIsoLevel(cfg.DBIsolation)
	if err != nil {
		return err
	}

	// 连接数据库
	db, err := repository.New(ctx, cfg.DatabaseURL, cfg.DBConnectRetries)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	// 执行数据库迁移
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("Database migrated successfully")

	// 指标
	var (
		m        *metrics.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		m = metrics.New(reg)
		gatherer = reg
	}

	// 道闸与停车服务
	gateClient := gate.NewClient(cfg.Gates.Timeout, cfg.Gates.Entry, cfg.Gates.Exit, m)
	parkingService := service.NewParkingService(
		cfg.Parking,
		logger,
		m,
		repository.NewUserRepository(),
		repository.NewParkingEventRepository(),
		repository.NewBanRepository(),
		gateClient,
		time.Now,
	)

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	go wsHub.Run(ctx)

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(logger, parkingService, db, wsHub, gatherer)
	wsHub.SetInitDataProvider(handler.FreeSpacesSnapshot)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	txMiddleware := txn.Middleware(db, txn.Options{
		TxOptions:  pgx.TxOptions{IsoLevel: isoLevel},
		Logger:     logger,
		Metrics:    m,
		Decorators: []txn.Decorator{handler.UserStatusHeader},
	})
	handler.RegisterRoutes(router, cfg.APIKey, txMiddleware)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	logger.Info("Server started", zap.String("addr", server.Addr), zap.String("isolation", string(isoLevel)))

	// 等待退出信号
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("start server: %w", err)
		}
	}

	logger.Info("Shutting down server...")

	// 优雅关闭，进行中的请求会完成提交或回滚
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
	return nil
}
