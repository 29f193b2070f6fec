package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Yangjianxun1998/convert/internal/config"
	"github.com/Yangjianxun1998/convert/internal/ffmpeg"
	apphttp "github.com/Yangjianxun1998/convert/internal/http"
	"github.com/Yangjianxun1998/convert/internal/repository/sqlite"
	"github.com/Yangjianxun1998/convert/internal/service"
	"github.com/Yangjianxun1998/convert/internal/storage"
	"github.com/Yangjianxun1998/convert/internal/ws"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	taskRepo := sqlite.NewTaskRepository(db)
	if err := taskRepo.Init(ctx); err != nil {
		logger.Fatalf("init task repository: %v", err)
	}
	taskService := service.NewTaskService(taskRepo)

	runner, err := ffmpeg.NewRunner(ffmpeg.Config{
		Bin:              cfg.FFmpeg.Bin,
		ProbeBin:         cfg.FFmpeg.ProbeBin,
		ExtraArgs:        cfg.FFmpeg.ExtraArgs,
		ThrottleCPU:      cfg.FFmpeg.ThrottleCPU,
		ThrottleFreeMem:  cfg.FFmpeg.ThrottleFreeMem,
		ThrottleFreeDisk: cfg.FFmpeg.ThrottleFreeDisk,
		Logger:           logger,
	})
	if err != nil {
		logger.Fatalf("setup ffmpeg runner: %v", err)
	}
	if available, msg := runner.Available(); available {
		logger.Info(msg)
	} else {
		logger.Warn(msg)
	}

	var storageSvc storage.Service
	if cfg.Storage.Bucket != "" {
		storageSvc, err = buildStorage(ctx, cfg, logger)
		if err != nil {
			logger.Fatalf("setup storage: %v", err)
		}
	}

	hub := ws.NewHub(ws.Config{
		UploadDir:     cfg.Upload.Dir,
		OutputDir:     cfg.Output.Dir,
		MaxConcurrent: cfg.FFmpeg.MaxConcurrent,
		Archive: storage.UploadOptions{
			Bucket:    cfg.Storage.Bucket,
			KeyPrefix: cfg.Storage.KeyPrefix,
		},
		Logger: logger,
	}, runner, taskService, storageSvc)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(hub, taskService, storageSvc, cfg.Storage.Bucket)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	hub.BroadcastNotice("server_shutdown", "Server is shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("hub shutdown: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("archiving outputs to s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
