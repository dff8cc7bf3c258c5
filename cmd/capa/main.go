package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/capa/internal/ai"
	"github.com/xxxsen/capa/internal/classifier"
	"github.com/xxxsen/capa/internal/config"
	"github.com/xxxsen/capa/internal/db"
	"github.com/xxxsen/capa/internal/handler"
	"github.com/xxxsen/capa/internal/job"
	"github.com/xxxsen/capa/internal/middleware"
	"github.com/xxxsen/capa/internal/objectstore"
	"github.com/xxxsen/capa/internal/repo"
	"github.com/xxxsen/capa/internal/schedule"
	"github.com/xxxsen/capa/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "capa",
		Short: "surface defect classifier and CAPA report server",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json or config.yaml")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run capa server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "store the built-in reference reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			reports, closeFn, err := buildReportService(cfg, nil)
			if err != nil {
				return err
			}
			defer closeFn()
			n, err := service.NewSeedService(reports).Seed(cmd.Context())
			if err != nil {
				return err
			}
			logutil.GetLogger(cmd.Context()).Info("seed finished", zap.Int("count", n))
			return nil
		},
	}

	var modelPath, metadataPath string
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "validate and upload a model and its metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			if modelPath == "" || metadataPath == "" {
				return fmt.Errorf("--model and --metadata are required")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := objectstore.New(cfg.ModelStore)
			if err != nil {
				return fmt.Errorf("init model store: %w", err)
			}
			publisher := service.NewModelPublisher(store, cfg.Inference.ModelKey, cfg.Inference.MetadataKey)
			_, err = publisher.Publish(cmd.Context(), modelPath, metadataPath)
			return err
		},
	}
	publishCmd.Flags().StringVar(&modelPath, "model", "", "path to model.onnx")
	publishCmd.Flags().StringVar(&metadataPath, "metadata", "", "path to model_metadata.json")
	modelCmd := &cobra.Command{
		Use:   "model",
		Short: "manage the classifier model",
	}
	modelCmd.AddCommand(publishCmd)

	rootCmd.AddCommand(runCmd, seedCmd, modelCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
	return cfg, nil
}

func buildGenerator(cfg config.AIConfig) (ai.IGenerator, error) {
	items := make([]ai.GeneratorEntry, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		provider, err := ai.NewProvider(p.Provider, p.Data)
		if err != nil {
			return nil, fmt.Errorf("init ai provider %s: %w", p.Name, err)
		}
		items = append(items, ai.GeneratorEntry{Name: p.Name, Generator: ai.NewGenerator(provider, p.Model)})
	}
	return ai.NewGroupGenerator(items), nil
}

func buildReportService(cfg *config.Config, generator ai.IGenerator) (*service.ReportService, func(), error) {
	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	store, err := objectstore.New(cfg.ReportStore)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("init report store: %w", err)
	}
	reports := service.NewReportService(repo.NewReportRepo(conn), store, generator, service.ReportServiceOptions{
		Timeout:   time.Duration(cfg.AI.Timeout) * time.Second,
		CacheSize: cfg.Reports.ReferenceCacheSize,
		CacheTTL:  time.Duration(cfg.Reports.ReferenceCacheTTL) * time.Second,
	})
	return reports, func() { _ = conn.Close() }, nil
}

func runServer(cfg *config.Config) error {
	log := logutil.GetLogger(context.Background())
	log.Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("model_store", cfg.ModelStore.Type),
		zap.String("report_store", cfg.ReportStore.Type),
		zap.Int("ai_providers", len(cfg.AI.Providers)),
	)

	modelStore, err := objectstore.New(cfg.ModelStore)
	if err != nil {
		return fmt.Errorf("init model store: %w", err)
	}
	models := classifier.NewModelCache(modelStore, classifier.NewONNXLoader(cfg.Inference.OnnxLibraryPath), classifier.CacheOptions{
		ModelKey:    cfg.Inference.ModelKey,
		MetadataKey: cfg.Inference.MetadataKey,
		TempDir:     cfg.Inference.TempDir,
	})
	defer func() {
		if err := models.Close(); err != nil {
			log.Warn("close model cache failed", zap.Error(err))
		}
	}()

	generator, err := buildGenerator(cfg.AI)
	if err != nil {
		return err
	}
	if generator == nil {
		log.Warn("no ai provider configured, report generation disabled")
	}
	reports, closeDB, err := buildReportService(cfg, generator)
	if err != nil {
		return err
	}
	defer closeDB()

	deps := handler.RouterDeps{
		Inference:         handler.NewInferenceHandler(service.NewInferenceService(models)),
		Reports:           handler.NewReportHandler(reports),
		GenerateRateLimit: time.Duration(cfg.Reports.GenerateRateLimitSec) * time.Second,
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewReportRetentionJob(reports, cfg.Reports.RetentionDays), cfg.Reports.CleanupCron); err != nil {
		return fmt.Errorf("schedule report retention: %w", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	log.Info("http server listening", zap.String("addr", addr))
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("server stopping...")
	return nil
}
