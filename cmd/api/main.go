package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/gatepass/internal/api"
	"github.com/your-org/gatepass/internal/api/handlers"
	"github.com/your-org/gatepass/internal/api/ws"
	"github.com/your-org/gatepass/internal/config"
	"github.com/your-org/gatepass/internal/face"
	"github.com/your-org/gatepass/internal/models"
	"github.com/your-org/gatepass/internal/observability"
	"github.com/your-org/gatepass/internal/queue"
	"github.com/your-org/gatepass/internal/storage"
	"github.com/your-org/gatepass/internal/vision"
	"github.com/your-org/gatepass/pkg/dto"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting gatepass API",
		"port", cfg.Server.Port,
		"verify_threshold", cfg.Face.Thresholds.Verify,
		"duplicate_threshold", cfg.Face.Thresholds.DuplicateHigh,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.ApplyMigrations(); err != nil {
		slog.Error("apply migrations", "error", err)
		os.Exit(1)
	}

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Relay biometric events to dashboard clients
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeBiometric(ctx, "api-ws", func(_ context.Context, ev models.BiometricEvent) error {
		hub.BroadcastEvent(&dto.WSEvent{
			Type:   string(ev.Type),
			UserID: ev.UserID,
			Data:   ev,
		})
		return nil
	})
	if err != nil {
		slog.Warn("start event consumer", "error", err)
	}

	// The engine cannot run without the extraction models.
	libPath := cfg.Vision.ONNXLibrary
	if libPath == "" {
		libPath = getONNXLibPath()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("init onnx runtime", "library", libPath, "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	analyzer, err := vision.NewAnalyzer(cfg.Vision)
	if err != nil {
		slog.Error("load face models", "error", err)
		os.Exit(1)
	}
	defer analyzer.Close()

	faces := face.NewService(face.Deps{
		Store:     db,
		Extractor: face.NewExtractor(analyzer, cfg.Vision.MaxCandidates),
		Evidence:  minioStore,
		Events:    producer,
	}, cfg.Face)

	router := api.NewRouter(api.RouterConfig{
		APIKey:     cfg.Server.APIKey,
		Faces:      faces,
		StagingTTL: cfg.Face.StagingTTL,
		Hub:        hub,
		Checks: map[string]handlers.Check{
			"postgres": db.Ping,
			"minio":    minioStore.Ping,
			"nats":     func(context.Context) error { return producer.Ping() },
		},
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}

// getONNXLibPath returns the default ONNX Runtime shared library name.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
