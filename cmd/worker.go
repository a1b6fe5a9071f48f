package cmd

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/funmusicplace/mirlo-sub003/config"
	"github.com/funmusicplace/mirlo-sub003/db"
	"github.com/funmusicplace/mirlo-sub003/logger"
	"github.com/funmusicplace/mirlo-sub003/pipeline"
	"github.com/funmusicplace/mirlo-sub003/repository"
	"github.com/funmusicplace/mirlo-sub003/server"
	"github.com/funmusicplace/mirlo-sub003/storage"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the pipeline workers",
	Long:  `Starts one worker per queue plus the stall sweepers, the job reconciler and the status HTTP listener. Blocks until SIGINT or SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		runWorkers()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorkers() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{Level: logger.LogLevel(cfg.LogLevel), OutputPath: cfg.LogPath})

	if err := db.ConnectDB(cfg); err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	if err := db.InitDB(); err != nil {
		log.Fatalf("database migration failed: %v", err)
	}
	if err := db.ConnectRedis(cfg); err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer db.CloseRedis()

	store, err := storage.NewMinioStore(cfg)
	if err != nil {
		log.Fatalf("minio connection failed: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.EnsureBuckets(ctx, cfg.MinioRegion); err != nil {
		log.Fatalf("bucket setup failed: %v", err)
	}

	tracks := repository.NewTrackAudioRepository(db.DB)
	images := repository.NewImageRepository(db.DB)
	p := pipeline.New(cfg, db.RedisClient, store, tracks, images)

	status := server.NewStatusServer(cfg.StatusAddr, p.Queue, db.RedisClient, db.DB)
	go func() {
		if err := status.Run(ctx); err != nil {
			logger.Error("status server failed", logger.ErrorField(err))
		}
	}()

	p.Run(ctx)
	logger.Info("pipeline shut down")
}
