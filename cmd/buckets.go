package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/funmusicplace/mirlo-sub003/config"
	"github.com/funmusicplace/mirlo-sub003/logger"
	"github.com/funmusicplace/mirlo-sub003/storage"
)

var bucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "Create the pipeline's storage buckets",
	Long:  `Connects to the object store and creates every bucket the pipeline reads or writes, skipping those that already exist.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		logger.InitLogger(logger.Config{Level: logger.LogLevel(cfg.LogLevel), OutputPath: cfg.LogPath})

		store, err := storage.NewMinioStore(cfg)
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
		if err := store.EnsureBuckets(context.Background(), cfg.MinioRegion); err != nil {
			log.Fatalf("bucket setup failed: %v", err)
		}
		for _, bucket := range storage.AllBuckets() {
			fmt.Println(bucket)
		}
	},
}

func init() {
	rootCmd.AddCommand(bucketsCmd)
}
