package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/funmusicplace/mirlo-sub003/config"
	"github.com/funmusicplace/mirlo-sub003/core/cleanup"
	"github.com/funmusicplace/mirlo-sub003/logger"
	"github.com/funmusicplace/mirlo-sub003/storage"
)

var (
	cleanupBucket string
	cleanupPrefix string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "One-shot storage and temp-dir cleanup",
	Long:  `Sweeps stale entries from the local temp directory, or purges a bucket prefix when --bucket is given. Runs once and exits; the worker process performs the same sweeps via queued jobs.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		logger.InitLogger(logger.Config{Level: logger.LogLevel(cfg.LogLevel), OutputPath: cfg.LogPath})

		if cleanupBucket != "" {
			store, err := storage.NewMinioStore(cfg)
			if err != nil {
				log.Fatalf("minio connection failed: %v", err)
			}
			n, err := store.RemovePrefix(context.Background(), cleanupBucket, cleanupPrefix)
			if err != nil {
				log.Fatalf("prefix purge failed: %v", err)
			}
			fmt.Printf("deleted %d objects from %s/%s\n", n, cleanupBucket, cleanupPrefix)
			return
		}

		n, err := cleanup.SweepDir(cfg.TempDir, cfg.CleanupRetention)
		if err != nil {
			log.Fatalf("temp sweep failed: %v", err)
		}
		fmt.Printf("deleted %d stale entries under %s\n", n, cfg.TempDir)
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().StringVarP(&cleanupBucket, "bucket", "b", "", "bucket to purge instead of the local temp dir")
	cleanupCmd.Flags().StringVarP(&cleanupPrefix, "prefix", "p", "", "object prefix to purge within the bucket")

	cleanupCmd.Example = `  # Sweep stale local temp entries
  mirlo-pipeline cleanup

  # Purge one asset's transcoded output
  mirlo-pipeline cleanup -b final-audio -p "some-asset-id/"`
}
