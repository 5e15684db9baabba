package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"stealthcompany.com/hisextract/internal/extract"
	"stealthcompany.com/hisextract/internal/his"
	"stealthcompany.com/hisextract/internal/metrics"
	"stealthcompany.com/hisextract/internal/progress"
)

var runCmd = &cobra.Command{
	Use:   "run <master-list-file> [concurrency]",
	Short: "Run a bulk extraction over a master list of folder numbers",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runExtraction,
}

func runExtraction(cmd *cobra.Command, args []string) error {
	folders, err := extract.LoadMasterList(args[0])
	if err != nil {
		return err
	}

	concurrency := 0
	if len(args) == 2 {
		concurrency, err = strconv.Atoi(args[1])
		if err != nil || concurrency <= 0 {
			return fmt.Errorf("concurrency must be a positive integer, got %q", args[1])
		}
	} else if v := os.Getenv("EXTRACT_CONCURRENCY"); v != "" {
		if concurrency, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("invalid EXTRACT_CONCURRENCY %q", v)
		}
	}

	cfg := extract.Config{
		Concurrency:  concurrency,
		RequestDelay: envDuration("EXTRACT_REQUEST_DELAY", 500*time.Millisecond),
		RecycleEvery: envInt("EXTRACT_RECYCLE_EVERY", 500),
		MaxAttempts:  envInt("EXTRACT_MAX_ATTEMPTS", 3),
		OutputDir:    getEnvOrDefault("EXTRACT_OUTPUT_DIR", "artifacts"),
	}

	client := his.NewClient(his.Config{
		BaseURL:  getEnvOrDefault("HIS_BASE_URL", "http://localhost:8080"),
		Username: os.Getenv("HIS_USERNAME"),
		Password: os.Getenv("HIS_PASSWORD"),
		Timeout:  envDuration("HIS_TIMEOUT", 30*time.Second),
	})
	defer client.Close()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	orch, err := extract.New(cfg, client, store)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	metrics.StartSystemMetrics(ctx, 15*time.Second)
	statusServer := metrics.StartServer(":"+getEnvOrDefault("METRICS_PORT", "8081"), func() interface{} {
		if s := orch.Summary(); s != nil {
			return s
		}
		return nil
	})
	defer statusServer.Shutdown()

	summary, err := orch.Run(ctx, folders)
	if err != nil {
		return fmt.Errorf("extraction run failed: %w", err)
	}

	fmt.Printf("run complete: %d succeeded, %d failed, %d skipped, %d pending (of %d)\n",
		summary.Succeeded, summary.Failed, summary.Skipped, summary.Pending, summary.Total)
	return nil
}

// openStore picks the progress store backend. Couchbase is the durable store
// for real runs; without a configured cluster the run falls back to an
// in-memory store that cannot resume across restarts.
func openStore() (progress.Store, error) {
	url := os.Getenv("COUCHBASE_URL")
	if url == "" {
		log.Warn().Msg("COUCHBASE_URL not set, progress will not survive a restart")
		return progress.NewMemoryStore(), nil
	}
	return progress.NewCouchbaseStore(
		url,
		getEnvOrDefault("COUCHBASE_USERNAME", "hisextract_user"),
		os.Getenv("COUCHBASE_PASSWORD"),
		getEnvOrDefault("COUCHBASE_BUCKET", "hisextract"),
	)
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring non-integer environment value")
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring unparseable duration value")
	}
	return def
}
