package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"payhub/internal/config"
	"payhub/internal/dispatch"
	"payhub/internal/eventlog"
	"payhub/internal/ops"
	"payhub/internal/ratelimit"
	"payhub/internal/scheduler"
	"payhub/internal/types"
)

func main() {
	godotenv.Load()
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := func(msg string, kv ...any) {
		ts := time.Now().Format(time.RFC3339)
		fmt.Println(ts, msg, kv)
	}

	opts := scheduler.Options{Logger: logger}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis opts: %v", err)
		}
		rdb := redis.NewClient(redisOpts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis ping: %v", err)
		}
		rates := ratelimit.DefaultRates(cfg.RateGlobalPerSec, cfg.RateTenantPerMin, cfg.RateUserPerMin)
		opts.Limiter = ratelimit.NewRedis(rdb, rates, logger)
		logger("rate_limiter", "mode", "redis")
	}

	if cfg.DatabaseURL != "" {
		sink, err := eventlog.ConnectPG(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect: %v", err)
		}
		defer sink.Close()
		if err := sink.EnsureSchema(ctx); err != nil {
			log.Fatalf("db schema: %v", err)
		}
		opts.EventSink = sink
		logger("event_sink", "mode", "postgres")
	}

	sched := scheduler.New(cfg, opts)
	defer sched.Close()

	d := dispatch.New(sched, processor(cfg, logger), cfg.DefaultWorker, logger)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Dispatchers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Run(ctx)
		}()
	}
	logger("dispatchers_started", "count", cfg.Dispatchers)

	app := ops.NewServer(sched, logger).App()
	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	logger("ops_listen", "addr", addr)
	if err := app.Listen(addr); err != nil && ctx.Err() == nil {
		log.Fatalf("listen: %v", err)
	}
	wg.Wait()
}

// processor builds the downstream call. With PROCESSOR_URL set, items POST
// to that endpoint and any non-2xx is a failure; without it the call is a
// no-op success, useful for smoke runs without a processor.
func processor(cfg *config.Config, logger func(string, ...any)) dispatch.ProcessorFunc {
	if cfg.ProcessorURL == "" {
		return func(context.Context, types.WorkItem, string) error { return nil }
	}
	client := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context, item types.WorkItem, workerID string) error {
		body, err := json.Marshal(map[string]any{
			"workId":   item.WorkID,
			"tenantId": item.TenantID,
			"userId":   item.UserID,
			"workType": item.WorkType,
			"amount":   item.Amount,
			"attempt":  item.Attempt,
			"workerId": workerID,
		})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.ProcessorURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("processor status %d", resp.StatusCode)
		}
		return nil
	}
}
