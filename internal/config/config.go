package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

type Config struct {
	APIPort     int
	DatabaseURL string // optional: Postgres event sink
	RedisURL    string // optional: distributed rate limiting

	Dispatchers   int
	DefaultWorker string
	ProcessorURL  string

	RateGlobalPerSec float64
	RateTenantPerMin float64
	RateUserPerMin   float64

	QueueCapacity int

	BreakerFailureThreshold int
	BreakerTimeout          time.Duration

	BatchSize          int
	BatchMaxConcurrent int
	BatchTimeout       time.Duration
	BatchCancel        bool

	MaxRetries     int
	RetryBaseDelay time.Duration
	DLQCapacity    int

	WorkerOverloadPct float64
	WorkerTTL         time.Duration

	ScalingMinSamples int
	ScalingRetention  int
	ScalingMinWorkers int
	ScalingMaxWorkers int
	ScalingUpPct      float64
	ScalingDownPct    float64
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getfloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getbool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func Parse() (*Config, error) {
	cfg := &Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		DefaultWorker: getenv("DEFAULT_WORKER", "DEFAULT_WORKER"),
		ProcessorURL:  os.Getenv("PROCESSOR_URL"),
	}
	if cfg.DatabaseURL != "" {
		if _, err := url.Parse(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
	}

	var err error
	if cfg.APIPort, err = getint("API_PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.Dispatchers, err = getint("DISPATCHERS", 4); err != nil {
		return nil, err
	}
	if cfg.RateGlobalPerSec, err = getfloat("RATE_GLOBAL_PER_SEC", 100); err != nil {
		return nil, err
	}
	if cfg.RateTenantPerMin, err = getfloat("RATE_TENANT_PER_MIN", 50); err != nil {
		return nil, err
	}
	if cfg.RateUserPerMin, err = getfloat("RATE_USER_PER_MIN", 10); err != nil {
		return nil, err
	}
	if cfg.QueueCapacity, err = getint("QUEUE_CAPACITY", 1000); err != nil {
		return nil, err
	}
	if cfg.BreakerFailureThreshold, err = getint("BREAKER_FAILURE_THRESHOLD", 5); err != nil {
		return nil, err
	}
	breakerTimeoutS, err := getint("BREAKER_TIMEOUT_S", 60)
	if err != nil {
		return nil, err
	}
	cfg.BreakerTimeout = time.Duration(breakerTimeoutS) * time.Second
	if cfg.BatchSize, err = getint("BATCH_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.BatchMaxConcurrent, err = getint("BATCH_MAX_CONCURRENT", 10); err != nil {
		return nil, err
	}
	batchTimeoutS, err := getint("BATCH_TIMEOUT_S", 30)
	if err != nil {
		return nil, err
	}
	cfg.BatchTimeout = time.Duration(batchTimeoutS) * time.Second
	if cfg.BatchCancel, err = getbool("BATCH_CANCEL_ON_DEADLINE", false); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = getint("MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	retryBaseMs, err := getint("RETRY_BASE_DELAY_MS", 1000)
	if err != nil {
		return nil, err
	}
	cfg.RetryBaseDelay = time.Duration(retryBaseMs) * time.Millisecond
	if cfg.DLQCapacity, err = getint("DLQ_CAPACITY", 1000); err != nil {
		return nil, err
	}
	if cfg.WorkerOverloadPct, err = getfloat("WORKER_OVERLOAD_PCT", 80); err != nil {
		return nil, err
	}
	workerTTLS, err := getint("WORKER_TTL_S", 30)
	if err != nil {
		return nil, err
	}
	cfg.WorkerTTL = time.Duration(workerTTLS) * time.Second
	if cfg.ScalingMinSamples, err = getint("SCALING_MIN_SAMPLES", 6); err != nil {
		return nil, err
	}
	if cfg.ScalingRetention, err = getint("SCALING_RETENTION", 24); err != nil {
		return nil, err
	}
	if cfg.ScalingMinWorkers, err = getint("SCALING_MIN_WORKERS", 2); err != nil {
		return nil, err
	}
	if cfg.ScalingMaxWorkers, err = getint("SCALING_MAX_WORKERS", 20); err != nil {
		return nil, err
	}
	if cfg.ScalingUpPct, err = getfloat("SCALING_UP_PCT", 70); err != nil {
		return nil, err
	}
	if cfg.ScalingDownPct, err = getfloat("SCALING_DOWN_PCT", 30); err != nil {
		return nil, err
	}
	return cfg, nil
}
