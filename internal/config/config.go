package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (job queue, rate limiting, idempotency)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS providers
	AWSRegion    string
	SESFromEmail string
	SNSRegion    string

	// Push gateway
	PushGatewayURL string
	PushTimeout    time.Duration

	// Worker pool
	WorkerConcurrency int
	WorkerIdleWait    time.Duration

	// Contact form
	ContactRecipient string
	ContactRateLimit int // requests per minute per IP on POST /contact
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "courier",
		DBPassword: "",
		DBName:     "courier",
		DBSSLMode:  "disable",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@agrilogistic.local",

		PushTimeout: 30 * time.Second,

		WorkerConcurrency: 10,
		WorkerIdleWait:    500 * time.Millisecond,

		ContactRecipient: "contact@agrilogistic.local",
		ContactRateLimit: 10,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	// SNS config for SMS
	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	// Push gateway config
	if url := os.Getenv("PUSH_GATEWAY_URL"); url != "" {
		cfg.PushGatewayURL = url
	}

	if timeout := os.Getenv("PUSH_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid PUSH_TIMEOUT: %w", err)
		}
		cfg.PushTimeout = time.Duration(t) * time.Second
	}

	// Worker pool config
	if n := os.Getenv("WORKER_CONCURRENCY"); n != "" {
		c, err := strconv.Atoi(n)
		if err != nil {
			return nil, fmt.Errorf("invalid WORKER_CONCURRENCY: %w", err)
		}
		cfg.WorkerConcurrency = c
	}

	if wait := os.Getenv("WORKER_IDLE_WAIT_MS"); wait != "" {
		ms, err := strconv.Atoi(wait)
		if err != nil {
			return nil, fmt.Errorf("invalid WORKER_IDLE_WAIT_MS: %w", err)
		}
		cfg.WorkerIdleWait = time.Duration(ms) * time.Millisecond
	}

	// Contact form config
	if to := os.Getenv("CONTACT_RECIPIENT"); to != "" {
		cfg.ContactRecipient = to
	}

	if limit := os.Getenv("CONTACT_RATE_LIMIT"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid CONTACT_RATE_LIMIT: %w", err)
		}
		cfg.ContactRateLimit = l
	}

	return cfg, nil
}
