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

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// SQS config (incoming message stream from the chat listener)
	SQSRegion   string
	SQSQueueURL string

	// SNS config (mobile push delivery channel)
	AWSRegion   string
	SNSTopicARN string

	// Telegram delivery channel
	TelegramBotToken string

	// Embedding service (BGE server)
	EmbedEndpoint string
	EmbedTimeout  time.Duration

	// Verification service (OpenAI-compatible)
	OpenAIAPIKey string
	OpenAIModel  string

	// Matching cascade thresholds
	LexicalThreshold      float64
	SemanticThreshold     float64
	VerificationThreshold float64

	// Evaluation fan-out
	EvalWorkers int

	// Delivery scheduling
	PriorityDelay time.Duration
	FlushInterval time.Duration
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "keywatch",
		DBPassword: "",
		DBName:     "keywatch",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		AWSRegion: "us-east-1",

		EmbedEndpoint: "http://127.0.0.1:8844/embed/single",
		EmbedTimeout:  15 * time.Second,

		OpenAIModel: "gpt-4o-mini",

		LexicalThreshold:      0.30,
		SemanticThreshold:     0.75,
		VerificationThreshold: 0.70,

		EvalWorkers: 8,

		PriorityDelay: 4 * time.Minute,
		FlushInterval: 30 * time.Second,
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

	// SQS config
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}

	if url := os.Getenv("SQS_QUEUE_URL"); url != "" {
		cfg.SQSQueueURL = url
	}

	if arn := os.Getenv("SNS_TOPIC_ARN"); arn != "" {
		cfg.SNSTopicARN = arn
	}

	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		cfg.TelegramBotToken = token
	}

	// Embedding service config
	if endpoint := os.Getenv("EMBED_ENDPOINT"); endpoint != "" {
		cfg.EmbedEndpoint = endpoint
	}

	if timeout := os.Getenv("EMBED_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid EMBED_TIMEOUT: %w", err)
		}
		cfg.EmbedTimeout = d
	}

	// Verification service config
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.OpenAIAPIKey = key
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		cfg.OpenAIModel = model
	}

	// Cascade thresholds
	if v := os.Getenv("LEXICAL_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid LEXICAL_THRESHOLD: %w", err)
		}
		cfg.LexicalThreshold = f
	}

	if v := os.Getenv("SEMANTIC_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SEMANTIC_THRESHOLD: %w", err)
		}
		cfg.SemanticThreshold = f
	}

	if v := os.Getenv("VERIFICATION_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid VERIFICATION_THRESHOLD: %w", err)
		}
		cfg.VerificationThreshold = f
	}

	if v := os.Getenv("EVAL_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid EVAL_WORKERS: %w", err)
		}
		cfg.EvalWorkers = n
	}

	if v := os.Getenv("PRIORITY_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PRIORITY_DELAY: %w", err)
		}
		cfg.PriorityDelay = d
	}

	if v := os.Getenv("FLUSH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid FLUSH_INTERVAL: %w", err)
		}
		cfg.FlushInterval = d
	}

	return cfg, nil
}
