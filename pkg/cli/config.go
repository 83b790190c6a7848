package cli

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/adapter"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/repository"
	"github.com/m-mizutani/mnemo/pkg/service/embedding"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Repository
	backend          string
	redisURL         string
	project          string
	database         string
	collectionPrefix string

	// Adapters
	llm             string
	embedder        string
	anthropicAPIKey string
	geminiProject   string
	geminiLocation  string

	// Context
	snapshotPath   string
	dictionaryPath string
	policyDir      string
	threshold      float64

	// Embedding resilience
	failureThreshold  int64
	cooldown          time.Duration
	maxCooldown       time.Duration
	maxActiveRequests int64
	queueCapacity     int64
	minInterval       time.Duration
	requestTimeout    time.Duration
}

const (
	backendMemory    = "memory"
	backendRedis     = "redis"
	backendFirestore = "firestore"

	providerGemini = "gemini"
	providerClaude = "claude"
	providerHash   = "hash"
)

// logFlags returns flags for the logger with destination config
func logFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Aliases:     []string{"l"},
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("MNEMO_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       string(logging.FormatConsole),
			Sources:     cli.EnvVars("MNEMO_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

// globalFlags returns storage flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Aliases:     []string{"b"},
			Usage:       "Storage backend (memory, redis, firestore)",
			Value:       backendMemory,
			Sources:     cli.EnvVars("MNEMO_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Usage:       "Redis URL for the redis backend",
			Value:       "redis://localhost:6379/0",
			Sources:     cli.EnvVars("MNEMO_REDIS_URL"),
			Destination: &cfg.redisURL,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "collection-prefix",
			Usage:       "Prefix of Firestore collections and Redis keys",
			Value:       "mnemo",
			Sources:     cli.EnvVars("MNEMO_COLLECTION_PREFIX"),
			Destination: &cfg.collectionPrefix,
		},
	}
	return append(flags, logFlags(cfg)...)
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm",
			Usage:       "LLM that answers chat messages (gemini, claude)",
			Value:       providerGemini,
			Sources:     cli.EnvVars("MNEMO_LLM"),
			Destination: &cfg.llm,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
	}
}

// embeddingFlags returns flags for the embedding provider and its resilience knobs
func embeddingFlags(cfg *config) []cli.Flag {
	def := embedding.DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "embedder",
			Usage:       "Embedding provider (gemini, hash). Defaults to gemini when gemini-project is set",
			Sources:     cli.EnvVars("MNEMO_EMBEDDER"),
			Destination: &cfg.embedder,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.IntFlag{
			Name:        "embed-failure-threshold",
			Usage:       "Consecutive embedding failures that open the circuit breaker",
			Value:       int64(def.FailureThreshold),
			Sources:     cli.EnvVars("MNEMO_EMBED_FAILURE_THRESHOLD"),
			Destination: &cfg.failureThreshold,
		},
		&cli.DurationFlag{
			Name:        "embed-cooldown",
			Usage:       "Initial circuit breaker cooldown",
			Value:       def.Cooldown,
			Sources:     cli.EnvVars("MNEMO_EMBED_COOLDOWN"),
			Destination: &cfg.cooldown,
		},
		&cli.DurationFlag{
			Name:        "embed-max-cooldown",
			Usage:       "Upper bound of the circuit breaker cooldown",
			Value:       def.MaxCooldown,
			Sources:     cli.EnvVars("MNEMO_EMBED_MAX_COOLDOWN"),
			Destination: &cfg.maxCooldown,
		},
		&cli.IntFlag{
			Name:        "embed-max-active",
			Usage:       "Maximum in-flight embedding requests",
			Value:       int64(def.MaxActiveRequests),
			Sources:     cli.EnvVars("MNEMO_EMBED_MAX_ACTIVE"),
			Destination: &cfg.maxActiveRequests,
		},
		&cli.IntFlag{
			Name:        "embed-queue",
			Usage:       "Maximum queued embedding requests",
			Value:       int64(def.QueueCapacity),
			Sources:     cli.EnvVars("MNEMO_EMBED_QUEUE"),
			Destination: &cfg.queueCapacity,
		},
		&cli.DurationFlag{
			Name:        "embed-min-interval",
			Usage:       "Minimum interval between embedding requests",
			Value:       def.MinInterval,
			Sources:     cli.EnvVars("MNEMO_EMBED_MIN_INTERVAL"),
			Destination: &cfg.minInterval,
		},
		&cli.DurationFlag{
			Name:        "embed-timeout",
			Usage:       "Timeout of a single embedding request",
			Value:       def.RequestTimeout,
			Sources:     cli.EnvVars("MNEMO_EMBED_TIMEOUT"),
			Destination: &cfg.requestTimeout,
		},
	}
}

// contextFlags returns flags for the context snapshot and relevance engine
func contextFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "snapshot",
			Aliases:     []string{"s"},
			Usage:       "YAML file with the current context snapshot",
			Sources:     cli.EnvVars("MNEMO_SNAPSHOT"),
			Destination: &cfg.snapshotPath,
		},
		&cli.StringFlag{
			Name:        "dictionary",
			Usage:       "YAML file with extra spelling fixes and synonyms",
			Sources:     cli.EnvVars("MNEMO_DICTIONARY"),
			Destination: &cfg.dictionaryPath,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego policies that may deny context domains",
			Sources:     cli.EnvVars("MNEMO_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
		&cli.FloatFlag{
			Name:        "threshold",
			Usage:       "Relevance threshold of context domains (0.0-1.0)",
			Value:       0.4,
			Sources:     cli.EnvVars("MNEMO_THRESHOLD"),
			Destination: &cfg.threshold,
		},
	}
}

// withLogger attaches the configured logger to ctx
func (cfg *config) withLogger(ctx context.Context) context.Context {
	level := cfg.logLevel
	if level == "" {
		level = "info"
	}
	logger := logging.New(level, os.Stderr, logging.WithFormat(logging.Format(cfg.logFormat)))
	logging.SetDefault(logger)
	slog.SetDefault(logger)
	return logging.With(ctx, logger)
}

// newKV creates the storage backend
func (cfg *config) newKV(ctx context.Context) (interfaces.KV, error) {
	switch cfg.backend {
	case "", backendMemory:
		return repository.NewMemory(), nil

	case backendRedis:
		if cfg.redisURL == "" {
			return nil, goerr.New("redis-url is required")
		}
		kv, err := repository.NewRedis(ctx, cfg.redisURL, repository.WithRedisPrefix(cfg.collectionPrefix))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create redis backend")
		}
		return kv, nil

	case backendFirestore:
		if cfg.project == "" {
			return nil, goerr.New("project is required")
		}
		if cfg.database == "" {
			return nil, goerr.New("database is required")
		}
		kv, err := repository.NewFirestore(ctx, cfg.project, cfg.database,
			repository.WithCollectionPrefix(cfg.collectionPrefix))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create firestore backend")
		}
		return kv, nil

	default:
		return nil, goerr.New("unsupported backend",
			goerr.V("backend", cfg.backend),
			goerr.V("supported", []string{backendMemory, backendRedis, backendFirestore}))
	}
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (*adapter.GeminiClient, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}
	client, err := adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}
	return client, nil
}

// newClaude creates a new Claude adapter instance
func (cfg *config) newClaude() (*adapter.ClaudeClient, error) {
	if cfg.anthropicAPIKey == "" {
		return nil, goerr.New("anthropic-api-key is required")
	}
	return adapter.NewClaude(cfg.anthropicAPIKey), nil
}

// newResponder creates the LLM selected by --llm
func (cfg *config) newResponder(ctx context.Context) (interfaces.Responder, error) {
	switch cfg.llm {
	case "", providerGemini:
		return cfg.newGemini(ctx)
	case providerClaude:
		return cfg.newClaude()
	default:
		return nil, goerr.New("unsupported llm",
			goerr.V("llm", cfg.llm),
			goerr.V("supported", []string{providerGemini, providerClaude}))
	}
}

// newEmbedder creates the embedding provider selected by --embedder
func (cfg *config) newEmbedder(ctx context.Context) (interfaces.Embedder, error) {
	name := cfg.embedder
	if name == "" {
		name = providerHash
		if cfg.geminiProject != "" {
			name = providerGemini
		}
	}

	switch name {
	case providerGemini:
		return cfg.newGemini(ctx)
	case providerHash:
		return adapter.NewHashEmbedder(0), nil
	default:
		return nil, goerr.New("unsupported embedder",
			goerr.V("embedder", name),
			goerr.V("supported", []string{providerGemini, providerHash}))
	}
}

func (cfg *config) embeddingConfig() embedding.Config {
	c := embedding.DefaultConfig()
	if cfg.failureThreshold > 0 {
		c.FailureThreshold = int(cfg.failureThreshold)
	}
	if cfg.cooldown > 0 {
		c.Cooldown = cfg.cooldown
	}
	if cfg.maxCooldown > 0 {
		c.MaxCooldown = cfg.maxCooldown
	}
	if cfg.maxActiveRequests > 0 {
		c.MaxActiveRequests = int(cfg.maxActiveRequests)
	}
	if cfg.queueCapacity > 0 {
		c.QueueCapacity = int(cfg.queueCapacity)
	}
	if cfg.minInterval > 0 {
		c.MinInterval = cfg.minInterval
	}
	if cfg.requestTimeout > 0 {
		c.RequestTimeout = cfg.requestTimeout
	}
	return c
}

// newStorage creates a new Storage adapter instance
func (cfg *config) newStorage(ctx context.Context, bucketName string) (*adapter.Storage, error) {
	if bucketName == "" {
		return nil, goerr.New("bucket name is required")
	}

	storage, err := adapter.NewStorage(ctx, bucketName)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}
