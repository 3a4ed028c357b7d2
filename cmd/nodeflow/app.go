package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/executors"
	"github.com/rendis/nodeflow/internal/llm"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/observability"
	"github.com/rendis/nodeflow/internal/secrets"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// app holds the wired runtime shared by the subcommands.
type app struct {
	cfg      Config
	logger   *slog.Logger
	store    *store.LibSQLStore
	vault    *secrets.Vault
	registry *executors.Registry
	hub      streaming.EventHub
	tokens   *streaming.TokenIssuer
	runner   *engine.LocalRunner

	closers []func() error
}

// openStore opens and migrates the database. Commands that only touch
// persisted data use it directly instead of buildApp.
func openStore(ctx context.Context, c Config) (*store.LibSQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(c.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.NewLibSQLStore("file:" + c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// openVault builds the credential vault. Without an encryption key the
// returned vault is nil.
func openVault(c Config, s *store.LibSQLStore) (*secrets.Vault, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	key, err := secrets.ParseKey(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	aes, err := secrets.NewAESCipher(secrets.Config{MasterKey: key})
	if err != nil {
		return nil, err
	}
	return secrets.NewVault(s, aes), nil
}

func buildApp(ctx context.Context, c Config) (*app, error) {
	logger := logging.New(os.Stderr, c.LogLevel, c.LogFormat)
	a := &app{cfg: c, logger: logger}

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Exporter:       c.TraceExporter,
		Endpoint:       c.TraceEndpoint,
		Insecure:       c.TraceInsecure,
		SampleRate:     c.TraceSampleRate,
		ServiceVersion: version,
	}, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return observability.ShutdownTracing(shutdownCtx, tp)
	})

	s, err := openStore(ctx, c)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = s
	a.closers = append(a.closers, s.Close)

	a.vault, err = openVault(c, s)
	if err != nil {
		a.Close()
		return nil, err
	}
	var creds executors.Credentials = lockedVault{}
	if a.vault != nil {
		creds = a.vault
	} else {
		logger.Warn("no encryption key configured; credential-backed nodes will fail")
	}

	client := executors.NewClient(executors.HTTPConfig{RatePerHost: c.HTTPRatePerHost},
		executors.NewBreakers(executors.DefaultBreakerConfig()))
	a.registry, err = executors.NewBuiltinRegistry(executors.Deps{
		Client:      client,
		Credentials: creds,
		Owners:      s,
		Models: llm.NewClients(llm.Config{
			OpenAIBaseURL: c.OpenAIBaseURL,
			OllamaURL:     c.OllamaURL,
			OllamaModel:   c.OllamaModel,
		}),
		ModelKeys: executors.ModelKeys{
			llm.ProviderGemini:    c.GeminiAPIKey,
			llm.ProviderOpenAI:    c.OpenAIAPIKey,
			llm.ProviderAnthropic: c.AnthropicAPIKey,
		},
		TelegramAPIBase: c.TelegramAPIBase,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("executor registry: %w", err)
	}

	if c.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		a.closers = append(a.closers, rdb.Close)
		a.hub = streaming.NewRedisHub(rdb, streaming.DefaultRedisPrefix, logger)
		logger.Info("status hub: redis", "addr", c.RedisAddr)
	} else {
		a.hub = streaming.NewMemoryHub()
	}

	secret := []byte(c.RealtimeSecret)
	if len(secret) == 0 {
		// Tokens then only survive for the lifetime of this process.
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			a.Close()
			return nil, fmt.Errorf("realtime secret: %w", err)
		}
	}
	a.tokens, err = streaming.NewTokenIssuer(secret, streaming.DefaultTokenTTL)
	if err != nil {
		a.Close()
		return nil, err
	}

	orch := engine.NewOrchestrator(s, a.registry,
		engine.WithStatusPublisher(streaming.NewStatusPublisher(a.hub, logger)),
		engine.WithRunEvents(s),
		engine.WithLogger(logger),
		engine.WithTracer(tp.Tracer("github.com/rendis/nodeflow/internal/engine")),
	)
	retry := engine.DefaultRetryPolicy()
	retry.MaxAttempts = c.MaxAttempts
	a.runner = engine.NewLocalRunner(engine.WorkflowHandler(orch), s, engine.RunnerConfig{
		Workers:   c.Workers,
		QueueSize: c.QueueSize,
		Retry:     retry,
	}, logger)

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// lockedVault stands in for the vault when no encryption key is set.
type lockedVault struct{}

func (lockedVault) Reveal(_ context.Context, id string, _ schema.CredentialType) (string, error) {
	return "", schema.NewErrorf(schema.ErrCodeVault,
		"credential %q cannot be decrypted: no encryption key configured", id)
}
