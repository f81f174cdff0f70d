package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/zombor/receipt-sage/internal/llm"
	"github.com/zombor/receipt-sage/internal/receipt"
	"github.com/zombor/receipt-sage/internal/scanning"
	"github.com/zombor/receipt-sage/internal/stores"
)

// app is everything serve and import need
type app struct {
	db      *receipt.BoltDB
	backend llm.Client
	service *receipt.Service
}

func (a *app) Close() {
	if err := a.backend.Close(); err != nil {
		slog.Warn("Failed to close backend", "error", err)
	}
	if err := a.db.Close(); err != nil {
		slog.Warn("Failed to close database", "error", err)
	}
}

func setupLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}

func newApp(cfg *config) (*app, error) {
	if err := setupLogging(*cfg.logLevel); err != nil {
		return nil, err
	}

	slog.Info("Initializing database...", "path", *cfg.dbPath)
	db, err := receipt.NewBoltDB(*cfg.dbPath)
	if err != nil {
		return nil, err
	}

	backend, err := newBackend(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("Initializing storage...", "path", *cfg.storagePath)
	storage, err := receipt.NewLocalStorage(*cfg.storagePath)
	if err != nil {
		backend.Close()
		db.Close()
		return nil, err
	}

	resolver, err := newResolver(cfg, db)
	if err != nil {
		backend.Close()
		db.Close()
		return nil, err
	}

	limited := llm.Limit(backend, llm.NewLimiter(*cfg.rps))
	pipeline := scanning.NewPipeline(limited, scanning.Options{MaxDimension: *cfg.maxDimension})

	return &app{
		db:      db,
		backend: backend,
		service: receipt.NewService(db, pipeline, storage, resolver),
	}, nil
}

// newBackend builds the configured extraction backend
func newBackend(cfg *config) (llm.Client, error) {
	temperature := float32(*cfg.temperature)

	switch *cfg.backend {
	case "gemini":
		apiKey := *cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini backend...", "model", *cfg.geminiModel)
		return llm.NewGemini(llm.GeminiConfig{
			APIKey:      apiKey,
			Model:       *cfg.geminiModel,
			Temperature: temperature,
			Timeout:     *cfg.timeout,
		})
	case "ollama":
		slog.Info("Initializing Ollama backend...", "url", *cfg.ollamaURL, "model", *cfg.ollamaModel)
		return llm.NewOllama(llm.OllamaConfig{
			BaseURL:     *cfg.ollamaURL,
			Model:       *cfg.ollamaModel,
			Temperature: temperature,
			Timeout:     *cfg.timeout,
		})
	case "openai":
		apiKey := *cfg.openaiKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("openai API key is required: set --openai-key or OPENAI_API_KEY")
		}
		slog.Info("Initializing OpenAI backend...", "model", *cfg.openaiModel)
		return llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:      apiKey,
			Model:       *cfg.openaiModel,
			Temperature: temperature,
			Timeout:     *cfg.timeout,
			BaseURL:     *cfg.openaiURL,
		})
	default:
		return nil, fmt.Errorf("invalid backend %q: valid backends are gemini, ollama and openai", *cfg.backend)
	}
}

// newResolver picks the known-store source. The database records new
// canonical names; an alias table is fixed.
func newResolver(cfg *config, db *receipt.BoltDB) (*stores.Resolver, error) {
	normalizer := stores.NewNormalizer(*cfg.storeThreshold)

	var source stores.Source
	switch *cfg.storeSource {
	case "db":
		source = db
	case "aliases":
		table, err := stores.LoadAliasTable(*cfg.storeAliases)
		if err != nil {
			return nil, err
		}
		source = table
	default:
		return nil, fmt.Errorf("invalid store source %q: valid sources are db and aliases", *cfg.storeSource)
	}

	slog.Info("Store normalization", "source", *cfg.storeSource, "threshold", normalizer.Threshold)
	return stores.NewResolver(normalizer, source).WithAnalysisThreshold(*cfg.analysisThreshold), nil
}
