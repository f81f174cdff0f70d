package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/receipt-sage/internal/llm"
	"github.com/zombor/receipt-sage/internal/receipt"
	"github.com/zombor/receipt-sage/internal/scanning"
	"github.com/zombor/receipt-sage/internal/stores"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// config holds the flags shared by every subcommand
type config struct {
	dbPath            *string
	storagePath       *string
	backend           *string
	geminiKey         *string
	geminiModel       *string
	ollamaURL         *string
	ollamaModel       *string
	openaiKey         *string
	openaiModel       *string
	openaiURL         *string
	timeout           *time.Duration
	temperature       *float64
	rps               *float64
	maxDimension      *int
	storeThreshold    *int
	analysisThreshold *int
	storeSource       *string
	storeAliases      *string
	logLevel          *string
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(os.Stdout)
	err := root.ParseAndRun(ctx, os.Args[1:], ff.WithEnvVarPrefix("RECEIPT_SAGE"))
	switch {
	case err == nil:
	case errors.Is(err, ff.ErrHelp), errors.Is(err, ff.ErrNoExec):
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("receipt-sage")
	cfg := config{
		dbPath:            fs.StringLong("db", "receipt-sage.db", "Database file path"),
		storagePath:       fs.StringLong("storage", "./receipts", "Storage directory path"),
		backend:           fs.StringLong("backend", "gemini", "Extraction backend: 'gemini', 'ollama' or 'openai'"),
		geminiKey:         fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel:       fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name"),
		ollamaURL:         fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel:       fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)"),
		openaiKey:         fs.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)"),
		openaiModel:       fs.StringLong("openai-model", "gpt-4o", "OpenAI model name"),
		openaiURL:         fs.StringLong("openai-url", "", "OpenAI compatible base URL (optional)"),
		timeout:           fs.DurationLong("timeout", 120*time.Second, "Per-call backend timeout"),
		temperature:       fs.Float64Long("temperature", 0.01, "Backend sampling temperature"),
		rps:               fs.Float64Long("rps", 0, "Maximum backend calls per second, 0 for unlimited"),
		maxDimension:      fs.IntLong("max-dimension", scanning.DefaultMaxDimension, "Longest image side sent to the backend"),
		storeThreshold:    fs.IntLong("store-threshold", stores.DefaultThreshold, "Minimum score for matching a known store"),
		analysisThreshold: fs.IntLong("analysis-threshold", stores.DefaultAnalysisThreshold, "Threshold reported by store analysis"),
		storeSource:       fs.StringLong("store-source", "db", "Known store names: 'db' or 'aliases'"),
		storeAliases:      fs.StringLong("store-aliases", "stores.yaml", "Alias table used with --store-source=aliases"),
		logLevel:          fs.StringLong("log-level", "info", "Log level: debug, info, warn or error"),
	}

	root := &ff.Command{
		Name:      "receipt-sage",
		Usage:     "receipt-sage [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "extract structured data from grocery receipt images",
		Flags:     fs,
	}
	root.Subcommands = []*ff.Command{
		newServeCommand(fs, &cfg),
		newImportCommand(fs, &cfg, stdout),
		newProcessCommand(fs, &cfg, stdout),
		newStoresCommand(fs, &cfg, stdout),
	}
	return root
}

func newServeCommand(parent *ff.FlagSet, cfg *config) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(parent)
	var (
		port     = fs.IntLong("port", 8080, "HTTP server port")
		authUser = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
	)
	return &ff.Command{
		Name:      "serve",
		Usage:     "receipt-sage serve [FLAGS]",
		ShortHelp: "run the HTTP API",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			app, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			server := receipt.NewServer(app.service, receipt.BasicAuth{Username: *authUser, Password: *authPass})
			if *authUser != "" || *authPass != "" {
				slog.Info("Basic auth enabled", "user", *authUser)
			}
			return server.Start(ctx, fmt.Sprintf(":%d", *port))
		},
	}
}

func newImportCommand(parent *ff.FlagSet, cfg *config, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("import").SetParent(parent)
	var (
		concurrency = fs.IntLong("concurrency", 2, "Receipt folders processed at once")
		attempts    = fs.IntLong("attempts", 3, "Pipeline attempts per folder")
		delay       = fs.DurationLong("retry-delay", 2*time.Second, "Base delay between attempts")
	)
	return &ff.Command{
		Name:      "import",
		Usage:     "receipt-sage import [FLAGS] <DIR>",
		ShortHelp: "process and import every receipt folder under DIR",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("import requires exactly one directory")
			}
			if *attempts < 1 {
				return fmt.Errorf("--attempts must be at least 1")
			}

			app, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			importer := receipt.NewImporter(app.service, receipt.ImporterOptions{
				Concurrency: *concurrency,
				Attempts:    uint(*attempts),
				Delay:       *delay,
			})
			summary, err := importer.Run(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(stdout, summary)
		},
	}
}

func newProcessCommand(parent *ff.FlagSet, cfg *config, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("process").SetParent(parent)
	return &ff.Command{
		Name:      "process",
		Usage:     "receipt-sage process [FLAGS] <IMAGE>...",
		ShortHelp: "extract one receipt from its images and print the result",
		LongHelp:  "Images are parts of the same receipt, given top to bottom. Nothing is stored.",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("process requires at least one image")
			}

			if err := setupLogging(*cfg.logLevel); err != nil {
				return err
			}
			backend, err := newBackend(cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			limited := llm.Limit(backend, llm.NewLimiter(*cfg.rps))
			pipeline := scanning.NewPipeline(limited, scanning.Options{MaxDimension: *cfg.maxDimension})
			result := pipeline.ProcessReceiptImages(ctx, args)
			if err := writeJSON(stdout, result); err != nil {
				return err
			}
			return result.Err()
		},
	}
}

func newStoresCommand(parent *ff.FlagSet, cfg *config, stdout io.Writer) *ff.Command {
	listFlags := ff.NewFlagSet("stores").SetParent(parent)
	analyzeFlags := ff.NewFlagSet("analyze").SetParent(listFlags)
	top := analyzeFlags.IntLong("top", stores.DefaultTopK, "Number of candidates to report")

	withResolver := func(fn func(*stores.Resolver) error) error {
		if err := setupLogging(*cfg.logLevel); err != nil {
			return err
		}
		db, err := receipt.NewBoltDB(*cfg.dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		resolver, err := newResolver(cfg, db)
		if err != nil {
			return err
		}
		return fn(resolver)
	}

	analyze := &ff.Command{
		Name:      "analyze",
		Usage:     "receipt-sage stores analyze [FLAGS] <NAME>",
		ShortHelp: "show how a store name matches the known stores",
		Flags:     analyzeFlags,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("analyze requires a store name")
			}
			return withResolver(func(r *stores.Resolver) error {
				analysis, err := r.Analyze(ctx, strings.Join(args, " "), *top)
				if err != nil {
					return err
				}
				return writeJSON(stdout, analysis)
			})
		},
	}

	return &ff.Command{
		Name:        "stores",
		Usage:       "receipt-sage stores [FLAGS] [SUBCOMMAND]",
		ShortHelp:   "list canonical store names",
		Flags:       listFlags,
		Subcommands: []*ff.Command{analyze},
		Exec: func(ctx context.Context, args []string) error {
			return withResolver(func(r *stores.Resolver) error {
				names, err := r.KnownStoreNames(ctx)
				if err != nil {
					return err
				}
				return writeJSON(stdout, names)
			})
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
