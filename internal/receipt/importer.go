package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/receipt-sage/internal/scanning"
)

// ImporterOptions controls a batch import
type ImporterOptions struct {
	Concurrency int           // Folders processed at once
	Attempts    uint          // Pipeline runs per folder, 1 means no retry
	Delay       time.Duration // Base delay between attempts
}

// Failure describes a folder that could not be processed or imported
type Failure struct {
	Folder string         `json:"folder"`
	Stage  scanning.Stage `json:"stage,omitempty"`
	Error  string         `json:"error"`
}

// Summary reports the outcome of an import run
type Summary struct {
	Imported  int       `json:"imported"`
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
}

// Importer walks a directory of receipt folders, one receipt per folder
type Importer struct {
	service *Service
	db      DB
	opts    ImporterOptions
}

// NewImporter creates an Importer
func NewImporter(service *Service, opts ImporterOptions) *Importer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Attempts == 0 {
		opts.Attempts = 1
	}
	if opts.Delay <= 0 {
		opts.Delay = 2 * time.Second
	}
	return &Importer{service: service, db: service.db, opts: opts}
}

// receiptFolders lists the subdirectories of base that hold receipt images
func receiptFolders(base string) ([]string, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, fmt.Errorf("reading receipts directory: %w", err)
	}
	folders := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(base, e.Name())
		images, err := folderImages(dir)
		if err != nil {
			return nil, err
		}
		if len(images) > 0 {
			folders = append(folders, dir)
		}
	}
	return folders, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FindUnprocessed returns receipt folders that have no analysis file yet
func (imp *Importer) FindUnprocessed(base string) ([]string, error) {
	folders, err := receiptFolders(base)
	if err != nil {
		return nil, err
	}
	unprocessed := make([]string, 0, len(folders))
	for _, dir := range folders {
		if !fileExists(analysisPathFor(dir)) {
			unprocessed = append(unprocessed, dir)
		}
	}
	return unprocessed, nil
}

// FindUnimported returns analysis files that are not in the database yet
func (imp *Importer) FindUnimported(base string) ([]string, error) {
	folders, err := receiptFolders(base)
	if err != nil {
		return nil, err
	}
	unimported := make([]string, 0, len(folders))
	for _, dir := range folders {
		path := analysisPathFor(dir)
		if !fileExists(path) {
			continue
		}
		_, err := imp.db.FindByAnalysisPath(path)
		switch {
		case err == nil:
			continue
		case errors.Is(err, ErrNotFound):
			unimported = append(unimported, path)
		default:
			return nil, fmt.Errorf("checking analysis %s: %w", path, err)
		}
	}
	return unimported, nil
}

// Run imports existing analysis files, then processes the remaining folders
// in parallel. Per-folder failures are collected in the summary; only
// directory errors and cancellation are returned.
func (imp *Importer) Run(ctx context.Context, base string) (Summary, error) {
	var (
		mu      sync.Mutex
		summary Summary
	)
	record := func(folder string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failure := Failure{Folder: folder, Error: err.Error()}
		var stageErr *scanning.Error
		if errors.As(err, &stageErr) {
			failure.Stage = stageErr.Stage
		}
		summary.Failed++
		summary.Failures = append(summary.Failures, failure)
	}

	unimported, err := imp.FindUnimported(base)
	if err != nil {
		return summary, err
	}
	for _, path := range unimported {
		if _, err := imp.service.ImportAnalysis(ctx, path); err != nil {
			slog.Error("Failed to import analysis", "path", path, "error", err)
			record(filepath.Dir(filepath.Dir(path)), err)
			continue
		}
		summary.Imported++
	}

	unprocessed, err := imp.FindUnprocessed(base)
	if err != nil {
		return summary, err
	}
	slog.Info("Starting import", "base", base, "imported", summary.Imported, "unprocessed", len(unprocessed))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(imp.opts.Concurrency)
	for _, dir := range unprocessed {
		g.Go(func() error {
			err := retry.Do(
				func() error {
					_, err := imp.service.ProcessFolder(gctx, dir)
					return err
				},
				retry.Context(gctx),
				retry.Attempts(imp.opts.Attempts),
				retry.Delay(imp.opts.Delay),
				retry.LastErrorOnly(true),
				retry.RetryIf(isExtractionFailure),
				retry.OnRetry(func(n uint, err error) {
					slog.Warn("Retrying receipt folder", "folder", dir, "attempt", n+1, "error", err)
				}),
			)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				slog.Error("Failed to process folder", "folder", dir, "error", err)
				record(dir, err)
				return nil
			}

			mu.Lock()
			summary.Processed++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	slog.Info("Import finished",
		"imported", summary.Imported,
		"processed", summary.Processed,
		"failed", summary.Failed,
	)
	return summary, nil
}

// isExtractionFailure reports whether err came from a pipeline run
func isExtractionFailure(err error) bool {
	var extraction *ExtractionError
	return errors.As(err, &extraction)
}
