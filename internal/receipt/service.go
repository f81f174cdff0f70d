package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/receipt-sage/internal/scanning"
	"github.com/zombor/receipt-sage/internal/stores"
)

const (
	analysisDir  = "analysis"
	analysisFile = "receipt_analysis.json"
)

// imageExtensions are the receipt image types picked up from folders
var imageExtensions = []string{".jpg", ".jpeg", ".png", ".heic", ".heif", ".pdf"}

// purchaseLayouts are tried in order when parsing the receipt date and time
var purchaseLayouts = []string{
	"01/02/2006 03:04 PM",
	"01/02/2006 3:04 PM",
	"01/02/2006 15:04",
	"01/02/06 03:04 PM",
	"01/02/06 15:04",
	"2006-01-02 15:04",
	"2006-01-02 03:04 PM",
	"01/02/2006",
	"01/02/06",
	"2006-01-02",
}

var (
	specialChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// IDGenerator generates unique IDs for receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Upload is one uploaded receipt image
type Upload struct {
	Filename    string
	Data        []byte
	ContentType string
}

// ExtractionError is a failed pipeline run. It unwraps to the stage error.
type ExtractionError struct {
	Err         *scanning.Error
	RawResponse string
}

func (e *ExtractionError) Error() string {
	return e.Err.Error()
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

func extractionError(result scanning.Result[*scanning.StructuredReceipt]) error {
	return &ExtractionError{Err: result.Error, RawResponse: result.RawResponse}
}

// Service handles receipt operations
type Service struct {
	db          DB
	pipeline    scanning.Processor
	storage     Storage
	resolver    *stores.Resolver
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, pipeline scanning.Processor, storage Storage, resolver *stores.Resolver) *Service {
	return NewServiceWithDeps(db, pipeline, storage, resolver, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, pipeline scanning.Processor, storage Storage, resolver *stores.Resolver, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		pipeline:    pipeline,
		storage:     storage,
		resolver:    resolver,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	// Keep only alphanumeric, spaces, hyphens, and underscores
	base = specialChars.ReplaceAllString(base, "")
	base = whitespace.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// Truncate to reasonable length (50 chars for base, plus extension)
	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// ProcessUpload runs the pipeline over uploaded images, in upload order, and saves the receipt
func (s *Service) ProcessUpload(ctx context.Context, uploads []Upload) (*Receipt, error) {
	if len(uploads) == 0 {
		return nil, fmt.Errorf("at least one file is required")
	}

	images := make([]scanning.Image, len(uploads))
	for i, u := range uploads {
		images[i] = scanning.Image{Name: u.Filename, Data: u.Data, ContentType: u.ContentType}
	}

	result := s.pipeline.ProcessImages(ctx, images)
	if !result.Success {
		slog.Error("Failed to process receipt",
			"files", len(uploads),
			"stage", result.Error.Stage,
			"error", result.Error,
		)
		return nil, extractionError(result)
	}

	return s.saveReceipt(ctx, result.Data, images, "")
}

// ProcessFolder runs the pipeline over the images in dir, in name order,
// writes analysis/receipt_analysis.json next to them and saves the receipt.
// The images are read once, before any backend call.
func (s *Service) ProcessFolder(ctx context.Context, dir string) (*Receipt, error) {
	paths, err := folderImages(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no receipt images in %s", dir)
	}

	images, err := loadImages(paths)
	if err != nil {
		return nil, err
	}

	result := s.pipeline.ProcessImages(ctx, images)
	if !result.Success {
		slog.Error("Failed to process receipt folder",
			"folder", dir,
			"images", len(images),
			"stage", result.Error.Stage,
			"error", result.Error,
		)
		return nil, extractionError(result)
	}

	analysisPath, err := writeAnalysis(dir, result.Data)
	if err != nil {
		return nil, err
	}
	return s.saveReceipt(ctx, result.Data, images, analysisPath)
}

// ImportAnalysis saves a receipt from an existing analysis file without calling the backend
func (s *Service) ImportAnalysis(ctx context.Context, path string) (*Receipt, error) {
	if existing, err := s.db.FindByAnalysisPath(path); err == nil {
		return existing, fmt.Errorf("%w: %s", ErrAlreadyImported, path)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("checking analysis %s: %w", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading analysis: %w", err)
	}
	var analysis scanning.StructuredReceipt
	if err := json.Unmarshal(data, &analysis); err != nil {
		return nil, fmt.Errorf("decoding analysis %s: %w", path, err)
	}
	if err := analysis.Validate(); err != nil {
		return nil, fmt.Errorf("validating analysis %s: %w", path, err)
	}

	paths, err := folderImages(filepath.Dir(filepath.Dir(path)))
	if err != nil {
		return nil, err
	}
	images, err := loadImages(paths)
	if err != nil {
		return nil, err
	}
	return s.saveReceipt(ctx, &analysis, images, path)
}

// saveReceipt stores the images, resolves the store name and persists the receipt
func (s *Service) saveReceipt(ctx context.Context, analysis *scanning.StructuredReceipt, images []scanning.Image, analysisPath string) (*Receipt, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	files := make([]File, 0, len(images))
	cleanup := func() {
		for _, f := range files {
			if err := s.storage.Delete(f.Path); err != nil {
				slog.Warn("Failed to delete file", "path", f.Path, "error", err)
			}
		}
	}

	for i, img := range images {
		savedPath, err := s.storage.Save(fmt.Sprintf("%s_%02d_%s", id, i+1, sanitizeFilename(img.Name)), img.Data)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("saving file: %w", err)
		}
		files = append(files, File{Name: img.Name, Path: savedPath, ContentType: img.ContentType})
	}

	receipt := &Receipt{
		ID:            id,
		Store:         analysis.Metadata.Store,
		ReceiptNumber: analysis.Metadata.ReceiptNumber,
		PurchasedAt:   parsePurchaseTime(analysis.Metadata.Date, analysis.Metadata.Time, now),
		Subtotal:      analysis.Totals.Subtotal,
		TotalSavings:  analysis.Totals.TotalSavings,
		TotalTax:      analysis.Totals.TotalTax(),
		Total:         analysis.Totals.Total,
		PaymentMethod: analysis.Payment.Method,
		ItemCount:     len(analysis.Items),
		Files:         files,
		AnalysisPath:  analysisPath,
		Analysis:      analysis,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if analysis.Payment.CardLastFour != nil {
		receipt.CardLastFour = *analysis.Payment.CardLastFour
	}

	if err := s.commitReceipt(ctx, receipt); err != nil {
		// Clean up files if database save fails
		cleanup()
		return nil, err
	}

	slog.Info("Receipt saved",
		"id", id,
		"store", receipt.StoreNormalized,
		"total", receipt.Total,
		"files", len(files),
	)
	return receipt, nil
}

// commitReceipt resolves the store name and saves the receipt. A new
// canonical name is only recorded together with the receipt.
func (s *Service) commitReceipt(ctx context.Context, receipt *Receipt) error {
	save := func(ctx context.Context, name string) error {
		receipt.StoreNormalized = name
		if err := s.db.SaveReceipt(ctx, receipt); err != nil {
			return fmt.Errorf("saving receipt to database: %w", err)
		}
		return nil
	}

	_, err := s.resolver.ResolveAndCommit(ctx, receipt.Store, save)
	if errors.Is(err, stores.ErrEmptyStoreName) {
		slog.Warn("Receipt has no store name", "id", receipt.ID)
		return save(ctx, "")
	}
	return err
}

// parsePurchaseTime combines the receipt date and time, falling back to now
func parsePurchaseTime(date, clock string, now time.Time) time.Time {
	value := strings.TrimSpace(strings.TrimSpace(date) + " " + strings.TrimSpace(clock))
	if value == "" {
		return now
	}
	for _, layout := range purchaseLayouts {
		if t, err := time.ParseInLocation(layout, value, now.Location()); err == nil {
			return t
		}
	}
	// The time may be unparseable on its own, so retry with the date alone
	if clock != "" {
		return parsePurchaseTime(date, "", now)
	}
	return now
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns all receipts, most recent purchase first
func (s *Service) ListReceipts() ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	slices.SortStableFunc(receipts, func(a, b *Receipt) int {
		return b.PurchasedAt.Compare(a.PurchasedAt)
	})
	return receipts, nil
}

// DeleteReceipt removes a receipt and its files
func (s *Service) DeleteReceipt(id string) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	for _, f := range receipt.Files {
		if err := s.storage.Delete(f.Path); err != nil {
			// Log error but continue with database deletion
			slog.Warn("Failed to delete file", "path", f.Path, "error", err)
		}
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptFile retrieves one stored image of a receipt by its position
func (s *Service) GetReceiptFile(id string, index int) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}
	if index < 0 || index >= len(receipt.Files) {
		return nil, "", fmt.Errorf("%w: file %d of %s", ErrNotFound, index, id)
	}

	file := receipt.Files[index]
	data, err := s.storage.Get(file.Path)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	return data, file.ContentType, nil
}

// ListStores returns the canonical store names
func (s *Service) ListStores(ctx context.Context) ([]string, error) {
	names, err := s.resolver.KnownStoreNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing stores: %w", err)
	}
	return names, nil
}

// AnalyzeStore reports how a raw store name would match the canonical names
func (s *Service) AnalyzeStore(ctx context.Context, name string, topK int) (stores.Analysis, error) {
	analysis, err := s.resolver.Analyze(ctx, name, topK)
	if err != nil {
		return stores.Analysis{}, fmt.Errorf("analyzing store: %w", err)
	}
	return analysis, nil
}

// folderImages lists the receipt images directly inside dir, sorted by name
func folderImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading folder: %w", err)
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	// os.ReadDir already sorts by name
	return paths, nil
}

func loadImages(paths []string) ([]scanning.Image, error) {
	images := make([]scanning.Image, 0, len(paths))
	for _, p := range paths {
		img, err := scanning.LoadImage(p)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

// analysisPathFor returns where the analysis of a receipt folder is written
func analysisPathFor(dir string) string {
	return filepath.Join(dir, analysisDir, analysisFile)
}

func writeAnalysis(dir string, analysis *scanning.StructuredReceipt) (string, error) {
	path := analysisPathFor(dir)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating analysis directory: %w", err)
	}
	data, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling analysis: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing analysis: %w", err)
	}
	return path, nil
}
