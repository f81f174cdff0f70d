package receipt

import (
	"errors"
	"time"

	"github.com/zombor/receipt-sage/internal/scanning"
)

var (
	// ErrNotFound is returned when a receipt does not exist
	ErrNotFound = errors.New("receipt not found")
	// ErrAlreadyImported is returned when an analysis file is already in the database
	ErrAlreadyImported = errors.New("analysis already imported")
)

// File is one stored image of a receipt
type File struct {
	Name        string `json:"name"`
	Path        string `json:"path"` // Path within storage
	ContentType string `json:"content_type"`
}

// Receipt is a processed receipt with its extracted data
type Receipt struct {
	ID              string    `json:"id"`
	Store           string    `json:"store"`            // Store name as printed
	StoreNormalized string    `json:"store_normalized"` // Canonical store name
	ReceiptNumber   string    `json:"receipt_number"`
	PurchasedAt     time.Time `json:"purchased_at"`
	Subtotal        float64   `json:"subtotal"`
	TotalSavings    float64   `json:"total_savings"`
	TotalTax        float64   `json:"total_tax"`
	Total           float64   `json:"total"`
	PaymentMethod   string    `json:"payment_method"`
	CardLastFour    string    `json:"card_last_four,omitempty"`
	ItemCount       int       `json:"item_count"`
	Files           []File    `json:"files"`
	AnalysisPath    string    `json:"analysis_path,omitempty"` // analysis/receipt_analysis.json this receipt was imported from

	Analysis *scanning.StructuredReceipt `json:"analysis"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
