package scanning

import (
	"errors"
	"fmt"
	"strings"
)

// Category is one of the fixed item categories
type Category string

const (
	CategoryProduce       Category = "Produce"
	CategoryBakery        Category = "Bakery"
	CategoryHousehold     Category = "Household"
	CategoryMeat          Category = "Meat"
	CategorySeafood       Category = "Seafood"
	CategoryGrocery       Category = "Grocery"
	CategoryMiscellaneous Category = "Miscellaneous"
)

// Categories lists the allowed item categories in prompt order
var Categories = []Category{
	CategoryProduce,
	CategoryBakery,
	CategoryHousehold,
	CategoryMeat,
	CategorySeafood,
	CategoryGrocery,
	CategoryMiscellaneous,
}

// CanonicalCategory maps a label onto the category list ignoring case.
// Unknown labels map to Miscellaneous and report false.
func CanonicalCategory(label string) (Category, bool) {
	label = strings.TrimSpace(label)
	for _, c := range Categories {
		if strings.EqualFold(label, string(c)) {
			return c, true
		}
	}
	return CategoryMiscellaneous, false
}

// Unit says how an item was sold
type Unit string

const (
	UnitEach   Unit = "each"
	UnitPounds Unit = "pounds"
)

var errQuantityWeight = errors.New("exactly one of quantity and weight must be set")

// Metadata is the receipt header
type Metadata struct {
	Store         string  `json:"store"`
	Address       string  `json:"address"`
	Phone         *string `json:"phone"`
	ReceiptNumber string  `json:"receipt_number"`
	Date          string  `json:"date"`
	Time          string  `json:"time"`
}

// Item is one purchased line
type Item struct {
	Brand       *string  `json:"brand"`
	Product     string   `json:"product"`
	ProductType string   `json:"product_type"`
	Category    Category `json:"category"`
	Quantity    *float64 `json:"quantity"`
	Weight      *float64 `json:"weight"`
	Unit        Unit     `json:"unit"`
	UnitPrice   float64  `json:"unit_price"`
	TotalPrice  float64  `json:"total_price"`
	IsOrganic   bool     `json:"is_organic"`
	Savings     *float64 `json:"savings"`
}

// Validate enforces the weight/quantity contract
func (i Item) Validate() error {
	if (i.Quantity == nil) == (i.Weight == nil) {
		return errQuantityWeight
	}
	switch i.Unit {
	case UnitPounds:
		if i.Weight == nil {
			return fmt.Errorf("unit %q requires weight", i.Unit)
		}
	case UnitEach:
		if i.Quantity == nil {
			return fmt.Errorf("unit %q requires quantity", i.Unit)
		}
	default:
		return fmt.Errorf("unknown unit %q", i.Unit)
	}
	return nil
}

// Tax is one tax line
type Tax struct {
	Rate   float64 `json:"rate"`
	Amount float64 `json:"amount"`
}

// Totals is the receipt footer
type Totals struct {
	Subtotal     float64 `json:"subtotal"`
	TotalSavings float64 `json:"total_savings"`
	Tax          []Tax   `json:"tax"`
	Total        float64 `json:"total"`
}

// TotalTax sums every tax line
func (t Totals) TotalTax() float64 {
	var sum float64
	for _, tax := range t.Tax {
		sum += tax.Amount
	}
	return sum
}

// Payment describes how the receipt was paid
type Payment struct {
	Method       string  `json:"method"`
	CardLastFour *string `json:"card_last_four"`
	Amount       float64 `json:"amount"`
}

// StructuredReceipt is the final extraction artifact
type StructuredReceipt struct {
	Metadata Metadata `json:"metadata"`
	Items    []Item   `json:"items"`
	Totals   Totals   `json:"totals"`
	Payment  Payment  `json:"payment"`
}

// Validate checks every item
func (r *StructuredReceipt) Validate() error {
	for idx, item := range r.Items {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("item %d (%s): %w", idx, item.Product, err)
		}
	}
	return nil
}
