package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const receiptSchemaURL = "receipt.json"

func nullable(t string) map[string]any {
	return map[string]any{"type": []string{t, "null"}}
}

func typed(t string) map[string]any {
	return map[string]any{"type": t}
}

// receiptSchema describes the document the structuring stage must produce.
// Money, quantity and rate fields are JSON numbers; strings are rejected.
func receiptSchema() map[string]any {
	categories := make([]string, len(Categories))
	for i, c := range Categories {
		categories[i] = string(c)
	}

	return map[string]any{
		"type":     "object",
		"required": []string{"metadata", "items", "totals", "payment"},
		"properties": map[string]any{
			"metadata": map[string]any{
				"type":     "object",
				"required": []string{"store"},
				"properties": map[string]any{
					"store":          typed("string"),
					"address":        nullable("string"),
					"phone":          nullable("string"),
					"receipt_number": nullable("string"),
					"date":           nullable("string"),
					"time":           nullable("string"),
				},
			},
			"items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"product", "category", "unit", "unit_price", "total_price"},
					"properties": map[string]any{
						"brand":        nullable("string"),
						"product":      typed("string"),
						"product_type": nullable("string"),
						"category":     map[string]any{"enum": categories},
						"quantity":     nullable("number"),
						"weight":       nullable("number"),
						"unit":         map[string]any{"enum": []string{string(UnitEach), string(UnitPounds)}},
						"unit_price":   typed("number"),
						"total_price":  typed("number"),
						"is_organic":   typed("boolean"),
						"savings":      nullable("number"),
					},
				},
			},
			"totals": map[string]any{
				"type":     "object",
				"required": []string{"subtotal", "total"},
				"properties": map[string]any{
					"subtotal":      typed("number"),
					"total_savings": nullable("number"),
					"tax": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type":     "object",
							"required": []string{"amount"},
							"properties": map[string]any{
								"rate":   nullable("number"),
								"amount": typed("number"),
							},
						},
					},
					"total": typed("number"),
				},
			},
			"payment": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"method":         nullable("string"),
					"card_last_four": nullable("string"),
					"amount":         nullable("number"),
				},
			},
		},
	}
}

var compiledReceiptSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	b, err := json.Marshal(receiptSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(receiptSchemaURL, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(receiptSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
})

// validateReceiptDocument checks a decoded document against the receipt schema
func validateReceiptDocument(doc map[string]any) error {
	schema, err := compiledReceiptSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
