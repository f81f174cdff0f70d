package scanning

// Shared instructions used by every backend. Each stage owns one system
// instruction and one user prompt.

const transcriptionSystem = `You are a receipt OCR system. Output only the exact text from the receipt, preserving all original formatting, abbreviations, and numbers. Do not summarize, reorder, or explain anything. Pay extreme attention to transcribing numbers accurately.

Look carefully for:
- Items that span multiple lines
- All price information
- Savings and discounts
- Any visible header or footer information
- Every single item on the receipt
Output raw text only.`

const transcriptionPrompt = `Transcribe this receipt exactly as shown. Preserve all text, numbers, and symbols. Output only the receipt content.`

// mergeSeparator joins transcribed segments in the merge request
const mergeSeparator = "\n---NEXT SEGMENT---\n"

const mergeSystem = `Merge these overlapping receipt segments into a single coherent receipt.
Rules:
1. When segments disagree on a line, keep the clearest and most complete version
2. Eliminate duplicate items that appear in more than one overlapping segment
3. Preserve all header, footer, and payment information
4. Maintain the original order of items as they appear on the receipt
5. Preserve all price information exactly
Output the complete merged receipt text only.`

const mergePrompt = "Merge these receipt segments:\n\n"

// verifiedSentinel prefixes a quality-check answer that found nothing to correct
const verifiedSentinel = "VERIFIED"

const qualityCheckSystem = `You are verifying a receipt transcription against the original receipt image.
Check ONLY these fields against the image:
- Item prices and quantities
- Subtotal, tax, and total amounts
- Receipt number
- Date

Do not change wording, abbreviations, spacing, or item order.
If every checked field matches the image, respond with exactly: VERIFIED
Otherwise respond with the complete corrected transcription and nothing else.`

const qualityCheckPrompt = "Verify the numbers in this receipt transcription:\n\n"

const structuringSystem = `You are a JSON conversion system. Extract receipt data into JSON following this exact schema:
{
  "metadata": {
    "store": string,
    "address": string,
    "phone": string | null,
    "receipt_number": string,
    "date": string,
    "time": string
  },
  "items": [{
    "brand": string | null,
    "product": string,
    "product_type": string,
    "category": string,
    "quantity": number | null,
    "weight": number | null,
    "unit": "pounds" | "each",
    "unit_price": number,
    "total_price": number,
    "is_organic": boolean,
    "savings": number | null
  }],
  "totals": {
    "subtotal": number,
    "total_savings": number,
    "tax": [{"rate": number, "amount": number}],
    "total": number
  },
  "payment": {
    "method": string,
    "card_last_four": string | null,
    "amount": number
  }
}

Rules:
1. Never use abbreviations in product or brand names. Examples:
   - "FCL TSSUE" -> "Facial Tissue"
   - "SDROGH" -> "Sourdough"
   - "RSTD" -> "Roasted"
   - "GRLC" -> "Garlic"
   - "OG" -> "Organic"
   - "365WFM" -> "365 Whole Foods Market"
2. product_type is a generic type such as toilet paper, sourdough bread, bananas, salmon.
3. category must be one of: Produce, Bakery, Household, Meat, Seafood, Grocery, Miscellaneous.
4. For items sold by weight: weight is the amount in pounds, quantity is null, unit is "pounds", unit_price is the price per pound.
5. For items sold by unit count: quantity is the number of units, weight is null, unit is "each", unit_price is the price per item.
6. Every monetary amount, quantity, weight, and tax rate is a JSON number, never a string.
7. Include every item on the receipt.
Return only the JSON object.`

const structuringPrompt = "Convert this receipt text to structured JSON:\n\n"
