package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gitlab.com/yelinaung/receipt-tracker/internal/category"
	"gitlab.com/yelinaung/receipt-tracker/internal/ledger"
	"gitlab.com/yelinaung/receipt-tracker/internal/logger"
	"google.golang.org/genai"
)

// ParseReceiptTimeout is the timeout for Gemini API calls.
const ParseReceiptTimeout = 30 * time.Second

// ErrParseTimeout indicates the Gemini API call timed out.
var ErrParseTimeout = errors.New("receipt parsing timed out")

// ErrNoData indicates no usable data could be extracted from the receipt.
var ErrNoData = errors.New("no usable data extracted from receipt")

// ErrInvalidResponse indicates the model output was not the requested JSON object.
var ErrInvalidResponse = errors.New("invalid receipt extraction response")

// ReceiptData contains the fields extracted from a receipt image.
// Date is passed through as the model wrote it; callers normalize it.
type ReceiptData struct {
	MerchantName string
	Amount       decimal.Decimal
	Date         string
	Category     string
	LineItems    []string
}

// HasAmount returns true if the amount was extracted.
func (r *ReceiptData) HasAmount() bool {
	return !r.Amount.IsZero()
}

// HasMerchant returns true if the merchant was extracted.
func (r *ReceiptData) HasMerchant() bool {
	return r.MerchantName != ""
}

// IsEmpty returns true if no usable data was extracted.
func (r *ReceiptData) IsEmpty() bool {
	return !r.HasAmount() && !r.HasMerchant()
}

// receiptResponse is the JSON structure returned by Gemini.
type receiptResponse struct {
	MerchantName string          `json:"merchant_name"`
	Amount       json.RawMessage `json:"amount"`
	Date         string          `json:"date"`
	Category     string          `json:"category"`
	LineItems    []string        `json:"line_items"`
}

// ExtractReceipt sends a receipt image to Gemini and returns the extracted fields.
// It applies a 30-second timeout to the API call.
func (c *Client) ExtractReceipt(ctx context.Context, imageBytes []byte, mimeType string) (*ReceiptData, error) {
	if c.generator == nil {
		return nil, fmt.Errorf("gemini client not initialized")
	}
	if len(imageBytes) == 0 {
		return nil, fmt.Errorf("image data is required")
	}

	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, ParseReceiptTimeout)
	defer cancel()

	temp := float32(0.1)
	config := &genai.GenerateContentConfig{
		Temperature:      &temp,
		ResponseMIMEType: "application/json",
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: buildReceiptInstruction()}},
		},
	}

	resp, err := c.generator.GenerateContent(timeoutCtx, c.model, []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{InlineData: &genai.Blob{MIMEType: mimeType, Data: imageBytes}},
				{Text: "Extract the receipt fields from this image."},
			},
		},
	}, config)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrParseTimeout
		}
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no response from Gemini")
	}

	var textContent strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			textContent.WriteString(part.Text)
		}
	}

	if textContent.Len() == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrInvalidResponse)
	}

	data, err := parseReceiptResponse(textContent.String())
	if err != nil {
		logger.Log.Warn().Err(err).Int("response_len", textContent.Len()).Msg("ExtractReceipt: unparsable model output")
		return nil, err
	}

	if data.IsEmpty() {
		return nil, ErrNoData
	}

	logger.Log.Debug().
		Str("merchant", logger.SanitizeText(data.MerchantName)).
		Str("amount", data.Amount.String()).
		Str("category", data.Category).
		Int("line_items", len(data.LineItems)).
		Msg("ExtractReceipt: extracted receipt")

	return data, nil
}

func buildReceiptInstruction() string {
	return fmt.Sprintf(`You extract data from photos of purchase receipts.
Return ONLY a JSON object with no additional text or markdown formatting.

Fields:
- merchant_name: the merchant or store name (string)
- amount: the total amount paid (number, e.g. 54.60)
- date: the purchase date in YYYY-MM-DD format (string)
- category: exactly one of: %s
- line_items: short descriptions of the purchased items (array of strings)

Category precedence: Fuel > Materials > Food > {Transportation, Shopping, Entertainment, Business, Health, Other}.
Decide the category from both who the merchant is and what was bought, not from single keywords.
A fuel station sale that includes fuel is Fuel even if snacks were bought too.
A hardware or builders merchant sale of building supplies is Materials.

If a field cannot be determined use "" for text fields, 0 for amount and [] for line_items.

Example response:
{"merchant_name": "Shell", "amount": 54.60, "date": "2025-11-28", "category": "Fuel", "line_items": ["Unleaded 38.2L", "Coffee"]}`,
		strings.Join(category.Names(), ", "))
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{[") {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func parseReceiptResponse(response string) (*ReceiptData, error) {
	var rr receiptResponse
	if err := json.Unmarshal([]byte(stripCodeFence(response)), &rr); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	amount, err := parseAmountField(rr.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %s", ErrInvalidResponse, amount)
	}

	items := make([]string, 0, len(rr.LineItems))
	for _, item := range rr.LineItems {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}

	return &ReceiptData{
		MerchantName: strings.TrimSpace(rr.MerchantName),
		Amount:       amount.Round(2),
		Date:         strings.TrimSpace(rr.Date),
		Category:     strings.TrimSpace(rr.Category),
		LineItems:    items,
	}, nil
}

// maxAmountExponent bounds the decimal exponent accepted from the model.
const maxAmountExponent = 20

// parseAmountField accepts the amount as a JSON number or a numeric string.
func parseAmountField(raw json.RawMessage) (decimal.Decimal, error) {
	d, err := decodeAmount(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if exp := d.Exponent(); exp > maxAmountExponent || exp < -maxAmountExponent {
		return decimal.Zero, fmt.Errorf("amount out of range: %s", raw)
	}
	return d, nil
}

func decodeAmount(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, fmt.Errorf("invalid amount: %w", err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return decimal.Zero, nil
		}
		// The model sometimes echoes the printed total, e.g. "£1,234.50".
		d := ledger.ParseAmount(s)
		if d.IsZero() && (!strings.ContainsAny(s, "0123456789") || strings.ContainsAny(s, "123456789")) {
			return decimal.Zero, fmt.Errorf("invalid amount %q", s)
		}
		return d, nil
	}

	d, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %s: %w", raw, err)
	}
	return d, nil
}
