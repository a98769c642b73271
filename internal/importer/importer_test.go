package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/yelinaung/receipt-tracker/internal/google"
	"gitlab.com/yelinaung/receipt-tracker/internal/ledger"
	"gitlab.com/yelinaung/receipt-tracker/internal/models"
)

var header = []any{"Date", "Merchant", "Amount", "Category", "Drive Link", "Month"}

type fakeSheets struct {
	tabs    []string
	rows    map[string][][]any
	listErr error
	readErr map[string]error
}

func (f *fakeSheets) ListTabs(context.Context, *google.Session, string) ([]string, error) {
	return f.tabs, f.listErr
}

func (f *fakeSheets) ReadTab(_ context.Context, _ *google.Session, _ string, tab string) ([][]any, error) {
	if err := f.readErr[tab]; err != nil {
		return nil, err
	}
	return f.rows[tab], nil
}

type memReceipts struct {
	mu        sync.Mutex
	receipts  []models.Receipt
	createErr func(*models.Receipt) error
}

func (m *memReceipts) ExistsMatch(_ context.Context, userID uuid.UUID, date time.Time, merchant string, amount decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.receipts {
		if r.UserID == userID && r.Date.Equal(date) && r.MerchantName == merchant && r.Amount.Equal(amount) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memReceipts) Create(_ context.Context, receipt *models.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		if err := m.createErr(receipt); err != nil {
			return err
		}
	}
	receipt.ID = uuid.New()
	m.receipts = append(m.receipts, *receipt)
	return nil
}

func newTestImporter(sheets SheetReader, store ReceiptStore) *Importer {
	im := New(sheets, store)
	im.now = func() time.Time { return time.Date(2025, time.December, 1, 15, 0, 0, 0, time.UTC) }
	return im
}

func sampleSheets() *fakeSheets {
	return &fakeSheets{
		tabs: []string{"October 2025", "November 2025", "Summary", "_meta"},
		rows: map[string][][]any{
			"October 2025": {
				header,
				{"03/10/2025", "Tesco", "£12.40", "Food", "", "October"},
				{"15/10/2025", "B&Q", "1,234.56", "Materials", "", "October"},
			},
			"November 2025": {
				header,
				{"28/11/2025", "Shell", 45.1, "Fuel", `=HYPERLINK("https://drive.google.com/file/d/abc123/view","View Receipt")`, "November"},
				{},
				{"", "", "", "", "", ""},
				{"not a date", "", "oops", ""},
			},
			"Summary": {{"Total", "1292.06"}},
			"_meta":   {{"version", "1"}},
		},
	}
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	store := &memReceipts{}
	im := newTestImporter(sampleSheets(), store)

	res, err := im.Migrate(context.Background(), nil, "sheet-1", userID)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Imported)
	assert.Zero(t, res.Skipped)
	assert.Empty(t, res.Errors)

	require.Len(t, store.receipts, 4)

	tesco := store.receipts[0]
	assert.Equal(t, userID, tesco.UserID)
	assert.Equal(t, "Tesco", tesco.MerchantName)
	assert.Equal(t, "12.4", tesco.Amount.String())
	assert.Equal(t, "2025-10-03", tesco.DateString())
	assert.Equal(t, "Food", tesco.Category)
	assert.Nil(t, tesco.DriveFileID)

	assert.True(t, decimal.RequireFromString("1234.56").Equal(store.receipts[1].Amount))

	shell := store.receipts[2]
	assert.Equal(t, "2025-11-28", shell.DateString())
	require.NotNil(t, shell.DriveFileID)
	assert.Equal(t, "abc123", *shell.DriveFileID)
	assert.Equal(t, "https://drive.google.com/file/d/abc123/view", shell.ImageURL)

	fallback := store.receipts[3]
	assert.Equal(t, "2025-12-01", fallback.DateString())
	assert.Equal(t, models.UnknownMerchant, fallback.MerchantName)
	assert.True(t, fallback.Amount.IsZero())
	assert.Equal(t, models.UncategorizedCategory, fallback.Category)
}

func TestMigrate_SecondRunSkipsEverything(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	store := &memReceipts{}
	im := newTestImporter(sampleSheets(), store)

	first, err := im.Migrate(context.Background(), nil, "sheet-1", userID)
	require.NoError(t, err)

	second, err := im.Migrate(context.Background(), nil, "sheet-1", userID)
	require.NoError(t, err)
	assert.Zero(t, second.Imported)
	assert.Equal(t, first.Imported, second.Skipped)
	assert.Len(t, store.receipts, first.Imported)
}

func TestMigrate_DuplicateRowsCollide(t *testing.T) {
	t.Parallel()

	sheets := &fakeSheets{
		tabs: []string{"March 2025"},
		rows: map[string][][]any{"March 2025": {
			header,
			{"01/03/2025", "Costa", "3.20", "Food"},
			{"01/03/2025", "Costa", "3.20", "Food"},
		}},
	}
	store := &memReceipts{}

	res, err := newTestImporter(sheets, store).Migrate(context.Background(), nil, "sheet-1", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 1, res.Skipped)
}

func TestMigrate_RowErrorsDoNotStopTheRun(t *testing.T) {
	t.Parallel()

	store := &memReceipts{createErr: func(r *models.Receipt) error {
		if r.MerchantName == "B&Q" {
			return errors.New("constraint violation")
		}
		return nil
	}}
	sheets := sampleSheets()
	sheets.readErr = map[string]error{"November 2025": errors.New("quota exceeded")}

	res, err := newTestImporter(sheets, store).Migrate(context.Background(), nil, "sheet-1", uuid.New())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Imported)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, RowError{Sheet: "October 2025", Row: 3, Message: "constraint violation"}, res.Errors[0])
	assert.Equal(t, "November 2025", res.Errors[1].Sheet)
	assert.Zero(t, res.Errors[1].Row)
}

func TestMigrate_PanickingStoreIsRecorded(t *testing.T) {
	t.Parallel()

	store := &memReceipts{createErr: func(r *models.Receipt) error {
		if r.MerchantName == "Tesco" {
			panic("boom")
		}
		return nil
	}}

	res, err := newTestImporter(sampleSheets(), store).Migrate(context.Background(), nil, "sheet-1", uuid.New())
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Row)
	assert.Contains(t, res.Errors[0].Message, "boom")
	assert.Equal(t, 3, res.Imported)
}

func TestMigrate_Aborts(t *testing.T) {
	t.Parallel()

	t.Run("tab listing fails", func(t *testing.T) {
		t.Parallel()
		sheets := &fakeSheets{listErr: google.ErrSpreadsheetNotFound}
		_, err := newTestImporter(sheets, &memReceipts{}).Migrate(context.Background(), nil, "sheet-1", uuid.New())
		require.ErrorIs(t, err, google.ErrSpreadsheetNotFound)
	})

	t.Run("reconnect while reading", func(t *testing.T) {
		t.Parallel()
		sheets := sampleSheets()
		sheets.readErr = map[string]error{"November 2025": fmt.Errorf("read: %w", google.ErrReconnect)}
		store := &memReceipts{}

		res, err := newTestImporter(sheets, store).Migrate(context.Background(), nil, "sheet-1", uuid.New())
		require.ErrorIs(t, err, google.ErrReconnect)
		assert.Equal(t, 2, res.Imported)
	})

	t.Run("missing ids", func(t *testing.T) {
		t.Parallel()
		im := newTestImporter(sampleSheets(), &memReceipts{})

		_, err := im.Migrate(context.Background(), nil, "", uuid.New())
		require.ErrorIs(t, err, google.ErrInvalidInput)
		_, err = im.Migrate(context.Background(), nil, "sheet-1", uuid.Nil)
		require.ErrorIs(t, err, google.ErrInvalidInput)
	})
}

func TestParseRow_RoundTripsSheetRow(t *testing.T) {
	t.Parallel()

	tests := []ledger.Row{
		{
			Date:      time.Date(2025, time.November, 28, 0, 0, 0, 0, time.UTC),
			Merchant:  "Shell",
			Amount:    decimal.RequireFromString("45.10"),
			Category:  "Fuel",
			DriveLink: "https://drive.google.com/file/d/abc_123-x/view",
		},
		{
			Date:     time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC),
			Merchant: "Café \"Nero\"",
			Amount:   decimal.RequireFromString("1234.56"),
			Category: "Food",
		},
		{
			Date:     time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
			Merchant: "",
			Amount:   decimal.Zero,
			Category: "",
		},
	}

	now := time.Date(2030, time.June, 1, 0, 0, 0, 0, time.UTC)
	for _, want := range tests {
		got := ParseRow(want.Values(), now)

		assert.True(t, want.Date.Equal(got.Date), "date %s != %s", want.Date, got.Date)
		assert.True(t, want.Amount.Equal(got.Amount), "amount %s != %s", want.Amount, got.Amount)

		wantMerchant := want.Merchant
		if wantMerchant == "" {
			wantMerchant = models.UnknownMerchant
		}
		assert.Equal(t, wantMerchant, got.MerchantName)

		wantCategory := want.Category
		if wantCategory == "" {
			wantCategory = models.UncategorizedCategory
		}
		assert.Equal(t, wantCategory, got.Category)

		if want.DriveLink != "" {
			require.NotNil(t, got.DriveFileID)
			assert.Equal(t, ledger.DriveFileIDFromLink(want.DriveLink), *got.DriveFileID)
			assert.Equal(t, want.DriveLink, got.ImageURL)
		} else {
			assert.Nil(t, got.DriveFileID)
		}
	}
}

func TestSkipTab(t *testing.T) {
	t.Parallel()

	assert.True(t, SkipTab("Summary"))
	assert.True(t, SkipTab("_config"))
	assert.False(t, SkipTab("summary"))
	assert.False(t, SkipTab("November 2025"))
}

func TestLinkTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"https://drive.google.com/file/d/x/view", "https://drive.google.com/file/d/x/view"},
		{`=HYPERLINK("https://drive.google.com/file/d/x/view","View Receipt")`, "https://drive.google.com/file/d/x/view"},
		{`=hyperlink("https://a.example/q=""b""","x")`, `https://a.example/q="b"`},
		{`=HYPERLINK(A1)`, `=HYPERLINK(A1)`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, linkTarget(tt.in), tt.in)
	}
}
