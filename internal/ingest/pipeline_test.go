package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/yelinaung/receipt-tracker/internal/gemini"
	"gitlab.com/yelinaung/receipt-tracker/internal/models"
	"gitlab.com/yelinaung/receipt-tracker/internal/storage"
)

var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

// steps records the order in which collaborators were called.
type steps struct{ names []string }

func (s *steps) add(name string) { s.names = append(s.names, name) }

type fakeStore struct {
	steps       *steps
	err         error
	contentType string
	userID      uuid.UUID
}

func (f *fakeStore) Put(_ context.Context, userID uuid.UUID, contentType string, _ []byte) (*storage.Object, error) {
	f.steps.add("store")
	f.userID = userID
	f.contentType = contentType
	if f.err != nil {
		return nil, f.err
	}
	return &storage.Object{
		Key: "receipts/" + userID.String() + "/1-a.jpg",
		URL: "https://cdn.example.com/receipts/" + userID.String() + "/1-a.jpg",
	}, nil
}

type fakeExtractor struct {
	steps *steps
	data  *gemini.ReceiptData
	err   error
}

func (f *fakeExtractor) ExtractReceipt(context.Context, []byte, string) (*gemini.ReceiptData, error) {
	f.steps.add("extract")
	return f.data, f.err
}

type fakeReceipts struct {
	steps *steps
	saved []*models.Receipt
	err   error
}

func (f *fakeReceipts) Create(_ context.Context, r *models.Receipt) error {
	f.steps.add("insert")
	if f.err != nil {
		return f.err
	}
	r.ID = uuid.New()
	f.saved = append(f.saved, r)
	return nil
}

type fakeCategories struct {
	cats []models.Category
	err  error
}

func (f *fakeCategories) ListByUser(context.Context, uuid.UUID) ([]models.Category, error) {
	return f.cats, f.err
}

type fakeProfiles struct {
	profile *models.Profile
	err     error
}

func (f *fakeProfiles) Get(context.Context, uuid.UUID) (*models.Profile, error) {
	return f.profile, f.err
}

type fakeQueue struct {
	steps   *steps
	targets []string
	err     error
}

func (f *fakeQueue) Enqueue(_ context.Context, receiptID, userID uuid.UUID, target string) (*models.SyncJob, error) {
	f.steps.add("enqueue")
	if f.err != nil {
		return nil, f.err
	}
	f.targets = append(f.targets, target)
	return &models.SyncJob{ID: 1, ReceiptID: receiptID, UserID: userID, Target: target}, nil
}

type fakeFetcher struct {
	data        []byte
	contentType string
	err         error
}

func (f *fakeFetcher) Fetch(context.Context, string) ([]byte, string, error) {
	return f.data, f.contentType, f.err
}

type harness struct {
	steps     *steps
	store     *fakeStore
	extractor *fakeExtractor
	receipts  *fakeReceipts
	profiles  *fakeProfiles
	queue     *fakeQueue
	pipeline  *Pipeline
}

func newHarness(data *gemini.ReceiptData) *harness {
	s := &steps{}
	h := &harness{
		steps:     s,
		store:     &fakeStore{steps: s},
		extractor: &fakeExtractor{steps: s, data: data},
		receipts:  &fakeReceipts{steps: s},
		profiles:  &fakeProfiles{profile: &models.Profile{GoogleAccessToken: "token"}},
		queue:     &fakeQueue{steps: s},
	}
	h.pipeline = New(Deps{
		Store:     h.store,
		Extractor: h.extractor,
		Receipts:  h.receipts,
		Profiles:  h.profiles,
		Queue:     h.queue,
	})
	h.pipeline.now = func() time.Time { return time.Date(2025, time.December, 2, 18, 45, 0, 0, time.UTC) }
	return h
}

func shellReceipt() *gemini.ReceiptData {
	return &gemini.ReceiptData{
		MerchantName: "Shell Forecourt",
		Amount:       decimal.RequireFromString("45.10"),
		Date:         "28/11/2025",
		Category:     "Food",
		LineItems:    []string{"Unleaded petrol 30L", "Sandwich"},
	}
}

func TestPipeline_Ingest(t *testing.T) {
	t.Parallel()

	h := newHarness(shellReceipt())
	userID := uuid.New()

	res, err := h.pipeline.Ingest(context.Background(), userID, jpegBytes, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"store", "extract", "insert", "enqueue"}, h.steps.names)
	assert.Equal(t, userID, h.store.userID)
	assert.Equal(t, "image/jpeg", h.store.contentType)

	rec := res.Receipt
	require.NotNil(t, rec)
	assert.Equal(t, userID, rec.UserID)
	assert.Equal(t, "Shell Forecourt", rec.MerchantName)
	assert.Equal(t, "45.1", rec.Amount.String())
	assert.Equal(t, "2025-11-28", rec.DateString())
	assert.Equal(t, "Fuel", rec.Category)
	assert.Contains(t, rec.ImageURL, "/receipts/"+userID.String()+"/")

	assert.Equal(t, Extracted{
		MerchantName: "Shell Forecourt",
		Amount:       "45.10",
		Date:         "2025-11-28",
		Category:     "Fuel",
	}, res.Extracted)
	assert.False(t, res.DateFallback)
	assert.True(t, res.SyncQueued)
	assert.Equal(t, []string{models.SyncTargetDrive}, h.queue.targets)
}

func TestPipeline_NormalizesExtractedFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		data         *gemini.ReceiptData
		wantDate     string
		wantFallback bool
		wantMerchant string
		wantCategory string
	}{
		{
			name:         "iso date",
			data:         &gemini.ReceiptData{MerchantName: "Tesco", Amount: decimal.NewFromInt(5), Date: "2025-11-01", Category: "Food"},
			wantDate:     "2025-11-01",
			wantMerchant: "Tesco",
			wantCategory: "Food",
		},
		{
			name:         "named month",
			data:         &gemini.ReceiptData{MerchantName: "Superdrug", Amount: decimal.NewFromInt(5), Date: "3 March 2025", Category: "Health"},
			wantDate:     "2025-03-03",
			wantMerchant: "Superdrug",
			wantCategory: "Health",
		},
		{
			name:         "unreadable date falls back to today",
			data:         &gemini.ReceiptData{MerchantName: "Odeon", Amount: decimal.NewFromInt(12), Date: "yesterday-ish", Category: "Entertainment"},
			wantDate:     "2025-12-02",
			wantFallback: true,
			wantMerchant: "Odeon",
			wantCategory: "Entertainment",
		},
		{
			name:         "missing date falls back to today",
			data:         &gemini.ReceiptData{MerchantName: "Odeon", Amount: decimal.NewFromInt(12)},
			wantDate:     "2025-12-02",
			wantFallback: true,
			wantMerchant: "Odeon",
			wantCategory: "Entertainment",
		},
		{
			name:         "blank merchant",
			data:         &gemini.ReceiptData{Amount: decimal.NewFromInt(1), Date: "2025-11-01"},
			wantDate:     "2025-11-01",
			wantMerchant: models.UnknownMerchant,
			wantCategory: "Other",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(tt.data)

			res, err := h.pipeline.Ingest(context.Background(), uuid.New(), jpegBytes, "image/jpeg")
			require.NoError(t, err)
			assert.Equal(t, tt.wantDate, res.Receipt.DateString())
			assert.Equal(t, tt.wantDate, res.Extracted.Date)
			assert.Equal(t, tt.wantFallback, res.DateFallback)
			assert.Equal(t, tt.wantMerchant, res.Receipt.MerchantName)
			assert.Equal(t, tt.wantCategory, res.Receipt.Category)
		})
	}
}

func TestPipeline_UsesUserCategorySpelling(t *testing.T) {
	t.Parallel()

	h := newHarness(shellReceipt())
	h.pipeline.deps.Categories = &fakeCategories{cats: []models.Category{
		{Name: "food"},
		{Name: "fuel"},
	}}

	res, err := h.pipeline.Ingest(context.Background(), uuid.New(), jpegBytes, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "fuel", res.Receipt.Category)
}

func TestPipeline_CategoryLookupFailureKeepsResolvedName(t *testing.T) {
	t.Parallel()

	h := newHarness(shellReceipt())
	h.pipeline.deps.Categories = &fakeCategories{err: errors.New("db down")}

	res, err := h.pipeline.Ingest(context.Background(), uuid.New(), jpegBytes, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "Fuel", res.Receipt.Category)
}

func TestPipeline_Failures(t *testing.T) {
	t.Parallel()

	t.Run("empty image", func(t *testing.T) {
		t.Parallel()
		h := newHarness(shellReceipt())
		_, err := h.pipeline.Ingest(context.Background(), uuid.New(), nil, "image/jpeg")
		require.ErrorIs(t, err, ErrEmptyImage)
		assert.Empty(t, h.steps.names)
	})

	t.Run("storage failure stops before extraction", func(t *testing.T) {
		t.Parallel()
		h := newHarness(shellReceipt())
		h.store.err = errors.New("bucket unavailable")

		_, err := h.pipeline.Ingest(context.Background(), uuid.New(), jpegBytes, "image/jpeg")
		require.ErrorIs(t, err, ErrStorage)
		assert.Equal(t, []string{"store"}, h.steps.names)
	})

	t.Run("unsupported type is reported", func(t *testing.T) {
		t.Parallel()
		h := newHarness(shellReceipt())
		h.store.err = storage.ErrUnsupportedType

		_, err := h.pipeline.Ingest(context.Background(), uuid.New(), []byte("%PDF-1.7"), "application/pdf")
		require.ErrorIs(t, err, storage.ErrUnsupportedType)
	})

	t.Run("ai call failure", func(t *testing.T) {
		t.Parallel()
		h := newHarness(nil)
		h.extractor.err = errors.New("503 from gateway")

		_, err := h.pipeline.Ingest(context.Background(), uuid.New(), jpegBytes, "image/jpeg")
		require.ErrorIs(t, err, ErrExtraction)
		assert.Equal(t, []string{"store", "extract"}, h.steps.names)
	})

	t.Run("unreadable ai output creates nothing", func(t *testing.T) {
		t.Parallel()
		h := newHarness(nil)
		h.extractor.err = gemini.ErrInvalidResponse

		_, err := h.pipeline.Ingest(context.Background(), uuid.New(), jpegBytes, "image/jpeg")
		require.ErrorIs(t, err, gemini.ErrInvalidResponse)
		assert.False(t, errors.Is(err, ErrExtraction))
		assert.Empty(t, h.receipts.saved)
	})

	t.Run("ai timeout", func(t *testing.T) {
		t.Parallel()
		h := newHarness(nil)
		h.extractor.err = gemini.ErrParseTimeout

		_, err := h.pipeline.Ingest(context.Background(), uuid.New(), jpegBytes, "image/jpeg")
		require.ErrorIs(t, err, gemini.ErrParseTimeout)
	})

	t.Run("insert failure surfaces underlying error", func(t *testing.T) {
		t.Parallel()
		h := newHarness(shellReceipt())
		constraint := errors.New("violates check constraint receipts_amount_check")
		h.receipts.err = constraint

		_, err := h.pipeline.Ingest(context.Background(), uuid.New(), jpegBytes, "image/jpeg")
		require.ErrorIs(t, err, ErrSave)
		require.ErrorIs(t, err, constraint)
		assert.NotContains(t, h.steps.names, "enqueue")
	})
}

func TestPipeline_SyncSchedulingIsBestEffort(t *testing.T) {
	t.Parallel()

	t.Run("not connected", func(t *testing.T) {
		t.Parallel()
		h := newHarness(shellReceipt())
		h.profiles.profile = &models.Profile{}

		res, err := h.pipeline.Ingest(context.Background(), uuid.New(), jpegBytes, "image/jpeg")
		require.NoError(t, err)
		assert.False(t, res.SyncQueued)
		assert.NotContains(t, h.steps.names, "enqueue")
	})

	t.Run("profile lookup fails", func(t *testing.T) {
		t.Parallel()
		h := newHarness(shellReceipt())
		h.profiles.err = errors.New("not found")

		res, err := h.pipeline.Ingest(context.Background(), uuid.New(), jpegBytes, "image/jpeg")
		require.NoError(t, err)
		assert.NotNil(t, res.Receipt)
		assert.False(t, res.SyncQueued)
	})

	t.Run("enqueue fails", func(t *testing.T) {
		t.Parallel()
		h := newHarness(shellReceipt())
		h.queue.err = errors.New("db down")

		res, err := h.pipeline.Ingest(context.Background(), uuid.New(), jpegBytes, "image/jpeg")
		require.NoError(t, err)
		assert.NotNil(t, res.Receipt)
		assert.False(t, res.SyncQueued)
	})
}

func TestPipeline_Process(t *testing.T) {
	t.Parallel()

	t.Run("fetches and keeps the given url", func(t *testing.T) {
		t.Parallel()
		h := newHarness(shellReceipt())
		h.pipeline.deps.Fetcher = &fakeFetcher{data: jpegBytes, contentType: "image/jpeg"}

		url := "https://cdn.example.com/receipts/x/1-a.jpg"
		res, err := h.pipeline.Process(context.Background(), uuid.New(), url)
		require.NoError(t, err)
		assert.Equal(t, url, res.Receipt.ImageURL)
		assert.NotContains(t, h.steps.names, "store")
	})

	t.Run("fetch failure", func(t *testing.T) {
		t.Parallel()
		h := newHarness(shellReceipt())
		h.pipeline.deps.Fetcher = &fakeFetcher{err: storage.ErrTooLarge}

		_, err := h.pipeline.Process(context.Background(), uuid.New(), "https://cdn.example.com/a.jpg")
		require.ErrorIs(t, err, ErrFetch)
		require.ErrorIs(t, err, storage.ErrTooLarge)
		assert.Empty(t, h.steps.names)
	})
}

func TestPipeline_Analyze(t *testing.T) {
	t.Parallel()

	h := newHarness(shellReceipt())
	url := "https://cdn.example.com/receipts/x/2-b.jpg"

	res, err := h.pipeline.Analyze(context.Background(), uuid.New(), url, jpegBytes, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, url, res.Receipt.ImageURL)
	assert.Equal(t, []string{"extract", "insert", "enqueue"}, h.steps.names)
}

func TestDetectContentType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "image/png", DetectContentType(nil, "image/PNG; charset=binary"))
	assert.Equal(t, "image/jpeg", DetectContentType(jpegBytes, ""))
	assert.Equal(t, "image/jpeg", DetectContentType(jpegBytes, "application/octet-stream"))
}
