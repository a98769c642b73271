package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/yelinaung/receipt-tracker/internal/google"
	"gitlab.com/yelinaung/receipt-tracker/internal/importer"
	"gitlab.com/yelinaung/receipt-tracker/internal/ingest"
	"gitlab.com/yelinaung/receipt-tracker/internal/ledger"
	"gitlab.com/yelinaung/receipt-tracker/internal/models"
	"gitlab.com/yelinaung/receipt-tracker/internal/repository"
	"gitlab.com/yelinaung/receipt-tracker/internal/uploadsession"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// --- fakes ---

type fakeIngestor struct {
	res      *ingest.Result
	err      error
	gotUser  uuid.UUID
	gotImage []byte
	gotType  string
	gotURL   string
}

func (f *fakeIngestor) Ingest(_ context.Context, userID uuid.UUID, image []byte, contentType string) (*ingest.Result, error) {
	f.gotUser, f.gotImage, f.gotType = userID, image, contentType
	return f.res, f.err
}

func (f *fakeIngestor) Process(_ context.Context, userID uuid.UUID, imageURL string) (*ingest.Result, error) {
	f.gotUser, f.gotURL = userID, imageURL
	return f.res, f.err
}

type fakeSessions struct {
	session    *models.UploadSession
	getErr     error
	checkErr   error
	consumeErr error
	consumed   []byte
	events     []uploadsession.Event
}

func (f *fakeSessions) Create(_ context.Context, userID uuid.UUID) (*models.UploadSession, error) {
	f.session.UserID = userID
	return f.session, nil
}

func (f *fakeSessions) Get(context.Context, uuid.UUID, uuid.UUID) (*models.UploadSession, error) {
	return f.session, f.getErr
}

func (f *fakeSessions) CheckConsumable(context.Context, string) error {
	return f.checkErr
}

func (f *fakeSessions) Consume(_ context.Context, rawID string, data []byte, _ string) (*models.UploadSession, error) {
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	if rawID != f.session.ID.String() {
		return nil, uploadsession.ErrNotFound
	}
	f.consumed = data
	url := "https://cdn.example.com/receipts/x.png"
	s := *f.session
	s.Status = models.UploadSessionUploaded
	s.FileURL = &url
	return &s, nil
}

func (f *fakeSessions) Watch(context.Context, uuid.UUID, uuid.UUID) (<-chan uploadsession.Event, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	ch := make(chan uploadsession.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type fakeDrive struct {
	result    *google.DriveResult
	err       error
	got       google.DriveUpload
	folders   []string
	folderErr error
}

func (f *fakeDrive) Session(token string, userID uuid.UUID) *google.Session {
	return google.NewSession(token, userID, nil)
}

func (f *fakeDrive) Upload(_ context.Context, in google.DriveUpload) (*google.DriveResult, error) {
	f.got = in
	return f.result, f.err
}

func (f *fakeDrive) EnsureFolder(_ context.Context, _ *google.Session, name string) (string, error) {
	f.folders = append(f.folders, name)
	return "folder-1", f.folderErr
}

type fakeSheets struct {
	rows      []ledger.Row
	sheetIDs  []string
	tokens    []string
	appendErr error
	created   []string
}

func (f *fakeSheets) Session(token string, userID uuid.UUID) *google.Session {
	f.tokens = append(f.tokens, token)
	return google.NewSession(token, userID, nil)
}

func (f *fakeSheets) AppendReceipt(_ context.Context, _ *google.Session, id string, row ledger.Row) error {
	f.sheetIDs = append(f.sheetIDs, id)
	f.rows = append(f.rows, row)
	return f.appendErr
}

func (f *fakeSheets) CreateSpreadsheet(_ context.Context, _ *google.Session, title string) (*google.Spreadsheet, error) {
	f.created = append(f.created, title)
	return &google.Spreadsheet{ID: "sheet-new"}, nil
}

type fakeMigrator struct {
	res      *importer.Result
	err      error
	gotSheet string
}

func (f *fakeMigrator) Migrate(_ context.Context, _ *google.Session, id string, _ uuid.UUID) (*importer.Result, error) {
	f.gotSheet = id
	return f.res, f.err
}

type fakeReceipts struct {
	receipts map[uuid.UUID]models.Receipt
	updated  map[uuid.UUID]string
}

func (f *fakeReceipts) GetByID(_ context.Context, userID, id uuid.UUID) (*models.Receipt, error) {
	r, ok := f.receipts[id]
	if !ok || r.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (f *fakeReceipts) ListByUser(_ context.Context, userID uuid.UUID, _ int) ([]models.Receipt, error) {
	var out []models.Receipt
	for _, r := range f.receipts {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReceipts) UpdateCategory(_ context.Context, userID, id uuid.UUID, name string) error {
	if _, err := f.GetByID(context.Background(), userID, id); err != nil {
		return err
	}
	f.updated[id] = name
	return nil
}

type fakeCategories struct {
	mu        sync.Mutex
	cats      []models.Category
	seeded    int
	createErr error
	deleteErr error
}

func (f *fakeCategories) SeedDefaults(_ context.Context, _ uuid.UUID, defaults []repository.DefaultCategory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeded++
	for _, d := range defaults {
		f.cats = append(f.cats, models.Category{ID: uuid.New(), Name: d.Name, Emoji: d.Emoji, IsSystem: true})
	}
	return nil
}

func (f *fakeCategories) ListByUser(context.Context, uuid.UUID) ([]models.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Category(nil), f.cats...), nil
}

func (f *fakeCategories) Create(_ context.Context, userID uuid.UUID, name, emoji string) (*models.Category, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &models.Category{ID: uuid.New(), UserID: userID, Name: name, Emoji: emoji}, nil
}

func (f *fakeCategories) Delete(context.Context, uuid.UUID, uuid.UUID) (int, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return 3, nil
}

type setupCall struct {
	sheetsID, folder, mode string
}

type fakeProfiles struct {
	mu       sync.Mutex
	profile  models.Profile
	ensured  int
	setups   []setupCall
	tokens   [2]string
	telegram *int64
}

func (f *fakeProfiles) Get(context.Context, uuid.UUID) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profile
	return &p, nil
}

func (f *fakeProfiles) Ensure(context.Context, uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured++
	return f.ensured == 1, nil
}

func (f *fakeProfiles) SaveGoogleTokens(_ context.Context, _ uuid.UUID, access, refresh string) error {
	f.tokens = [2]string{access, refresh}
	return nil
}

func (f *fakeProfiles) SaveSetup(_ context.Context, _ uuid.UUID, sheetsID, folder, mode string) error {
	f.setups = append(f.setups, setupCall{sheetsID, folder, mode})
	return nil
}

func (f *fakeProfiles) SetTelegramChatID(_ context.Context, _ uuid.UUID, chatID *int64) error {
	f.telegram = chatID
	return nil
}

type fakeSyncJobs struct {
	jobs    []models.SyncJob
	retried int
}

func (f *fakeSyncJobs) ListByReceipt(context.Context, uuid.UUID, uuid.UUID) ([]models.SyncJob, error) {
	return f.jobs, nil
}

func (f *fakeSyncJobs) RetryFailed(context.Context, uuid.UUID, uuid.UUID) (int, error) {
	return f.retried, nil
}

// --- harness ---

type harness struct {
	handler    http.Handler
	userID     uuid.UUID
	token      string
	ingestor   *fakeIngestor
	sessions   *fakeSessions
	drive      *fakeDrive
	sheets     *fakeSheets
	migrator   *fakeMigrator
	receipts   *fakeReceipts
	categories *fakeCategories
	profiles   *fakeProfiles
	jobs       *fakeSyncJobs
}

func newHarness(t *testing.T, configure ...func(*Deps)) *harness {
	t.Helper()
	userID := uuid.New()
	h := &harness{
		userID:     userID,
		token:      signToken(t, userID.String(), testSecret, time.Hour),
		ingestor:   &fakeIngestor{},
		sessions:   &fakeSessions{session: &models.UploadSession{ID: uuid.New(), Status: models.UploadSessionPending}},
		drive:      &fakeDrive{},
		sheets:     &fakeSheets{},
		migrator:   &fakeMigrator{res: &importer.Result{}},
		receipts:   &fakeReceipts{receipts: map[uuid.UUID]models.Receipt{}, updated: map[uuid.UUID]string{}},
		categories: &fakeCategories{},
		profiles:   &fakeProfiles{profile: models.Profile{UserID: userID, SetupMode: models.SetupModeNone}},
		jobs:       &fakeSyncJobs{},
	}

	deps := Deps{
		Ingestor:   h.ingestor,
		Sessions:   h.sessions,
		Drive:      h.drive,
		Sheets:     h.sheets,
		Migrator:   h.migrator,
		Receipts:   h.receipts,
		Categories: h.categories,
		Profiles:   h.profiles,
		SyncJobs:   h.jobs,
	}
	for _, fn := range configure {
		fn(&deps)
	}

	srv := New(deps, Options{
		JWTSecret:      testSecret,
		PublicBaseURL:  "https://receipts.example.com/",
		MaxUploadBytes: 1024,
		DefaultFolder:  "Receipts",
	})
	h.handler = srv.Handler()
	return h
}

func signToken(t *testing.T, subject, secret string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.token)
	return h.serve(req)
}

func (h *harness) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, path string, data []byte, contentType string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="receipt.png"`)
	hdr.Set("Content-Type", contentType)
	part, err := w.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func parseJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := parseJSON(t, rec)
	assert.Equal(t, false, body["success"])
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error object, got %v", body)
	return errObj["code"].(string)
}

func sampleReceipt(userID uuid.UUID) models.Receipt {
	return models.Receipt{
		ID:           uuid.New(),
		UserID:       userID,
		ImageURL:     "https://cdn.example.com/r.png",
		MerchantName: "Shell",
		Amount:       decimal.RequireFromString("45.1"),
		Date:         time.Date(2025, time.November, 28, 0, 0, 0, 0, time.UTC),
		Category:     "Fuel",
	}
}

// --- tests ---

func TestHealth(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.serve(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("db down") }

func TestHealth_DatabaseDown(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(d *Deps) { d.DB = failingPinger{} })
	rec := h.serve(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthentication(t *testing.T) {
	t.Parallel()

	userID := uuid.NewString()
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not-a-jwt"},
		{"wrong secret", "Bearer " + signToken(t, userID, "other-secret", time.Hour)},
		{"expired", "Bearer " + signToken(t, userID, testSecret, -time.Minute)},
		{"subject is not a uuid", "Bearer " + signToken(t, "user-42", testSecret, time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := h.serve(req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
			assert.Zero(t, h.profiles.ensured, "no onboarding without a valid token")
		})
	}
}

func TestAuthentication_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	claims := jwt.RegisteredClaims{
		Subject:   h.userID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, h.serve(req).Code)
}

func TestOnboardingRunsOncePerUser(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	for range 3 {
		rec := h.do(t, http.MethodGet, "/api/categories", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, 1, h.profiles.ensured)
	assert.Equal(t, 1, h.categories.seeded)

	cats := parseJSON(t, h.do(t, http.MethodGet, "/api/categories", nil))["categories"].([]any)
	require.Len(t, cats, 9)
	first := cats[0].(map[string]any)
	assert.Equal(t, "Fuel", first["name"])
	assert.Equal(t, true, first["isSystem"])
}
