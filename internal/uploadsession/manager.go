// Package uploadsession hands a file from an unauthenticated phone to an
// authenticated user through short-lived, single-use sessions.
package uploadsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gitlab.com/yelinaung/receipt-tracker/internal/ingest"
	"gitlab.com/yelinaung/receipt-tracker/internal/logger"
	"gitlab.com/yelinaung/receipt-tracker/internal/models"
	"gitlab.com/yelinaung/receipt-tracker/internal/repository"
	"gitlab.com/yelinaung/receipt-tracker/internal/storage"
	"gitlab.com/yelinaung/receipt-tracker/internal/telemetry"
)

// DefaultTTL is how long a session stays consumable.
const DefaultTTL = 5 * time.Minute

// analysisTimeout bounds the background extraction started by Consume.
const analysisTimeout = 2 * time.Minute

var (
	// ErrNotFound means no session has the given id.
	ErrNotFound = errors.New("upload session not found")
	// ErrExpired means the session passed its expiry before being consumed.
	ErrExpired = errors.New("upload session expired")
	// ErrAlreadyUsed means the session was consumed before.
	ErrAlreadyUsed = errors.New("upload session already used")
	// ErrEmptyFile means the upload carried no bytes.
	ErrEmptyFile = errors.New("uploaded file is empty")
	// ErrStorage wraps failures storing the uploaded file.
	ErrStorage = errors.New("failed to store uploaded file")
)

// Store persists sessions.
type Store interface {
	Create(ctx context.Context, s *models.UploadSession) error
	Get(ctx context.Context, id uuid.UUID) (*models.UploadSession, error)
	MarkUploaded(ctx context.Context, id uuid.UUID, fileURL string, now time.Time) (bool, error)
	ExpirePending(ctx context.Context, cutoff time.Time) (int, error)
}

// ObjectStore keeps uploaded files.
type ObjectStore interface {
	Put(ctx context.Context, userID uuid.UUID, contentType string, data []byte) (*storage.Object, error)
	Delete(ctx context.Context, key string) error
}

// Analyzer extracts a receipt from an already stored image.
type Analyzer interface {
	Analyze(ctx context.Context, userID uuid.UUID, imageURL string, image []byte, contentType string) (*ingest.Result, error)
}

// Manager creates and consumes upload sessions.
type Manager struct {
	store    Store
	objects  ObjectStore
	analyzer Analyzer
	ttl      time.Duration
	now      func() time.Time

	broker *Broker
	wg     sync.WaitGroup
}

// NewManager creates a Manager. A ttl of zero uses DefaultTTL.
func NewManager(store Store, objects ObjectStore, analyzer Analyzer, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store:    store,
		objects:  objects,
		analyzer: analyzer,
		ttl:      ttl,
		now:      time.Now,
		broker:   NewBroker(),
	}
}

// Broker returns the broker that wakes watchers on consumption.
func (m *Manager) Broker() *Broker { return m.broker }

// Create starts a pending session for userID that expires after the TTL.
func (m *Manager) Create(ctx context.Context, userID uuid.UUID) (*models.UploadSession, error) {
	now := m.now().UTC()
	s := &models.UploadSession{
		ID:        uuid.New(),
		UserID:    userID,
		Status:    models.UploadSessionPending,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Create(ctx, s); err != nil {
		return nil, err
	}

	telemetry.RecordUploadSession(ctx, "created")
	logger.ForUser(userID.String()).Debug().Time("expires_at", s.ExpiresAt).Msg("Upload session created")
	return s, nil
}

// Get returns a session owned by userID. Sessions of other users read as
// not found.
func (m *Manager) Get(ctx context.Context, userID uuid.UUID, id uuid.UUID) (*models.UploadSession, error) {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.UserID != userID {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Manager) lookup(ctx context.Context, id uuid.UUID) (*models.UploadSession, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// CheckConsumable reports whether the session identified by rawID could
// still accept an upload, so callers can refuse before reading a file.
func (m *Manager) CheckConsumable(ctx context.Context, rawID string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return ErrNotFound
	}
	s, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}
	return m.checkConsumable(s)
}

// Consume attaches data to the session identified by rawID, stores it under
// the owner's namespace and starts receipt extraction in the background.
// A session is consumed at most once and only before it expires.
func (m *Manager) Consume(ctx context.Context, rawID string, data []byte, contentType string) (*models.UploadSession, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, ErrNotFound
	}

	s, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.checkConsumable(s); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	log := logger.ForUser(s.UserID.String())
	contentType = ingest.DetectContentType(data, contentType)

	obj, err := m.objects.Put(ctx, s.UserID, contentType, data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to store phone upload")
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	ok, err := m.store.MarkUploaded(ctx, id, obj.URL, m.now())
	if err != nil || !ok {
		m.discard(ctx, obj.Key)
		if err != nil {
			return nil, err
		}
		// Lost to a concurrent consume or to the clock.
		latest, lookupErr := m.lookup(ctx, id)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if cerr := m.checkConsumable(latest); cerr != nil {
			return nil, cerr
		}
		return nil, ErrAlreadyUsed
	}

	telemetry.RecordUploadSession(ctx, "consumed")
	log.Info().Int("bytes", len(data)).Msg("Upload session consumed")

	m.analyzeAsync(ctx, s.UserID, obj.URL, data, contentType)

	s.Status = models.UploadSessionUploaded
	s.FileURL = &obj.URL
	return s, nil
}

func (m *Manager) checkConsumable(s *models.UploadSession) error {
	if s.Status == models.UploadSessionUploaded {
		return ErrAlreadyUsed
	}
	if s.Status == models.UploadSessionExpired || s.IsExpired(m.now()) {
		return ErrExpired
	}
	return nil
}

func (m *Manager) discard(ctx context.Context, key string) {
	if err := m.objects.Delete(context.WithoutCancel(ctx), key); err != nil {
		logger.Log.Warn().Err(err).Msg("Failed to delete orphaned upload")
	}
}

// analyzeAsync runs extraction detached from the request. Its failure is
// logged and never reaches the phone.
func (m *Manager) analyzeAsync(ctx context.Context, userID uuid.UUID, fileURL string, data []byte, contentType string) {
	if m.analyzer == nil {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), analysisTimeout)
		defer cancel()

		log := logger.ForUser(userID.String())
		res, err := m.analyzer.Analyze(actx, userID, fileURL, data, contentType)
		if err != nil {
			log.Error().Err(err).Msg("Phone upload analysis failed")
			return
		}
		log.Info().Str("receipt_id", res.Receipt.ID.String()).Msg("Phone upload analyzed")
	}()
}

// Wait blocks until background analyses started by Consume have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}
