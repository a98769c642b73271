package uploadsession

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"gitlab.com/yelinaung/receipt-tracker/internal/logger"
	"gitlab.com/yelinaung/receipt-tracker/internal/models"
	"gitlab.com/yelinaung/receipt-tracker/internal/repository"
	"gitlab.com/yelinaung/receipt-tracker/internal/telemetry"
)

// Event types sent to watchers.
const (
	EventStatus   = "status"
	EventUploaded = "uploaded"
	EventExpired  = "expired"
)

const (
	// recheckInterval bounds how long a missed notification can delay a watcher.
	recheckInterval = 3 * time.Second
	resubscribeWait = time.Second

	// SweepInterval is how often lapsed pending sessions are marked expired.
	SweepInterval = 15 * time.Minute
)

// Event is one status change of a watched session.
type Event struct {
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	FileURL   string    `json:"fileUrl,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Subscriber streams NOTIFY payloads of a channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan string, error)
}

// Broker fans session-consumed notifications out to watchers.
type Broker struct {
	mu      sync.Mutex
	waiters map[uuid.UUID]map[chan struct{}]struct{}
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{waiters: make(map[uuid.UUID]map[chan struct{}]struct{})}
}

func (b *Broker) subscribe(id uuid.UUID) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	if b.waiters[id] == nil {
		b.waiters[id] = make(map[chan struct{}]struct{})
	}
	b.waiters[id][ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.waiters[id], ch)
		if len(b.waiters[id]) == 0 {
			delete(b.waiters, id)
		}
	}
}

// Publish wakes every watcher of the session named by payload.
func (b *Broker) Publish(payload string) {
	id, err := uuid.Parse(payload)
	if err != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.waiters[id] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Listen forwards notifications from sub to the broker until ctx is done,
// subscribing again when the stream drops.
func (m *Manager) Listen(ctx context.Context, sub Subscriber) {
	for ctx.Err() == nil {
		payloads, err := sub.Subscribe(ctx, repository.UploadSessionChannel)
		if err != nil {
			logger.Log.Error().Err(err).Msg("Failed to listen for upload sessions")
		} else {
			for p := range payloads {
				m.broker.Publish(p)
			}
		}

		select {
		case <-ctx.Done():
		case <-time.After(resubscribeWait):
		}
	}
}

// Watch streams the status of a session owned by userID. The first event
// carries the current status. The channel closes after an uploaded or
// expired event, or when ctx is done.
func (m *Manager) Watch(ctx context.Context, userID, id uuid.UUID) (<-chan Event, error) {
	s, err := m.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	wake, unsubscribe := m.broker.subscribe(id)
	out := make(chan Event, 2)

	go func() {
		defer close(out)
		defer unsubscribe()

		if !m.emit(ctx, out, Event{Type: EventStatus, Status: s.EffectiveStatus(m.now()), ExpiresAt: s.ExpiresAt}) {
			return
		}
		if m.finished(ctx, out, s) {
			return
		}

		expiry := time.NewTimer(time.Until(s.ExpiresAt))
		defer expiry.Stop()
		ticker := time.NewTicker(recheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-expiry.C:
			case <-wake:
			case <-ticker.C:
			}

			latest, err := m.lookup(ctx, id)
			if err != nil {
				if ctx.Err() == nil {
					logger.Log.Warn().Err(err).Msg("Failed to reload watched upload session")
				}
				continue
			}
			if m.finished(ctx, out, latest) {
				return
			}
		}
	}()

	return out, nil
}

// finished sends the terminal event for s, if it has reached one.
func (m *Manager) finished(ctx context.Context, out chan<- Event, s *models.UploadSession) bool {
	switch s.EffectiveStatus(m.now()) {
	case models.UploadSessionUploaded:
		ev := Event{Type: EventUploaded, Status: models.UploadSessionUploaded, ExpiresAt: s.ExpiresAt}
		if s.FileURL != nil {
			ev.FileURL = *s.FileURL
		}
		m.emit(ctx, out, ev)
		return true
	case models.UploadSessionExpired:
		telemetry.RecordUploadSession(ctx, "expired")
		m.emit(ctx, out, Event{Type: EventExpired, Status: models.UploadSessionExpired, ExpiresAt: s.ExpiresAt})
		return true
	}
	return false
}

func (m *Manager) emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// RunSweeper periodically marks lapsed pending sessions expired, until ctx
// is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Log.Info().Dur("interval", interval).Msg("Upload session sweeper started")

	for {
		select {
		case <-ctx.Done():
			logger.Log.Info().Msg("Upload session sweeper stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep records expiry for pending sessions past their deadline. The rows
// stay, so consuming one later still fails as expired rather than missing.
func (m *Manager) Sweep(ctx context.Context) int {
	n, err := m.store.ExpirePending(ctx, m.now())
	if err != nil {
		logger.Log.Error().Err(err).Msg("Failed to expire upload sessions")
		return 0
	}
	if n > 0 {
		logger.Log.Info().Int("count", n).Msg("Marked upload sessions expired")
	}
	return n
}
