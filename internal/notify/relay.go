package notify

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/Hmmir/VTB-API-HACK-sub000/internal/domain"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/store"
)

var publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "notify_relay_events_total",
	Help: "Notification relay outcomes per dispatch attempt",
}, []string{"status"})

const (
	defaultInterval    = 2 * time.Second
	defaultBatchSize   = 50
	defaultMaxAttempts = 3
	defaultBackoff     = 200 * time.Millisecond
)

// Relay polls unpublished notification rows and pushes them to the broker.
// Delivery failures leave the row unpublished; the next cycle retries it.
// Relay failures never affect core correctness.
type Relay struct {
	store       store.Store
	pub         Publisher
	log         *zap.Logger
	interval    time.Duration
	batchSize   int
	maxAttempts int
	backoff     time.Duration
	clock       func() time.Time
}

func NewRelay(st store.Store, pub Publisher, log *zap.Logger) *Relay {
	return &Relay{
		store:       st,
		pub:         pub,
		log:         log,
		interval:    defaultInterval,
		batchSize:   defaultBatchSize,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		clock:       time.Now,
	}
}

// Run dispatches until the context is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.DispatchOnce(ctx); err != nil {
				r.log.Error("notification dispatch cycle failed", zap.Error(err))
			} else if n > 0 {
				r.log.Debug("notifications published", zap.Int("count", n))
			}
		}
	}
}

// DispatchOnce publishes up to one batch and reports how many events went
// out.
func (r *Relay) DispatchOnce(ctx context.Context) (int, error) {
	pending, err := r.store.Notifications().ListUnpublished(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, n := range pending {
		if err := r.publishWithRetry(ctx, n); err != nil {
			publishedTotal.WithLabelValues("failed").Inc()
			r.log.Warn("notification publish failed",
				zap.Int64("notification_id", n.ID),
				zap.Error(err))
			continue
		}
		if err := r.store.Notifications().MarkPublished(ctx, n.ID, r.clock()); err != nil {
			// The message went out but the row stays unpublished; the
			// next cycle re-sends and the consumer deduplicates by
			// message id.
			publishedTotal.WithLabelValues("mark_failed").Inc()
			r.log.Warn("notification mark failed",
				zap.Int64("notification_id", n.ID),
				zap.Error(err))
			continue
		}
		publishedTotal.WithLabelValues("published").Inc()
		published++
	}
	return published, nil
}

func (r *Relay) publishWithRetry(ctx context.Context, n domain.FamilyNotification) error {
	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err = r.pub.Publish(ctx, n); err == nil {
			return nil
		}
		if attempt < r.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff * time.Duration(attempt)):
			}
		}
	}
	return err
}
