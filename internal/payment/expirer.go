package payment

import (
	"context"
	"log/slog"
	"time"

	"payment-service/internal/config"
	"payment-service/internal/logging"
	"payment-service/internal/model"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
)

const (
	defaultSweepIntervalMs = 60_000
	sweepBatchSize         = 100
)

var (
	expirerSweptCounter = metrics.GetOrCreateCounter(`payment_expirer_total{result="expired"}`)
	expirerErrorCounter = metrics.GetOrCreateCounter(`payment_expirer_total{result="error"}`)
)

// Expirer periodically expires requests still sitting in SENT or VIEWED
// past their validity window. One expired request per transaction, so a
// single bad row never blocks the rest of the batch.
type Expirer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

func NewExpirer(service *Service, cfg config.Expiry, logger *slog.Logger) *Expirer {
	intervalMs := cfg.SweepIntervalMs
	if intervalMs <= 0 {
		intervalMs = defaultSweepIntervalMs
	}
	return &Expirer{
		service:  service,
		interval: time.Duration(intervalMs) * time.Millisecond,
		logger:   logger,
	}
}

func (e *Expirer) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.sweep(ctx)
			case <-ctx.Done():
				e.logger.InfoContext(ctx, "Context done, stopping expirer")
				return
			}
		}
	}()
}

func (e *Expirer) sweep(ctx context.Context) {
	ctx = logging.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	candidates, err := e.dueRequests(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "Error fetching expirable requests", "error", err)
		expirerErrorCounter.Inc()
		return
	}

	for _, id := range candidates {
		if _, err := e.service.Expire(ctx, id); err != nil {
			// Lost the race against another transition; nothing to do.
			e.logger.WarnContext(ctx, "Skipping expiry", "id", id, "error", err)
			continue
		}
		expirerSweptCounter.Inc()
	}
}

func (e *Expirer) dueRequests(ctx context.Context) ([]uuid.UUID, error) {
	tx, err := e.service.payments.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	entities, err := e.service.payments.SelectExpirable(ctx, tx, time.Now(), sweepBatchSize)
	if err != nil {
		return nil, err
	}

	var ids []uuid.UUID
	for _, entity := range entities {
		if entity.Status == model.StatusSent || entity.Status == model.StatusViewed {
			ids = append(ids, entity.ID)
		}
	}
	return ids, tx.Commit(ctx)
}
