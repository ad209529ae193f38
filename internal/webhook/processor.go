package webhook

import (
	"context"
	"log/slog"
	"time"

	"payment-service/internal/config"
	"payment-service/internal/db"
	"payment-service/internal/logging"
	"payment-service/internal/message"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
)

const (
	defaultParallelism         = 1000
	defaultMaxDeliveryAttempts = 3

	// retryUnit scales the quadratic backoff: the delay before attempt
	// n+1 is n^2 units, i.e. 1s then 4s with the default unit.
	retryUnit = time.Second
)

var (
	processorDeliveredCounter   = metrics.GetOrCreateCounter(`webhook_processor_total{result="delivered"}`)
	processorRescheduledCounter = metrics.GetOrCreateCounter(`webhook_processor_total{result="rescheduled"}`)
	processorDroppedCounter     = metrics.GetOrCreateCounter(`webhook_processor_total{result="dropped"}`)
	processorErrorCounter       = metrics.GetOrCreateCounter(`webhook_processor_total{result="db_error"}`)

	processorDeliveryDurationHistogram = metrics.GetOrCreateHistogram(`webhook_processor_delivery_duration_milliseconds`)
)

// Processor delivers webhook messages consumed from Kafka. Each attempt
// is recorded in the append-only delivery log; failures are rescheduled
// through the outbox with quadratic backoff until the attempt budget is
// spent, then logged and dropped.
type Processor struct {
	repo        *db.WebhookRepository
	sender      *Sender
	sem         chan struct{}
	maxAttempts int
	logger      *slog.Logger
}

func NewProcessor(repo *db.WebhookRepository, sender *Sender, cfg config.WebhookProcessor, logger *slog.Logger) *Processor {
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	maxAttempts := cfg.MaxDeliveryAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxDeliveryAttempts
	}

	return &Processor{
		repo:        repo,
		sender:      sender,
		sem:         make(chan struct{}, parallelism),
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Process hands the message to a delivery goroutine, capped by the
// parallelism semaphore. The Kafka reader is never blocked on a slow
// merchant endpoint.
func (p *Processor) Process(ctx context.Context, msg message.Webhook) error {
	p.sem <- struct{}{}
	go func() {
		defer func() { <-p.sem }()

		if err := p.deliver(ctx, msg); err != nil {
			p.logger.ErrorContext(ctx, "Error delivering webhook", "id", msg.ID, "error", err)
			processorErrorCounter.Inc()
		}
	}()

	return nil
}

func (p *Processor) deliver(ctx context.Context, msg message.Webhook) error {
	startTime := time.Now()
	ctx = logging.AppendCtx(ctx, slog.String("id", msg.ID.String()))

	tx, err := p.repo.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	entity, err := p.repo.SelectForUpdateByID(ctx, tx, msg.ID)
	if err != nil {
		return err
	}

	if entity.DeliveredAt != nil {
		p.logger.InfoContext(ctx, "Webhook already delivered, skipping")
		return tx.Commit(ctx)
	}

	result, sendErr := p.sender.Send(ctx, entity.Url, entity.Event, entity.Payload)
	attempt := entity.DeliveryAttempts + 1
	entity.DeliveryAttempts = attempt

	p.appendDeliveryLog(ctx, entity, result, attempt, sendErr)

	now := time.Now()
	if sendErr != nil {
		errMsg := sendErr.Error()
		entity.Error = &errMsg

		if attempt >= p.maxAttempts {
			p.logger.WarnContext(ctx, "Max delivery attempts reached, dropping webhook", "attempts", attempt)
			entity.ScheduledAt = nil
			processorDroppedCounter.Inc()
		} else {
			scheduledAt := now.Add(retryDelay(attempt))
			entity.ScheduledAt = &scheduledAt
			p.logger.InfoContext(ctx, "Webhook delivery failed, rescheduling",
				"attempt", attempt, "nextAt", scheduledAt, "error", sendErr)
			processorRescheduledCounter.Inc()
		}
	} else {
		entity.DeliveredAt = &now
		entity.ScheduledAt = nil
		entity.Error = nil
		p.logger.InfoContext(ctx, "Webhook delivered", "attempt", attempt, "status", result.StatusCode)
		processorDeliveredCounter.Inc()
	}

	if err := p.repo.Update(ctx, tx, entity); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	processorDeliveryDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	return nil
}

func (p *Processor) appendDeliveryLog(ctx context.Context, entity *db.WebhookMessageEntity, result *SendResult, attempt int, sendErr error) {
	logEntry := &db.WebhookDeliveryLogEntity{
		ID:        uuid.New(),
		MessageID: entity.ID,
		PaymentID: entity.PaymentID,
		Url:       entity.Url,
		Event:     entity.Event,
		Payload:   entity.Payload,
		Success:   sendErr == nil,
		Attempt:   attempt,
		CreatedAt: time.Now(),
	}
	if result != nil {
		statusCode := result.StatusCode
		response := result.Body
		logEntry.StatusCode = &statusCode
		logEntry.Response = &response
	}
	if sendErr != nil {
		errMsg := sendErr.Error()
		logEntry.Error = &errMsg
	}

	if err := p.repo.InsertDeliveryLog(ctx, logEntry); err != nil {
		p.logger.ErrorContext(ctx, "Error appending webhook delivery log", "error", err)
	}
}

// retryDelay is the wait before the attempt following the given one:
// 1s after the first failure, 4s after the second.
func retryDelay(attempts int) time.Duration {
	return time.Duration(attempts*attempts) * retryUnit
}
