package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"payment-service/internal/config"
	"payment-service/internal/db"
	"payment-service/internal/logging"
	"payment-service/internal/message"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	defaultPollingIntervalMs   = 500
	defaultFetchSize           = 200
	defaultRetryPublishDelayMs = 10_000
	defaultMaxPublishAttempts  = 3
)

var (
	// producer batch metrics
	producerErrorFetchingCounter = metrics.GetOrCreateCounter(`webhook_producer_total{result="fetching_failed"}`)
	producerErrorKafkaCounter    = metrics.GetOrCreateCounter(`webhook_producer_total{result="publish_failed"}`)
	producerErrorUpdateCounter   = metrics.GetOrCreateCounter(`webhook_producer_total{result="db_update_failed"}`)
	producerSuccessCounter       = metrics.GetOrCreateCounter(`webhook_producer_total{result="success"}`)

	producerProcessDurationHistogram = metrics.GetOrCreateHistogram(`webhook_producer_duration_milliseconds`)

	// producer per message metrics
	producerMessagesPublishedCounter   = metrics.GetOrCreateCounter(`webhook_producer_messages_total{result="published"}`)
	producerMessagesMaxAttemptsCounter = metrics.GetOrCreateCounter(`webhook_producer_messages_total{result="max_attempts_reached"}`)
	producerMessagesRescheduledCounter = metrics.GetOrCreateCounter(`webhook_producer_messages_total{result="rescheduled"}`)
)

// Producer polls the webhook outbox and publishes due messages to Kafka,
// keyed by payment id so per-request ordering survives partitioning.
type Producer struct {
	repo               *db.WebhookRepository
	writer             *kafka.Writer
	pollingInterval    time.Duration
	fetchSize          int
	retryDelay         time.Duration
	maxPublishAttempts int
	logger             *slog.Logger
}

func NewProducer(repo *db.WebhookRepository, writer *kafka.Writer, cfg config.WebhookProducer, logger *slog.Logger) *Producer {
	pollingIntervalMs := cfg.PollingIntervalMs
	if pollingIntervalMs <= 0 {
		pollingIntervalMs = defaultPollingIntervalMs
	}
	fetchSize := cfg.FetchSize
	if fetchSize <= 0 {
		fetchSize = defaultFetchSize
	}
	retryDelayMs := cfg.RescheduleDelayMs
	if retryDelayMs <= 0 {
		retryDelayMs = defaultRetryPublishDelayMs
	}
	maxPublishAttempts := cfg.MaxPublishAttempts
	if maxPublishAttempts <= 0 {
		maxPublishAttempts = defaultMaxPublishAttempts
	}

	return &Producer{
		repo:               repo,
		writer:             writer,
		pollingInterval:    time.Duration(pollingIntervalMs) * time.Millisecond,
		fetchSize:          fetchSize,
		retryDelay:         time.Duration(retryDelayMs) * time.Millisecond,
		maxPublishAttempts: maxPublishAttempts,
		logger:             logger,
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.pollingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.process(ctx)
			case <-ctx.Done():
				p.logger.InfoContext(ctx, "Context done, stopping webhook producer")
				return
			}
		}
	}()
}

func (p *Producer) process(ctx context.Context) {
	startTime := time.Now()

	// runId correlates all logs of one polling round
	ctx = logging.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	tx, err := p.repo.BeginTx(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error starting transaction", "error", err)
		producerErrorFetchingCounter.Inc()
		return
	}

	defer tx.Rollback(ctx)

	messages, err := p.repo.GetUnpublished(ctx, tx, p.fetchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error fetching unpublished webhook messages", "error", err)
		producerErrorFetchingCounter.Inc()
		return
	}

	if len(messages) == 0 {
		producerSuccessCounter.Inc()
		return
	}

	p.logger.InfoContext(ctx, "Publishing webhook messages", "count", len(messages))

	err = p.writer.WriteMessages(ctx, p.toKafkaMessages(ctx, messages)...)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error writing messages to Kafka", "error", err)
		producerErrorKafkaCounter.Inc()
	}

	now := time.Now()
	for _, msg := range messages {
		messageCtx := logging.AppendCtx(ctx, slog.String("id", msg.ID.String()))

		msg.PublishAttempts++

		if err != nil {
			errMsg := err.Error()
			msg.Error = &errMsg

			if msg.PublishAttempts >= p.maxPublishAttempts {
				p.logger.WarnContext(messageCtx, "Max publish attempts reached for webhook message")
				msg.ScheduledAt = nil

				producerMessagesMaxAttemptsCounter.Inc()
			} else {
				scheduledAt := now.Add(time.Duration(msg.PublishAttempts) * p.retryDelay)
				msg.ScheduledAt = &scheduledAt

				producerMessagesRescheduledCounter.Inc()
			}
		} else {
			publishedAt := now
			msg.PublishedAt = &publishedAt
			msg.ScheduledAt = nil
			msg.Error = nil

			producerMessagesPublishedCounter.Inc()
		}

		if err := p.repo.Update(messageCtx, tx, msg); err != nil {
			p.logger.ErrorContext(messageCtx, "Error updating webhook message", "error", err)
			producerErrorUpdateCounter.Inc()
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		p.logger.ErrorContext(ctx, "Error committing transaction", "error", err)
		producerErrorUpdateCounter.Inc()
	} else {
		producerSuccessCounter.Inc()
	}

	producerProcessDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
}

func (p *Producer) toKafkaMessages(ctx context.Context, entities []*db.WebhookMessageEntity) []kafka.Message {
	var kafkaMessages []kafka.Message

	for _, entity := range entities {
		p.logger.DebugContext(ctx, "Preparing Kafka message for webhook", "id", entity.ID)

		webhookMessage := message.Webhook{
			ID:        entity.ID,
			PaymentID: entity.PaymentID,
			Url:       entity.Url,
			Event:     entity.Event,
			Payload:   entity.Payload,
			Attempts:  entity.DeliveryAttempts,
		}

		messageBytes, _ := json.Marshal(webhookMessage)

		kafkaMessages = append(kafkaMessages, kafka.Message{
			Key:   []byte(entity.PaymentID.String()), // payment id as key to keep per-request ordering
			Value: messageBytes,
		})
	}
	return kafkaMessages
}
