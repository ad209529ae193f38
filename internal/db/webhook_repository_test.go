package db_test

import (
	"context"
	"log"
	"testing"
	"time"

	"payment-service/internal/db"
	"payment-service/internal/testhelpers"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type WebhookRepositoryTestSuite struct {
	suite.Suite
	pgContainer *testhelpers.PostgresContainer
	pool        *pgxpool.Pool
	sut         *db.WebhookRepository
	ctx         context.Context
}

func (s *WebhookRepositoryTestSuite) SetupSuite() {
	time.Local = time.UTC

	s.ctx = context.Background()
	pgContainer, err := testhelpers.CreatePostgresContainer(s.ctx)
	if err != nil {
		log.Fatal(err)
	}
	s.pgContainer = pgContainer

	if err := db.RunMigrations(pgContainer.ConnectionString, "../../migrations"); err != nil {
		log.Fatal(err)
	}

	pool, err := db.GetPool(pgContainer.ConnectionString)
	if err != nil {
		log.Fatal(err)
	}

	s.pool = pool
	s.sut = db.NewWebhookRepository(pool)
}

func (s *WebhookRepositoryTestSuite) TearDownSuite() {
	s.pool.Close()

	if err := s.pgContainer.Terminate(s.ctx); err != nil {
		log.Fatalf("error terminating postgres container: %s", err)
	}
}

func (s *WebhookRepositoryTestSuite) SetupTest() {
	for _, table := range []string{"webhook_delivery_log", "webhook_message"} {
		if _, err := s.pool.Exec(s.ctx, "DELETE FROM "+table); err != nil {
			log.Fatalf("error truncating %s table: %s", table, err)
		}
	}
}

func (s *WebhookRepositoryTestSuite) newMessage(scheduledAt *time.Time) *db.WebhookMessageEntity {
	now := time.Now()
	return &db.WebhookMessageEntity{
		ID:          uuid.New(),
		PaymentID:   uuid.New(),
		Url:         "http://merchant.example.com/callback",
		Event:       "payment.paid",
		Payload:     `{"event":"payment.paid"}`,
		CreatedAt:   now,
		UpdatedAt:   now,
		ScheduledAt: scheduledAt,
	}
}

func (s *WebhookRepositoryTestSuite) create(entity *db.WebhookMessageEntity) {
	tx, err := s.sut.BeginTx(s.ctx)
	assert.NoError(s.T(), err)
	defer tx.Rollback(s.ctx)

	assert.NoError(s.T(), s.sut.Create(s.ctx, tx, entity))
	assert.NoError(s.T(), tx.Commit(s.ctx))
}

func (s *WebhookRepositoryTestSuite) TestGetUnpublishedReturnsDueMessages() {
	t := s.T()

	past := time.Now().Add(-time.Minute)
	due := s.newMessage(&past)

	future := time.Now().Add(time.Hour)
	notDue := s.newMessage(&future)

	delivered := s.newMessage(&past)
	deliveredAt := time.Now()
	delivered.DeliveredAt = &deliveredAt

	s.create(due)
	s.create(notDue)
	s.create(delivered)

	tx, err := s.sut.BeginTx(s.ctx)
	assert.NoError(t, err)
	defer tx.Rollback(s.ctx)

	messages, err := s.sut.GetUnpublished(s.ctx, tx, 10)
	assert.NoError(t, err)
	assert.Len(t, messages, 1)
	assert.Equal(t, due.ID, messages[0].ID)
}

func (s *WebhookRepositoryTestSuite) TestUpdate() {
	t := s.T()

	now := time.Now()
	entity := s.newMessage(&now)
	s.create(entity)

	tx, err := s.sut.BeginTx(s.ctx)
	assert.NoError(t, err)
	defer tx.Rollback(s.ctx)

	deliveredAt := time.Now()
	entity.DeliveredAt = &deliveredAt
	entity.ScheduledAt = nil
	entity.DeliveryAttempts = 1
	assert.NoError(t, s.sut.Update(s.ctx, tx, entity))

	updated, err := s.sut.SelectForUpdateByID(s.ctx, tx, entity.ID)
	assert.NoError(t, err)
	assert.NotNil(t, updated.DeliveredAt)
	assert.Nil(t, updated.ScheduledAt)
	assert.Equal(t, 1, updated.DeliveryAttempts)
}

func (s *WebhookRepositoryTestSuite) TestDeliveryLogIsAppendOnlyPerAttempt() {
	t := s.T()

	now := time.Now()
	entity := s.newMessage(&now)
	s.create(entity)

	statusCode := 500
	failure := &db.WebhookDeliveryLogEntity{
		ID:         uuid.New(),
		MessageID:  entity.ID,
		PaymentID:  entity.PaymentID,
		Url:        entity.Url,
		Event:      entity.Event,
		Payload:    entity.Payload,
		StatusCode: &statusCode,
		Success:    false,
		Attempt:    1,
		CreatedAt:  time.Now(),
	}
	assert.NoError(t, s.sut.InsertDeliveryLog(s.ctx, failure))

	okCode := 200
	success := &db.WebhookDeliveryLogEntity{
		ID:         uuid.New(),
		MessageID:  entity.ID,
		PaymentID:  entity.PaymentID,
		Url:        entity.Url,
		Event:      entity.Event,
		Payload:    entity.Payload,
		StatusCode: &okCode,
		Success:    true,
		Attempt:    2,
		CreatedAt:  time.Now(),
	}
	assert.NoError(t, s.sut.InsertDeliveryLog(s.ctx, success))

	logs, err := s.sut.SelectDeliveryLogsByPaymentID(s.ctx, entity.PaymentID)
	assert.NoError(t, err)
	assert.Len(t, logs, 2)
	assert.False(t, logs[0].Success)
	assert.Equal(t, 1, logs[0].Attempt)
	assert.True(t, logs[1].Success)
	assert.Equal(t, 2, logs[1].Attempt)
}

func TestWebhookRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(WebhookRepositoryTestSuite))
}
