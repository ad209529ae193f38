package payment_test

import (
	"context"
	"log"
	"log/slog"
	"testing"
	"time"

	"payment-service/internal/db"
	"payment-service/internal/ledger"
	"payment-service/internal/model"
	"payment-service/internal/payment"
	"payment-service/internal/processor"
	"payment-service/internal/testhelpers"
	"payment-service/internal/webhook"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ServiceTestSuite struct {
	suite.Suite
	pgContainer *testhelpers.PostgresContainer
	pool        *pgxpool.Pool
	payments    *db.PaymentRepository
	balances    *db.BalanceRepository
	banks       *db.BankAccountRepository
	sut         *payment.Service
	ctx         context.Context
	callbackURL string
}

func (s *ServiceTestSuite) SetupSuite() {
	time.Local = time.UTC

	s.ctx = context.Background()
	s.callbackURL = "http://merchant.example.com/callback"

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
	s.payments = db.NewPaymentRepository(pool)
	s.balances = db.NewBalanceRepository(pool)
	s.banks = db.NewBankAccountRepository(pool)

	logger := slog.Default()
	dispatcher := webhook.NewDispatcher(db.NewWebhookRepository(pool), logger)
	selector := processor.NewSelectorWithRand(func(n int) int { return 0 })
	psp := processor.NewPSPLinker("http://localhost:3000")

	s.sut = payment.NewService(s.payments, s.banks, ledger.New(s.balances), dispatcher, selector, psp, 72*time.Hour, logger)
}

func (s *ServiceTestSuite) TearDownSuite() {
	s.pool.Close()

	if err := s.pgContainer.Terminate(s.ctx); err != nil {
		log.Fatalf("error terminating postgres container: %s", err)
	}
}

func (s *ServiceTestSuite) SetupTest() {
	tables := []string{"webhook_delivery_log", "webhook_message", "balance_transition", "balance", "card_submission", "payment_request", "bank_account"}
	for _, table := range tables {
		if _, err := s.pool.Exec(s.ctx, "DELETE FROM "+table); err != nil {
			log.Fatalf("error truncating %s table: %s", table, err)
		}
	}
}

func (s *ServiceTestSuite) seedBankAccount(commissionPercent float64, geos []string) *db.BankAccountEntity {
	account := &db.BankAccountEntity{
		ID:                uuid.New(),
		Label:             "EU settlement account",
		Currency:          "USD",
		CommissionPercent: commissionPercent,
		SupportedGeos:     geos,
		MinAmount:         1_000,
		MaxAmount:         10_000_000,
		Active:            true,
		CreatedAt:         time.Now(),
	}
	require.NoError(s.T(), s.banks.Create(s.ctx, account))
	return account
}

func (s *ServiceTestSuite) bankWireInput(amount int64) payment.CreateInput {
	return payment.CreateInput{
		MerchantID:     uuid.New(),
		Amount:         amount,
		Currency:       "USD",
		Methods:        []model.Method{model.MethodBankWire},
		InvoiceNumber:  "INV-001",
		Description:    "Consulting services",
		BillingCountry: "DE",
		CallbackURL:    &s.callbackURL,
	}
}

func (s *ServiceTestSuite) webhookEvents(paymentID uuid.UUID) []string {
	rows, err := s.pool.Query(s.ctx, "SELECT event FROM webhook_message WHERE payment_id = $1 ORDER BY created_at", paymentID)
	require.NoError(s.T(), err)
	defer rows.Close()

	var events []string
	for rows.Next() {
		var event string
		require.NoError(s.T(), rows.Scan(&event))
		events = append(events, event)
	}
	return events
}

func (s *ServiceTestSuite) TestCreateBankWireAppliesCommissionAndCreditsPending() {
	t := s.T()

	s.seedBankAccount(5.0, []string{"DE", "FR"})

	entity, err := s.sut.Create(s.ctx, s.bankWireInput(100_000))
	require.NoError(t, err)

	assert.Equal(t, model.StatusSent, entity.Status)
	assert.Equal(t, 5.0, entity.CommissionPercent)
	assert.Equal(t, int64(5_000), entity.CommissionAmount)
	assert.Equal(t, int64(95_000), entity.NetAmount)
	assert.NotNil(t, entity.BankAccountID)
	assert.Nil(t, entity.PaymentLink)
	assert.NotNil(t, entity.ExpiresAt)

	balance, err := s.balances.SelectByMerchantID(s.ctx, entity.MerchantID)
	require.NoError(t, err)
	assert.Equal(t, int64(95_000), balance.Pending)
	assert.Equal(t, int64(0), balance.Available)

	assert.Equal(t, []string{"payment.created"}, s.webhookEvents(entity.ID))
}

func (s *ServiceTestSuite) TestCreateCardIssuesPaymentLink() {
	t := s.T()

	input := s.bankWireInput(20_000)
	input.Methods = []model.Method{model.MethodCard}

	entity, err := s.sut.Create(s.ctx, input)
	require.NoError(t, err)

	assert.Equal(t, model.StatusPendingSubmission, entity.Status)
	assert.NotNil(t, entity.PSPToken)
	require.NotNil(t, entity.PaymentLink)
	assert.Contains(t, *entity.PaymentLink, *entity.PSPToken)
	assert.Nil(t, entity.BankAccountID)

	assert.Equal(t, 30.0, entity.CommissionPercent)
	assert.Equal(t, int64(6_000), entity.CommissionAmount)
	assert.Equal(t, int64(14_000), entity.NetAmount)
}

func (s *ServiceTestSuite) TestCreateCardAboveCapLeavesNoTrace() {
	t := s.T()

	input := s.bankWireInput(30_000)
	input.Methods = []model.Method{model.MethodCard}

	_, err := s.sut.Create(s.ctx, input)
	assert.True(t, errors.Is(err, payment.ErrCardAmountExceedsCap))

	var requests, transitions int
	require.NoError(t, s.pool.QueryRow(s.ctx, "SELECT count(*) FROM payment_request").Scan(&requests))
	require.NoError(t, s.pool.QueryRow(s.ctx, "SELECT count(*) FROM balance_transition").Scan(&transitions))
	assert.Equal(t, 0, requests)
	assert.Equal(t, 0, transitions)
}

func (s *ServiceTestSuite) TestCreateValidation() {
	t := s.T()

	input := s.bankWireInput(0)
	_, err := s.sut.Create(s.ctx, input)
	assert.True(t, errors.Is(err, payment.ErrInvalidAmount))

	input = s.bankWireInput(100_000)
	input.Methods = nil
	_, err = s.sut.Create(s.ctx, input)
	assert.True(t, errors.Is(err, payment.ErrNoMethods))

	input = s.bankWireInput(100_000)
	input.BillingCountry = ""
	_, err = s.sut.Create(s.ctx, input)
	assert.True(t, errors.Is(err, payment.ErrMissingBillingCountry))
}

func (s *ServiceTestSuite) TestCreateWithoutMatchingBankAccount() {
	t := s.T()

	s.seedBankAccount(5.0, []string{"FR"})

	_, err := s.sut.Create(s.ctx, s.bankWireInput(100_000))
	assert.True(t, errors.Is(err, processor.ErrNoBankForGeo))
}

func (s *ServiceTestSuite) TestMarkViewedIsIdempotent() {
	t := s.T()

	s.seedBankAccount(5.0, []string{"DE"})
	created, err := s.sut.Create(s.ctx, s.bankWireInput(100_000))
	require.NoError(t, err)

	viewed, err := s.sut.MarkViewed(s.ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusViewed, viewed.Status)
	assert.NotNil(t, viewed.ViewedAt)
	firstViewedAt := *viewed.ViewedAt

	again, err := s.sut.MarkViewed(s.ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusViewed, again.Status)
	assert.Equal(t, firstViewedAt.Unix(), again.ViewedAt.Unix())

	assert.Equal(t, []string{"payment.created", "payment.viewed"}, s.webhookEvents(created.ID))
}

func (s *ServiceTestSuite) TestMarkReceivedPaidSettlesFunds() {
	t := s.T()

	s.seedBankAccount(5.0, []string{"DE"})
	created, err := s.sut.Create(s.ctx, s.bankWireInput(100_000))
	require.NoError(t, err)

	paid, err := s.sut.MarkReceived(s.ctx, created.ID, model.StatusPaid)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaid, paid.Status)
	assert.NotNil(t, paid.PaidAt)

	balance, err := s.balances.SelectByMerchantID(s.ctx, created.MerchantID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Pending)
	assert.Equal(t, int64(95_000), balance.Available)
	assert.Empty(t, balance.PendingBreakdown)

	assert.Equal(t, []string{"payment.created", "payment.paid"}, s.webhookEvents(created.ID))
}

func (s *ServiceTestSuite) TestMarkReceivedRejectsArbitraryStatus() {
	t := s.T()

	s.seedBankAccount(5.0, []string{"DE"})
	created, err := s.sut.Create(s.ctx, s.bankWireInput(100_000))
	require.NoError(t, err)

	_, err = s.sut.MarkReceived(s.ctx, created.ID, model.StatusCancelled)
	assert.True(t, errors.Is(err, payment.ErrInvalidTransition))
}

func (s *ServiceTestSuite) TestCancelReleasesPendingFunds() {
	t := s.T()

	s.seedBankAccount(5.0, []string{"DE"})
	created, err := s.sut.Create(s.ctx, s.bankWireInput(100_000))
	require.NoError(t, err)

	cancelled, err := s.sut.Cancel(s.ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)

	balance, err := s.balances.SelectByMerchantID(s.ctx, created.MerchantID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Pending)
	assert.Equal(t, int64(0), balance.Available)
}

func (s *ServiceTestSuite) TestTerminalStatusRefusesFurtherTransitions() {
	t := s.T()

	s.seedBankAccount(5.0, []string{"DE"})
	created, err := s.sut.Create(s.ctx, s.bankWireInput(100_000))
	require.NoError(t, err)

	_, err = s.sut.Cancel(s.ctx, created.ID)
	require.NoError(t, err)

	_, err = s.sut.MarkReceived(s.ctx, created.ID, model.StatusPaid)
	assert.True(t, errors.Is(err, payment.ErrAlreadyFinalized))
}

func (s *ServiceTestSuite) TestExpire() {
	t := s.T()

	s.seedBankAccount(5.0, []string{"DE"})
	created, err := s.sut.Create(s.ctx, s.bankWireInput(100_000))
	require.NoError(t, err)

	expired, err := s.sut.Expire(s.ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, expired.Status)

	balance, err := s.balances.SelectByMerchantID(s.ctx, created.MerchantID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Pending)
}

func (s *ServiceTestSuite) TestGetNotFound() {
	t := s.T()

	_, err := s.sut.Get(s.ctx, uuid.New())
	assert.True(t, errors.Is(err, payment.ErrNotFound))
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}
