package payment

import (
	"context"
	"log/slog"
	"time"

	"payment-service/internal/commission"
	"payment-service/internal/db"
	"payment-service/internal/ledger"
	"payment-service/internal/model"
	"payment-service/internal/processor"
	"payment-service/internal/webhook"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// CardAmountCap is the hard ceiling for card collections, in minor units
// of the base currency (250.00).
const CardAmountCap = 25_000

const defaultTTL = 72 * time.Hour

var (
	createdCounter = metrics.GetOrCreateCounter(`payment_requests_total{action="created"}`)
	cappedCounter  = metrics.GetOrCreateCounter(`payment_requests_total{action="card_cap_rejected"}`)
)

// Service is the payment-request state machine. Every mutation runs in
// one transaction: the request row is locked, the status written, the
// ledger delta applied, and the webhook enqueued, so the three effects
// commit or vanish together and concurrent calls serialize per request.
type Service struct {
	payments   *db.PaymentRepository
	banks      *db.BankAccountRepository
	ledger     *ledger.Ledger
	dispatcher *webhook.Dispatcher
	selector   *processor.Selector
	psp        *processor.PSPLinker
	ttl        time.Duration
	logger     *slog.Logger
}

func NewService(
	payments *db.PaymentRepository,
	banks *db.BankAccountRepository,
	ledger *ledger.Ledger,
	dispatcher *webhook.Dispatcher,
	selector *processor.Selector,
	psp *processor.PSPLinker,
	ttl time.Duration,
	logger *slog.Logger,
) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{
		payments:   payments,
		banks:      banks,
		ledger:     ledger,
		dispatcher: dispatcher,
		selector:   selector,
		psp:        psp,
		ttl:        ttl,
		logger:     logger,
	}
}

type CreateInput struct {
	MerchantID        uuid.UUID
	Amount            int64
	Currency          string
	Methods           []model.Method
	InvoiceNumber     string
	Description       string
	CustomerReference *string
	BillingCountry    string
	CallbackURL       *string
}

// Create validates the input, assigns a processor, computes the
// commission split, persists the request, credits the merchant's pending
// balance with the net amount, and enqueues the creation webhook.
func (s *Service) Create(ctx context.Context, input CreateInput) (*db.PaymentRequestEntity, error) {
	if input.Amount <= 0 {
		return nil, errors.Wrapf(ErrInvalidAmount, "amount %d", input.Amount)
	}
	if len(input.Methods) == 0 {
		return nil, ErrNoMethods
	}

	hasCard := model.HasCard(input.Methods)
	if hasCard && input.Amount > CardAmountCap {
		cappedCounter.Inc()
		return nil, errors.Wrapf(ErrCardAmountExceedsCap, "amount %d, cap %d", input.Amount, CardAmountCap)
	}

	now := time.Now()
	expiresAt := now.Add(s.ttl)
	methods := make([]string, 0, len(input.Methods))
	for _, m := range input.Methods {
		methods = append(methods, string(m))
	}

	entity := &db.PaymentRequestEntity{
		ID:                uuid.New(),
		MerchantID:        input.MerchantID,
		Amount:            input.Amount,
		Currency:          input.Currency,
		Methods:           methods,
		InvoiceNumber:     input.InvoiceNumber,
		Description:       input.Description,
		CustomerReference: input.CustomerReference,
		BillingCountry:    input.BillingCountry,
		CallbackURL:       input.CallbackURL,
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpiresAt:         &expiresAt,
	}

	if hasCard {
		// Card requests get a PSP payment link instead of bank details
		// and wait for the customer to submit card data.
		token, link := s.psp.Issue()
		entity.PSPToken = &token
		entity.PaymentLink = &link
		entity.Status = model.StatusPendingSubmission

		result := commission.Calculate(input.Amount, model.MethodCard, 0)
		entity.CommissionPercent = result.Percent
		entity.CommissionAmount = result.CommissionAmount
		entity.NetAmount = result.NetAmount
	} else {
		if input.BillingCountry == "" {
			return nil, ErrMissingBillingCountry
		}

		accounts, err := s.banks.SelectActive(ctx)
		if err != nil {
			return nil, err
		}
		account, err := s.selector.Select(accounts, input.BillingCountry, input.Amount)
		if err != nil {
			return nil, err
		}
		entity.BankAccountID = &account.ID
		entity.Status = model.StatusSent

		result := commission.Calculate(input.Amount, model.MethodBankWire, account.CommissionPercent)
		entity.CommissionPercent = result.Percent
		entity.CommissionAmount = result.CommissionAmount
		entity.NetAmount = result.NetAmount
	}

	tx, err := s.payments.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.payments.Create(ctx, tx, entity); err != nil {
		return nil, err
	}
	if err := s.ledger.AddToPending(ctx, tx, entity); err != nil {
		return nil, err
	}
	if err := s.dispatcher.Enqueue(ctx, tx, entity, model.EventCreated); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "committing payment request creation")
	}

	createdCounter.Inc()
	s.logger.InfoContext(ctx, "Payment request created",
		"id", entity.ID, "merchantId", entity.MerchantID, "status", entity.Status,
		"amount", entity.Amount, "netAmount", entity.NetAmount)
	return entity, nil
}

// Get returns a payment request without side effects.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*db.PaymentRequestEntity, error) {
	entity, err := s.payments.SelectByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return entity, err
}

// MarkViewed flips SENT to VIEWED on the first read of the request.
// Idempotent: the viewed_at guard means only the first call transitions,
// later reads just return the entity.
func (s *Service) MarkViewed(ctx context.Context, id uuid.UUID) (*db.PaymentRequestEntity, error) {
	tx, err := s.payments.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	entity, err := s.payments.SelectForUpdateByID(ctx, tx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if entity.Status != model.StatusSent || entity.ViewedAt != nil {
		return entity, nil
	}

	now := time.Now()
	entity.ViewedAt = &now
	if err := s.ApplyTransition(ctx, tx, entity, model.StatusViewed); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "committing viewed transition")
	}
	return entity, nil
}

// MarkReceived is the admin action recording that funds arrived for a
// bank-wire request: PAID for a settled wire, PROCESSED when the money
// still needs conversion handling downstream.
func (s *Service) MarkReceived(ctx context.Context, id uuid.UUID, to model.Status) (*db.PaymentRequestEntity, error) {
	if to != model.StatusPaid && to != model.StatusProcessed {
		return nil, errors.Wrapf(ErrInvalidTransition, "mark received as %s", to)
	}
	return s.Transition(ctx, id, to)
}

// Cancel is the merchant withdrawing an unanswered request.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*db.PaymentRequestEntity, error) {
	return s.Transition(ctx, id, model.StatusCancelled)
}

// Expire marks an overdue request. Callable externally and by the
// sweeper.
func (s *Service) Expire(ctx context.Context, id uuid.UUID) (*db.PaymentRequestEntity, error) {
	return s.Transition(ctx, id, model.StatusExpired)
}

// Review records the admin decision on a submitted card payment, or the
// final decision after a verification round-trip. The 3-D verification
// branches go through the card flow instead, which also mutates the
// submission.
func (s *Service) Review(ctx context.Context, id uuid.UUID, decision model.Status) (*db.PaymentRequestEntity, error) {
	switch decision {
	case model.StatusProcessed, model.StatusProcessedAwaitingExchange,
		model.StatusRejected, model.StatusInsufficientFunds:
		return s.Transition(ctx, id, decision)
	default:
		return nil, errors.Wrapf(ErrInvalidTransition, "review decision %s", decision)
	}
}

// Transition performs one status move in its own transaction. Rejected
// moves leave no trace; accepted ones write status, ledger delta and
// webhook atomically.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to model.Status) (*db.PaymentRequestEntity, error) {
	tx, err := s.payments.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	entity, err := s.payments.SelectForUpdateByID(ctx, tx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.ApplyTransition(ctx, tx, entity, to); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrapf(err, "committing transition to %s", to)
	}
	return entity, nil
}

// ApplyTransition mutates a locked entity inside the caller's
// transaction. Shared by the public operations and the card flow.
func (s *Service) ApplyTransition(ctx context.Context, tx pgx.Tx, entity *db.PaymentRequestEntity, to model.Status) error {
	from := entity.Status
	if from.Terminal() {
		return errors.Wrapf(ErrAlreadyFinalized, "status %s", from)
	}
	if !model.CanTransition(from, to) {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
	}

	now := time.Now()
	entity.Status = to
	entity.UpdatedAt = now
	if to == model.StatusPaid {
		entity.PaidAt = &now
	}

	if err := s.payments.Update(ctx, tx, entity); err != nil {
		return err
	}
	if err := s.ledger.ApplyTransition(ctx, tx, entity, from, to); err != nil {
		return err
	}
	if err := s.dispatcher.Enqueue(ctx, tx, entity, to.Event()); err != nil {
		return err
	}

	metrics.GetOrCreateCounter(`payment_transitions_total{to="` + string(to) + `"}`).Inc()
	s.logger.InfoContext(ctx, "Payment request transitioned",
		"id", entity.ID, "from", from, "to", to)
	return nil
}
