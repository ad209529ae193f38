package card

import (
	"context"
	"log/slog"
	"time"

	"payment-service/internal/crypto"
	"payment-service/internal/db"
	"payment-service/internal/model"
	"payment-service/internal/payment"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

var (
	// ErrAlreadySubmitted rejects a second card submission against the
	// same payment request.
	ErrAlreadySubmitted = errors.New("card data already submitted")

	// ErrMissingCardFields rejects submissions without cardholder name,
	// PAN, expiry or CVC.
	ErrMissingCardFields = errors.New("cardholder name, card number, expiry and cvc are required")

	// ErrVerificationCodeRequired rejects an SMS confirmation without a
	// code.
	ErrVerificationCodeRequired = errors.New("verification code is required")

	// ErrPushRejected is the business failure when the customer declines
	// the push confirmation.
	ErrPushRejected = errors.New("push verification rejected by customer")

	// ErrNotAwaitingVerification rejects verification data for a request
	// that never asked for it.
	ErrNotAwaitingVerification = errors.New("payment request is not awaiting verification")
)

// Flow drives the 3-D verification sub-state machine on card
// submissions. Parent-request transitions go through the payment service
// inside the same transaction, so the mirror between submission
// sub-state and request status can never drift.
type Flow struct {
	payments    *db.PaymentRepository
	submissions *db.CardSubmissionRepository
	encryption  *crypto.Service
	machine     *payment.Service
	logger      *slog.Logger
}

func NewFlow(
	payments *db.PaymentRepository,
	submissions *db.CardSubmissionRepository,
	encryption *crypto.Service,
	machine *payment.Service,
	logger *slog.Logger,
) *Flow {
	return &Flow{
		payments:    payments,
		submissions: submissions,
		encryption:  encryption,
		machine:     machine,
		logger:      logger,
	}
}

type SubmitInput struct {
	CardholderName string
	CardNumber     string
	ExpiryDate     string
	CVC            string
}

// Submit stores the customer's card data against a PSP token and moves
// the request from PENDING_SUBMISSION to SUBMITTED. Card fields are
// encrypted independently; only the masked PAN stays readable.
func (f *Flow) Submit(ctx context.Context, token string, input SubmitInput) (*db.CardSubmissionEntity, error) {
	if input.CardholderName == "" || input.CardNumber == "" || input.ExpiryDate == "" || input.CVC == "" {
		return nil, ErrMissingCardFields
	}

	encrypted, err := f.encryption.EncryptCardData(crypto.CardData{
		Number:     input.CardNumber,
		ExpiryDate: input.ExpiryDate,
		CVC:        input.CVC,
	})
	if err != nil {
		return nil, err
	}

	tx, err := f.payments.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	request, err := f.payments.SelectForUpdateByToken(ctx, tx, token)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payment.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if request.Status != model.StatusPendingSubmission {
		return nil, errors.Wrapf(ErrAlreadySubmitted, "status %s", request.Status)
	}

	now := time.Now()
	submission := &db.CardSubmissionEntity{
		ID:               uuid.New(),
		PaymentRequestID: request.ID,
		CardholderName:   input.CardholderName,
		CardNumberEnc:    encrypted.Number,
		ExpiryDateEnc:    encrypted.ExpiryDate,
		CVCEnc:           encrypted.CVC,
		MaskedNumber:     crypto.MaskCardNumber(input.CardNumber),
		Status:           model.CardSubmitted,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := f.submissions.Create(ctx, tx, submission); err != nil {
		if errors.Is(err, db.ErrDuplicateCardSubmission) {
			return nil, ErrAlreadySubmitted
		}
		return nil, err
	}

	if err := f.machine.ApplyTransition(ctx, tx, request, model.StatusSubmitted); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "committing card submission")
	}

	f.logger.InfoContext(ctx, "Card data submitted",
		"paymentRequestId", request.ID, "card", submission.MaskedNumber)
	return submission, nil
}

// RequestVerification is the admin review branch that sends the
// submission into a 3-D verification round-trip (SMS code or push
// approval).
func (f *Flow) RequestVerification(ctx context.Context, requestID uuid.UUID, vtype model.VerificationType) (*db.CardSubmissionEntity, error) {
	var target model.Status
	var subTarget model.CardSubmissionStatus
	switch vtype {
	case model.Verification3DSMS:
		target = model.StatusAwaiting3DSMS
		subTarget = model.CardAwaiting3DSMS
	case model.Verification3DPush:
		target = model.StatusAwaiting3DPush
		subTarget = model.CardAwaiting3DPush
	default:
		return nil, errors.Errorf("unknown verification type %q", vtype)
	}

	tx, err := f.payments.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	request, err := f.payments.SelectForUpdateByID(ctx, tx, requestID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payment.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	submission, err := f.submissions.SelectForUpdateByPaymentID(ctx, tx, request.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payment.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	vtypeStr := string(vtype)
	submission.VerificationType = &vtypeStr
	submission.Status = subTarget
	submission.UpdatedAt = time.Now()
	if err := f.submissions.Update(ctx, tx, submission); err != nil {
		return nil, err
	}

	if err := f.machine.ApplyTransition(ctx, tx, request, target); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "committing verification request")
	}

	f.logger.InfoContext(ctx, "Verification requested",
		"paymentRequestId", request.ID, "type", vtype)
	return submission, nil
}

type ConfirmInput struct {
	Code     string
	Approved *bool
}

// Confirm records the customer's verification response. SMS requires a
// non-empty code, stored verbatim for manual review. Push requires
// approved=true; a decline is a business error, not a silent no-op. On
// success both the submission and the parent request move to
// VERIFICATION_COMPLETED.
func (f *Flow) Confirm(ctx context.Context, token string, input ConfirmInput) (*db.CardSubmissionEntity, error) {
	tx, err := f.payments.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	request, err := f.payments.SelectForUpdateByToken(ctx, tx, token)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payment.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	submission, err := f.submissions.SelectForUpdateByPaymentID(ctx, tx, request.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payment.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	switch request.Status {
	case model.StatusAwaiting3DSMS:
		if input.Code == "" {
			return nil, ErrVerificationCodeRequired
		}
		code := input.Code
		submission.VerificationCode = &code
	case model.StatusAwaiting3DPush:
		if input.Approved == nil || !*input.Approved {
			return nil, ErrPushRejected
		}
		submission.PushApproved = input.Approved
	default:
		return nil, errors.Wrapf(ErrNotAwaitingVerification, "status %s", request.Status)
	}

	now := time.Now()
	submission.Status = model.CardVerificationCompleted
	submission.VerifiedAt = &now
	submission.UpdatedAt = now
	if err := f.submissions.Update(ctx, tx, submission); err != nil {
		return nil, err
	}

	if err := f.machine.ApplyTransition(ctx, tx, request, model.StatusVerificationCompleted); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "committing verification confirmation")
	}

	f.logger.InfoContext(ctx, "Verification completed", "paymentRequestId", request.ID)
	return submission, nil
}

// Submission returns the card submission for a request, with the PAN
// still encrypted.
func (f *Flow) Submission(ctx context.Context, requestID uuid.UUID) (*db.CardSubmissionEntity, error) {
	submission, err := f.submissions.SelectByPaymentID(ctx, requestID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payment.ErrNotFound
	}
	return submission, err
}
