package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"payment-service/internal/card"
	"payment-service/internal/db"
	"payment-service/internal/ledger"
	"payment-service/internal/model"
	"payment-service/internal/payment"
	"payment-service/internal/processor"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// APIHandlers exposes the JSON API over the payment core. Thin on
// purpose: validation and state logic live in the services.
type APIHandlers struct {
	logger   *slog.Logger
	payments *payment.Service
	cards    *card.Flow
	balances *db.BalanceRepository
	webhooks *db.WebhookRepository
}

func NewAPIHandlers(
	logger *slog.Logger,
	payments *payment.Service,
	cards *card.Flow,
	balances *db.BalanceRepository,
	webhooks *db.WebhookRepository,
) *APIHandlers {
	return &APIHandlers{
		logger:   logger,
		payments: payments,
		cards:    cards,
		balances: balances,
		webhooks: webhooks,
	}
}

type createPaymentRequest struct {
	MerchantID        uuid.UUID `json:"merchantId"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency"`
	Methods           []string  `json:"methods"`
	InvoiceNumber     string    `json:"invoiceNumber"`
	Description       string    `json:"description"`
	CustomerReference *string   `json:"customerReference,omitempty"`
	BillingCountry    string    `json:"billingCountry"`
	CallbackURL       *string   `json:"callbackUrl,omitempty"`
}

type paymentRequestResponse struct {
	ID                uuid.UUID  `json:"id"`
	MerchantID        uuid.UUID  `json:"merchantId"`
	Amount            int64      `json:"amount"`
	Currency          string     `json:"currency"`
	Methods           []string   `json:"methods"`
	Status            string     `json:"status"`
	PaymentLink       *string    `json:"paymentLink,omitempty"`
	InvoiceNumber     string     `json:"invoiceNumber"`
	Description       string     `json:"description"`
	CustomerReference *string    `json:"customerReference,omitempty"`
	CommissionPercent float64    `json:"commissionPercent"`
	CommissionAmount  int64      `json:"commissionAmount"`
	NetAmount         int64      `json:"netAmount"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	ViewedAt          *time.Time `json:"viewedAt,omitempty"`
	PaidAt            *time.Time `json:"paidAt,omitempty"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
}

func toPaymentRequestResponse(entity *db.PaymentRequestEntity) paymentRequestResponse {
	return paymentRequestResponse{
		ID:                entity.ID,
		MerchantID:        entity.MerchantID,
		Amount:            entity.Amount,
		Currency:          entity.Currency,
		Methods:           entity.Methods,
		Status:            string(entity.Status),
		PaymentLink:       entity.PaymentLink,
		InvoiceNumber:     entity.InvoiceNumber,
		Description:       entity.Description,
		CustomerReference: entity.CustomerReference,
		CommissionPercent: entity.CommissionPercent,
		CommissionAmount:  entity.CommissionAmount,
		NetAmount:         entity.NetAmount,
		CreatedAt:         entity.CreatedAt,
		UpdatedAt:         entity.UpdatedAt,
		ViewedAt:          entity.ViewedAt,
		PaidAt:            entity.PaidAt,
		ExpiresAt:         entity.ExpiresAt,
	}
}

func (h *APIHandlers) createPaymentRequest(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	methods := make([]model.Method, 0, len(req.Methods))
	for _, m := range req.Methods {
		methods = append(methods, model.Method(m))
	}

	entity, err := h.payments.Create(r.Context(), payment.CreateInput{
		MerchantID:        req.MerchantID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Methods:           methods,
		InvoiceNumber:     req.InvoiceNumber,
		Description:       req.Description,
		CustomerReference: req.CustomerReference,
		BillingCountry:    req.BillingCountry,
		CallbackURL:       req.CallbackURL,
	})
	if err != nil {
		h.writeBusinessError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toPaymentRequestResponse(entity))
}

// getPaymentRequest is the customer-facing read: the first one moves a
// SENT request to VIEWED.
func (h *APIHandlers) getPaymentRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	entity, err := h.payments.MarkViewed(r.Context(), id)
	if err != nil {
		h.writeBusinessError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toPaymentRequestResponse(entity))
}

func (h *APIHandlers) cancelPaymentRequest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.payments.Cancel)
}

func (h *APIHandlers) expirePaymentRequest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.payments.Expire)
}

type reviewRequest struct {
	Decision string `json:"decision"`
}

// reviewPaymentRequest routes the admin decision: terminal decisions go
// through the state machine, verification branches through the card
// flow.
func (h *APIHandlers) reviewPaymentRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch model.VerificationType(req.Decision) {
	case model.Verification3DSMS, model.Verification3DPush:
		submission, err := h.cards.RequestVerification(r.Context(), id, model.VerificationType(req.Decision))
		if err != nil {
			h.writeBusinessError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"paymentRequestId": submission.PaymentRequestID,
			"status":           submission.Status,
			"verificationType": submission.VerificationType,
		})
		return
	}

	entity, err := h.payments.Review(r.Context(), id, model.Status(req.Decision))
	if err != nil {
		h.writeBusinessError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toPaymentRequestResponse(entity))
}

type markReceivedRequest struct {
	Status string `json:"status"`
}

func (h *APIHandlers) markReceived(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req markReceivedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entity, err := h.payments.MarkReceived(r.Context(), id, model.Status(req.Status))
	if err != nil {
		h.writeBusinessError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toPaymentRequestResponse(entity))
}

type submitCardRequest struct {
	CardholderName string `json:"cardholderName"`
	CardNumber     string `json:"cardNumber"`
	ExpiryDate     string `json:"expiryDate"`
	CVC            string `json:"cvc"`
}

func (h *APIHandlers) submitCard(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	var req submitCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	submission, err := h.cards.Submit(r.Context(), token, card.SubmitInput{
		CardholderName: req.CardholderName,
		CardNumber:     req.CardNumber,
		ExpiryDate:     req.ExpiryDate,
		CVC:            req.CVC,
	})
	if err != nil {
		h.writeBusinessError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"paymentRequestId": submission.PaymentRequestID,
		"status":           submission.Status,
		"maskedNumber":     submission.MaskedNumber,
	})
}

type confirmVerificationRequest struct {
	Code     string `json:"code"`
	Approved *bool  `json:"approved"`
}

func (h *APIHandlers) confirmVerification(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	var req confirmVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	submission, err := h.cards.Confirm(r.Context(), token, card.ConfirmInput{
		Code:     req.Code,
		Approved: req.Approved,
	})
	if err != nil {
		h.writeBusinessError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"paymentRequestId": submission.PaymentRequestID,
		"status":           submission.Status,
	})
}

func (h *APIHandlers) getBalance(w http.ResponseWriter, r *http.Request) {
	merchantID, ok := pathUUID(w, r, "merchantId")
	if !ok {
		return
	}

	balance, err := h.balances.SelectByMerchantID(r.Context(), merchantID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "no balance for merchant")
		return
	}
	if err != nil {
		h.writeInternalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"merchantId":       balance.MerchantID,
		"available":        balance.Available,
		"pending":          balance.Pending,
		"reserve":          balance.Reserve,
		"currency":         balance.Currency,
		"pendingBreakdown": balance.PendingBreakdown,
		"lastUpdated":      balance.LastUpdated,
	})
}

func (h *APIHandlers) getWebhookLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	logs, err := h.webhooks.SelectDeliveryLogsByPaymentID(r.Context(), id)
	if err != nil {
		h.writeInternalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func (h *APIHandlers) transition(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, id uuid.UUID) (*db.PaymentRequestEntity, error)) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	entity, err := op(r.Context(), id)
	if err != nil {
		h.writeBusinessError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toPaymentRequestResponse(entity))
}

func (h *APIHandlers) writeBusinessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, payment.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, payment.ErrInvalidAmount),
		errors.Is(err, payment.ErrNoMethods),
		errors.Is(err, payment.ErrMissingBillingCountry),
		errors.Is(err, card.ErrMissingCardFields),
		errors.Is(err, card.ErrVerificationCodeRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, payment.ErrCardAmountExceedsCap),
		errors.Is(err, processor.ErrNoBankForGeo),
		errors.Is(err, processor.ErrAmountOutsideLimits),
		errors.Is(err, card.ErrPushRejected):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, payment.ErrInvalidTransition),
		errors.Is(err, payment.ErrAlreadyFinalized),
		errors.Is(err, card.ErrAlreadySubmitted),
		errors.Is(err, card.ErrNotAwaitingVerification),
		errors.Is(err, ledger.ErrTransitionAlreadyApplied),
		errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.writeInternalError(w, r, err)
	}
}

func (h *APIHandlers) writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be a valid uuid")
		return uuid.Nil, false
	}
	return id, true
}
