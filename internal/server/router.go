package server

import (
	"encoding/json"
	"net/http"
)

func NewRouter(h *APIHandlers) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /payment-requests", h.createPaymentRequest)
	mux.HandleFunc("GET /payment-requests/{id}", h.getPaymentRequest)
	mux.HandleFunc("POST /payment-requests/{id}/cancel", h.cancelPaymentRequest)
	mux.HandleFunc("POST /payment-requests/{id}/expire", h.expirePaymentRequest)
	mux.HandleFunc("POST /payment-requests/{id}/review", h.reviewPaymentRequest)
	mux.HandleFunc("POST /payment-requests/{id}/received", h.markReceived)
	mux.HandleFunc("GET /payment-requests/{id}/webhook-logs", h.getWebhookLogs)

	mux.HandleFunc("POST /pay/{token}", h.submitCard)
	mux.HandleFunc("POST /pay/{token}/verification", h.confirmVerification)

	mux.HandleFunc("GET /merchants/{merchantId}/balance", h.getBalance)

	mux.HandleFunc("GET /liveness", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
