package client

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"easyswitch/internal/logger"
	"easyswitch/internal/payment"
	"easyswitch/internal/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Handler exposes the dispatcher to operators over HTTP.
type Handler struct {
	client *Client
	mux    *http.ServeMux
}

func NewHandler(c *Client) *Handler {
	h := &Handler{client: c, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /v1/payments", h.sendPayment)
	h.mux.HandleFunc("GET /v1/transactions/{provider}/{id}", h.transactionDetail)
	h.mux.HandleFunc("GET /v1/transactions/{provider}/{id}/status", h.checkStatus)
	h.mux.HandleFunc("POST /v1/transactions/{provider}/{id}/cancel", h.cancel)
	h.mux.HandleFunc("POST /v1/transactions/{provider}/{id}/refund", h.refund)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type errorBody struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind to the HTTP status the API answers with.
func statusFor(err error) int {
	switch payment.KindOf(err) {
	case payment.KindValidation, payment.KindInvalidRequest:
		return http.StatusBadRequest
	case payment.KindInvalidProvider, payment.KindTransactionNotFound:
		return http.StatusNotFound
	case payment.KindDuplicateSubmission:
		return http.StatusConflict
	case payment.KindUnsupportedOperation:
		return http.StatusNotImplemented
	case payment.KindRateLimit:
		return http.StatusTooManyRequests
	case payment.KindNetwork:
		return http.StatusGatewayTimeout
	case payment.KindConfiguration, "":
		return http.StatusInternalServerError
	}
	return http.StatusBadGateway
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}

	var perr *payment.Error
	if errors.As(err, &perr) {
		body.Code = perr.Code
		if len(perr.Details) > 0 || perr.Field != "" {
			body.Details = make(map[string]any, len(perr.Details)+1)
			for k, v := range perr.Details {
				body.Details[k] = v
			}
			if perr.Field != "" {
				body.Details["field"] = perr.Field
			}
		}
	}
	if status >= http.StatusInternalServerError {
		h.client.log.Error("operator request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", logger.RequestIDFrom(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, body)
}

func badRequest(err error) error {
	return &payment.Error{
		Kind:    payment.KindInvalidRequest,
		Message: "invalid request body",
		Code:    string(payment.KindInvalidRequest),
		Err:     err,
	}
}

func pathProvider(r *http.Request) (payment.Provider, error) {
	return payment.ParseProvider(r.PathValue("provider"))
}

func (h *Handler) sendPayment(w http.ResponseWriter, r *http.Request) {
	var tx payment.TransactionDetail
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		h.fail(w, r, badRequest(err))
		return
	}
	if tx.TransactionID == "" {
		tx.TransactionID = utils.GenerateReference(time.Now())
	}
	if tx.Provider != "" {
		p, err := payment.ParseProvider(string(tx.Provider))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		tx.Provider = p
	}

	resp, err := h.client.SendPayment(r.Context(), tx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) transactionDetail(w http.ResponseWriter, r *http.Request) {
	p, err := pathProvider(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	detail, err := h.client.GetTransactionDetail(r.Context(), p, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) checkStatus(w http.ResponseWriter, r *http.Request) {
	p, err := pathProvider(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id := r.PathValue("id")
	status, err := h.client.CheckStatus(r.Context(), p, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider":       p,
		"transaction_id": id,
		"status":         status,
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	p, err := pathProvider(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok, err := h.client.CancelTransaction(r.Context(), p, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": ok})
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	p, err := pathProvider(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	// An empty body refunds the full amount.
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.fail(w, r, badRequest(err))
		return
	}
	if req.Amount.IsNegative() {
		h.fail(w, r, payment.NewValidationError("amount", "refund amount must not be negative"))
		return
	}

	resp, err := h.client.Refund(r.Context(), p, r.PathValue("id"), payment.RefundOptions{Amount: req.Amount, Reason: req.Reason})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
