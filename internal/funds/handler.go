package funds

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bx-funddesk/internal/httputil"
	"bx-funddesk/internal/proofstore"
	"bx-funddesk/internal/types"
)

const maxProofBytes = 5 * 1024 * 1024

type Handler struct {
	svc    *Service
	store  Store
	proofs proofstore.Store
}

func NewHandler(svc *Service, store Store, proofs proofstore.Store) *Handler {
	return &Handler{svc: svc, store: store, proofs: proofs}
}

type rejectInput struct {
	Reason string `json:"reason"`
}

type approveWithdrawalInput struct {
	ExternalReference string `json:"external_reference"`
}

type adjustmentInput struct {
	UserID      string `json:"user_id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request, actor AdminActor) {
	status := types.RequestStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))
	requests, err := h.store.ListRequests(r.Context(), status, 100)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, requests)
}

func (h *Handler) Proof(w http.ResponseWriter, r *http.Request, actor AdminActor) {
	req, err := h.store.RequestByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if req.ProofArtifactRef == "" {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "request has no proof artifact"})
		return
	}
	artifact, err := h.proofs.Get(r.Context(), req.ProofArtifactRef)
	if err != nil {
		if errors.Is(err, proofstore.ErrNotFound) {
			httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "proof artifact not found"})
			return
		}
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	mime := artifact.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mime)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(artifact.Data)
}

func (h *Handler) ApproveDeposit(w http.ResponseWriter, r *http.Request, actor AdminActor) {
	res, err := h.svc.ApproveDeposit(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) RejectDeposit(w http.ResponseWriter, r *http.Request, actor AdminActor) {
	var req rejectInput
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	res, err := h.svc.RejectDeposit(r.Context(), chi.URLParam(r, "id"), req.Reason, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request, actor AdminActor) {
	var req approveWithdrawalInput
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	res, err := h.svc.ApproveWithdrawal(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(req.ExternalReference), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request, actor AdminActor) {
	var req rejectInput
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	res, err := h.svc.RejectWithdrawal(r.Context(), chi.URLParam(r, "id"), req.Reason, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) Credit(w http.ResponseWriter, r *http.Request, actor AdminActor) {
	h.adjust(w, r, actor, h.svc.CreditAccount)
}

func (h *Handler) Debit(w http.ResponseWriter, r *http.Request, actor AdminActor) {
	h.adjust(w, r, actor, h.svc.DebitAccount)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request, actor AdminActor, op func(ctx context.Context, userID string, amount decimal.Decimal, description string, actor AdminActor) (*MutationResult, error)) {
	var req adjustmentInput
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "user_id is required"})
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || !amount.GreaterThan(decimal.Zero) {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid amount"})
		return
	}
	res, err := op(r.Context(), req.UserID, amount, strings.TrimSpace(req.Description), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

type originateDepositInput struct {
	UserID      string `json:"user_id"`
	Amount      string `json:"amount"`
	Remarks     string `json:"remarks"`
	ProofMime   string `json:"proof_mime_type"`
	ProofBase64 string `json:"proof_base64"`
}

type originateWithdrawalInput struct {
	UserID  string `json:"user_id"`
	Amount  string `json:"amount"`
	Charges string `json:"charges"`
	Remarks string `json:"remarks"`
}

// OriginateDeposit is the internal entry point for the external deposit
// flow: it stores the evidence blob and creates the pending request the
// admins will review.
func (h *Handler) OriginateDeposit(w http.ResponseWriter, r *http.Request) {
	var req originateDepositInput
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || !amount.GreaterThan(decimal.Zero) {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid amount"})
		return
	}

	proofRef := ""
	if strings.TrimSpace(req.ProofBase64) != "" {
		blob, err := decodeProofBlob(req.ProofBase64)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
			return
		}
		if len(blob) > maxProofBytes {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "proof file is too large"})
			return
		}
		proofRef = fmt.Sprintf("proof-%s-%d", uuid.NewString(), time.Now().UTC().UnixNano())
		if err := h.proofs.Put(r.Context(), proofRef, strings.TrimSpace(req.ProofMime), blob); err != nil {
			httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
			return
		}
	}

	created, err := h.store.CreatePendingDeposit(r.Context(), req.UserID, amount, proofRef, strings.TrimSpace(req.Remarks))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) OriginateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req originateWithdrawalInput
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || !amount.GreaterThan(decimal.Zero) {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid amount"})
		return
	}
	charges := decimal.Zero
	if strings.TrimSpace(req.Charges) != "" {
		charges, err = decimal.NewFromString(strings.TrimSpace(req.Charges))
		if err != nil || charges.IsNegative() {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid charges"})
			return
		}
	}

	created, err := h.store.CreatePendingWithdrawal(r.Context(), req.UserID, amount, charges, strings.TrimSpace(req.Remarks))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func decodeProofBlob(raw string) ([]byte, error) {
	value := strings.TrimSpace(raw)
	if idx := strings.Index(value, ","); idx >= 0 && strings.Contains(strings.ToLower(value[:idx]), ";base64") {
		value = value[idx+1:]
	}
	buf, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, errors.New("invalid proof file encoding")
	}
	if len(buf) == 0 {
		return nil, errors.New("proof file is empty")
	}
	return buf, nil
}

type insufficientFundsResponse struct {
	Error     string `json:"error"`
	Available string `json:"available"`
	Required  string `json:"required"`
}

func writeError(w http.ResponseWriter, err error) {
	var nf *NotFoundError
	var ise *InvalidStateError
	var ae *AuthorizationError
	var ife *InsufficientFundsError
	var ste *StorageTransactionError
	switch {
	case errors.As(err, &nf):
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: err.Error()})
	case errors.As(err, &ise):
		httputil.WriteJSON(w, http.StatusConflict, httputil.ErrorResponse{Error: err.Error()})
	case errors.As(err, &ae):
		httputil.WriteJSON(w, http.StatusForbidden, httputil.ErrorResponse{Error: err.Error()})
	case errors.As(err, &ife):
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, insufficientFundsResponse{
			Error:     err.Error(),
			Available: ife.Available.String(),
			Required:  ife.Required.String(),
		})
	case errors.As(err, &ste):
		msg := err.Error()
		if IsSerializationFailure(err) {
			msg = "concurrent update conflict, retry the operation"
		}
		httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{Error: msg})
	default:
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
	}
}
