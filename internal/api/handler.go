package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/scoring"
	"github.com/opensource-finance/fraudguard/internal/synth"
	"github.com/opensource-finance/fraudguard/internal/velocity"
)

const (
	defaultListLimit       = 100
	defaultMaxDatasetCount = 10000
)

// Deps are the collaborators the API is served from. Only Scoring is
// required; endpoints whose collaborator is nil answer 503.
type Deps struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Scoring   *scoring.Service
	Velocity  *velocity.Service
	Generator *synth.Generator

	VerdictTTL      time.Duration
	MaxDatasetCount int
	Version         string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	Deps
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	if deps.MaxDatasetCount <= 0 {
		deps.MaxDatasetCount = defaultMaxDatasetCount
	}
	return &Handler{Deps: deps}
}

// Welcome handles GET /.
func (h *Handler) Welcome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome to the FraudGuard API",
		"version": h.Version,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.Repo != nil {
		if err := h.Repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.Cache != nil {
		if err := h.Cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check event bus health
	if h.Bus != nil {
		if err := h.Bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.Version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Scoring == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}

	available := 0
	for _, a := range h.Scoring.Adapters() {
		if m, ok := a.(interface{ Available() bool }); !ok || m.Available() {
			available++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ready":       "true",
		"classifiers": available,
	})
}

// PredictFraud handles POST /api/v1/predict_fraud. The transaction is
// scored but not stored.
func (h *Handler) PredictFraud(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tx, ok := h.decodeTransaction(w, r)
	if !ok {
		return
	}

	verdict, err := h.Scoring.ScoreTransaction(ctx, tx)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domain.PredictionResponse{
		Transaction: tx,
		Verdict:     verdict,
	})
}

// CreateTransaction handles POST /api/v1/transactions.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	tx, ok := h.decodeTransaction(w, r)
	if !ok {
		return
	}

	if err := h.Repo.SaveTransaction(r.Context(), tx); err != nil {
		slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, tx)
}

// ListTransactions handles GET /api/v1/transactions?skip=&limit=.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	txs, err := h.Repo.ListTransactions(r.Context(), skip, limit)
	if err != nil {
		slog.Error("failed to list transactions", "error", err)
		writeError(w, err)
		return
	}
	if txs == nil {
		txs = []*domain.Transaction{}
	}

	writeJSON(w, http.StatusOK, txs)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	txID := chi.URLParam(r, "id")

	tx, err := h.Repo.GetTransaction(r.Context(), txID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// UpdateTransaction sets the reviewer label of a transaction.
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	txID := chi.URLParam(r, "id")

	var update domain.TransactionUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if update.IsFraudulent == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "isFraudulent is required",
		})
		return
	}

	tx, err := h.Repo.UpdateTransactionLabel(r.Context(), txID, &update)
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("transaction labelled", "tx_id", txID, "is_fraudulent", *update.IsFraudulent)
	writeJSON(w, http.StatusOK, tx)
}

// DeleteTransaction removes a transaction and its verdicts.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	txID := chi.URLParam(r, "id")

	if err := h.Repo.DeleteTransaction(r.Context(), txID); err != nil {
		writeError(w, err)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.DeleteVerdict(r.Context(), txID); err != nil {
			slog.Warn("failed to evict cached verdict", "tx_id", txID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "transaction deleted",
	})
}

// ScoreTransaction scores a stored transaction synchronously and keeps
// the verdict.
func (h *Handler) ScoreTransaction(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	tx, err := h.Repo.GetTransaction(ctx, txID)
	if err != nil {
		writeError(w, err)
		return
	}

	verdict, err := h.Scoring.ScoreTransaction(ctx, tx)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.Repo.SaveVerdict(ctx, verdict); err != nil {
		slog.Error("failed to save verdict", "tx_id", txID, "error", err)
	}
	if h.Cache != nil && h.VerdictTTL > 0 {
		if err := h.Cache.SetVerdict(ctx, verdict, h.VerdictTTL); err != nil {
			slog.Warn("failed to cache verdict", "tx_id", txID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, verdict)
}

// EnqueueTransaction hands a stored transaction to the async worker.
func (h *Handler) EnqueueTransaction(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	if h.Bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if _, err := h.Repo.GetTransaction(ctx, txID); err != nil {
		writeError(w, err)
		return
	}

	payload, _ := json.Marshal(domain.ScoreRequest{
		TransactionID: txID,
		TraceID:       domain.TraceIDFrom(ctx),
	})
	if err := h.Bus.Publish(ctx, domain.TopicTransactionSubmitted, payload); err != nil {
		slog.Error("failed to enqueue transaction", "tx_id", txID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to enqueue transaction",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"transactionId": txID,
		"status":        "queued",
	})
}

// GetVerdict returns the latest verdict of a transaction, from the cache
// when possible.
func (h *Handler) GetVerdict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if h.Cache != nil {
		v, err := h.Cache.GetVerdict(ctx, txID)
		if err != nil {
			slog.Warn("verdict cache lookup failed", "tx_id", txID, "error", err)
		}
		if v != nil {
			w.Header().Set("X-Cache", "HIT")
			writeJSON(w, http.StatusOK, v)
			return
		}
	}

	if !h.requireRepo(w) {
		return
	}
	v, err := h.Repo.GetLatestVerdict(ctx, txID)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.Cache != nil && h.VerdictTTL > 0 {
		if err := h.Cache.SetVerdict(ctx, v, h.VerdictTTL); err != nil {
			slog.Warn("failed to cache verdict", "tx_id", txID, "error", err)
		}
	}

	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, v)
}

// ListVerdicts returns every verdict scored for a transaction, newest
// first. The cache is not consulted.
func (h *Handler) ListVerdicts(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if _, err := h.Repo.GetTransaction(ctx, txID); err != nil {
		writeError(w, err)
		return
	}

	verdicts, err := h.Repo.ListVerdicts(ctx, txID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verdicts)
}

// DatasetRequest is the request body for POST /api/v1/datasets.
type DatasetRequest struct {
	Count int    `json:"count"`
	Seed  uint64 `json:"seed"`
}

// DatasetSample is one labelled synthetic transaction.
type DatasetSample struct {
	Transaction domain.Transaction `json:"transaction"`
	Label       synth.Label        `json:"label"`
}

// DatasetResponse is the response for POST /api/v1/datasets.
type DatasetResponse struct {
	Seed           uint64          `json:"seed"`
	Count          int             `json:"count"`
	LabelThreshold float64         `json:"labelThreshold"`
	Samples        []DatasetSample `json:"samples"`
}

// GenerateDataset returns a reproducible synthetic dataset.
func (h *Handler) GenerateDataset(w http.ResponseWriter, r *http.Request) {
	if h.Generator == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "generator not available",
		})
		return
	}

	var req DatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Count <= 0 || req.Count > h.MaxDatasetCount {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "count must be between 1 and " + strconv.Itoa(h.MaxDatasetCount),
		})
		return
	}

	resp := DatasetResponse{
		Seed:           req.Seed,
		Count:          req.Count,
		LabelThreshold: h.Generator.LabelThreshold(),
		Samples:        make([]DatasetSample, 0, req.Count),
	}
	for tx, label := range h.Generator.GenerateDataset(req.Count, req.Seed) {
		resp.Samples = append(resp.Samples, DatasetSample{Transaction: tx, Label: label})
	}

	writeJSON(w, http.StatusOK, resp)
}

// decodeTransaction parses and validates a TransactionRequest, assigns an
// ID and resolves the transaction frequency. It writes the error response
// itself and reports whether the caller should continue.
func (h *Handler) decodeTransaction(w http.ResponseWriter, r *http.Request) (*domain.Transaction, bool) {
	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return nil, false
	}
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return nil, false
	}

	tx := req.ToTransaction()
	tx.ID = uuid.New().String()
	if err := tx.Validate(); err != nil {
		writeError(w, err)
		return nil, false
	}

	if h.Velocity != nil {
		h.Velocity.Resolve(r.Context(), &req, tx)
	} else if !req.HasFrequency() {
		tx.TransactionFrequency = 1
	}
	return tx, true
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.Repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return false
	}
	return true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"

	switch {
	case errors.Is(err, domain.ErrMissingField), errors.Is(err, domain.ErrUnknownCategory):
		status = http.StatusBadRequest
		msg = err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		msg = "not found"
	default:
		slog.Error("request failed", "error", err)
	}

	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
