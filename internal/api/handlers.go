package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/pricepilot/pricepilot/internal/history"
	"github.com/pricepilot/pricepilot/internal/models"
	"github.com/pricepilot/pricepilot/internal/orchestrator"
)

const maxRequestBodySize = 1 << 20 // 1 MB

type Handler struct {
	orchestrator *orchestrator.Orchestrator
	history      *history.Cache
	logger       *zap.Logger
}

func NewHandler(orch *orchestrator.Orchestrator, hist *history.Cache, logger *zap.Logger) *Handler {
	return &Handler{
		orchestrator: orch,
		history:      hist,
		logger:       logger,
	}
}

// Compare accepts a product name or link plus view filters and returns
// the ranked records. Empty input is valid and yields an empty result.
func (h *Handler) Compare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := RequestIDFromContext(ctx)

	req, err := h.parseCompareRequest(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.RequestID = requestID

	resp, err := h.orchestrator.Compare(ctx, req)
	if err != nil {
		h.logger.Error("comparison failed",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		h.writeError(w, http.StatusInternalServerError, "compare_error", "Comparison service temporarily unavailable")
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

const maxSuggestQueryLen = 100

// Suggest returns completion candidates for a partial product name.
func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query().Get("q")
	if len(query) > maxSuggestQueryLen {
		query = query[:maxSuggestQueryLen]
	}

	suggestions, err := h.orchestrator.Suggest(ctx, query)
	if err != nil {
		h.logger.Error("suggestion lookup failed", zap.Error(err))
		h.writeJSON(w, http.StatusOK, map[string]any{"suggestions": []string{}})
		return
	}
	if suggestions == nil {
		suggestions = []string{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

// History lists the remembered recent searches, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	items := h.history.List(r.Context())
	if items == nil {
		items = []models.HistoryItem{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ClearHistory wipes the recent search list.
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.history.Clear(r.Context()); err != nil {
		h.logger.Error("history clear failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "history_error", "Could not clear history")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// PriceHistory returns the normalized price series for a product link.
func (h *Handler) PriceHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	url := r.URL.Query().Get("url")
	if url == "" {
		h.writeError(w, http.StatusBadRequest, "missing_url", "Query parameter 'url' is required")
		return
	}

	series, err := h.orchestrator.Series(ctx, url)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_url", err.Error())
		return
	}
	if series == nil {
		series = []models.PricePoint{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"series": series})
}

func (h *Handler) parseCompareRequest(r *http.Request) (*models.CompareRequest, error) {
	if r.Method == http.MethodPost {
		var req models.CompareRequest
		limited := io.LimitReader(r.Body, maxRequestBodySize)
		if err := json.NewDecoder(limited).Decode(&req); err != nil {
			return nil, err
		}
		return &req, nil
	}

	// GET request
	q := r.URL.Query()
	req := &models.CompareRequest{
		Input: q.Get("q"),
		Filter: models.FilterState{
			Origin:  models.ParseOrigin(q.Get("origin")),
			Store:   q.Get("store"),
			SortKey: models.ParseSortKey(q.Get("sort")),
		},
	}

	if v := q.Get("min_price"); v != "" {
		min, err := strconv.ParseFloat(v, 64)
		if err == nil && min >= 0 {
			req.Filter.MinPrice = min
		}
	}
	if v := q.Get("max_price"); v != "" {
		max, err := strconv.ParseFloat(v, 64)
		if err == nil && max > 0 {
			req.Filter.MaxPrice = max
		}
	}
	if q.Get("force_fresh") == "true" {
		req.ForceFresh = true
	}

	return req, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("writing json response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
