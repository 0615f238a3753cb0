// backend/src/handlers/reconcile_handler.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/username/ledgerfolio/backend/src/logger"
	"github.com/username/ledgerfolio/backend/src/services"
	"github.com/username/ledgerfolio/backend/src/utils"
)

// ReconcileHandler is the thin JSON boundary over the reconciliation engine.
// The engine itself owns no wire protocol; this is one of its front ends.
type ReconcileHandler struct {
	service services.ReconcileService
}

func NewReconcileHandler(service services.ReconcileService) *ReconcileHandler {
	return &ReconcileHandler{service: service}
}

// HandleRun triggers a reconciliation run for the requested slices.
func (h *ReconcileHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req services.ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSONError(w, http.StatusBadRequest, "invalid reconcile request body")
		return
	}
	if len(req.Slices) == 0 {
		utils.WriteJSONError(w, http.StatusBadRequest, "at least one provider/account slice is required")
		return
	}
	for _, slice := range req.Slices {
		if !slice.Provider.Valid() {
			utils.WriteJSONError(w, http.StatusBadRequest, "unknown provider: "+string(slice.Provider))
			return
		}
	}

	result, err := h.service.Run(r.Context(), req)
	if err != nil {
		logger.L.Error("reconciliation run failed", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrFetchAborted) {
			status = http.StatusRequestTimeout
		}
		utils.WriteJSONError(w, status, err.Error())
		return
	}
	utils.WriteJSON(w, http.StatusOK, result)
}

// HandleGetCompletedTrades returns the latest run's completed trades.
func (h *ReconcileHandler) HandleGetCompletedTrades(w http.ResponseWriter, r *http.Request) {
	result, ok := h.service.LatestResult()
	if !ok {
		utils.WriteJSONError(w, http.StatusNotFound, "no reconciliation result available")
		return
	}
	utils.WriteJSON(w, http.StatusOK, result.CompletedTrades)
}

// HandleGetOpenLots returns the latest run's residual open lots.
func (h *ReconcileHandler) HandleGetOpenLots(w http.ResponseWriter, r *http.Request) {
	result, ok := h.service.LatestResult()
	if !ok {
		utils.WriteJSONError(w, http.StatusNotFound, "no reconciliation result available")
		return
	}
	utils.WriteJSON(w, http.StatusOK, result.OpenLots)
}

// HandleGetIncompleteTrades returns closing transactions still awaiting
// backfill.
func (h *ReconcileHandler) HandleGetIncompleteTrades(w http.ResponseWriter, r *http.Request) {
	result, ok := h.service.LatestResult()
	if !ok {
		utils.WriteJSONError(w, http.StatusNotFound, "no reconciliation result available")
		return
	}
	utils.WriteJSON(w, http.StatusOK, result.IncompleteTrades)
}

// HandleGetFlowTimeline returns the composed cash/external-flow timeline.
func (h *ReconcileHandler) HandleGetFlowTimeline(w http.ResponseWriter, r *http.Request) {
	result, ok := h.service.LatestResult()
	if !ok {
		utils.WriteJSONError(w, http.StatusNotFound, "no reconciliation result available")
		return
	}
	utils.WriteJSON(w, http.StatusOK, result.FlowTimeline)
}

// HandleGetSummary returns aggregate trade statistics for the latest run.
func (h *ReconcileHandler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	result, ok := h.service.LatestResult()
	if !ok {
		utils.WriteJSONError(w, http.StatusNotFound, "no reconciliation result available")
		return
	}
	utils.WriteJSON(w, http.StatusOK, result.Summary)
}
