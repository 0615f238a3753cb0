package services

import (
	"context"
	"errors"

	"github.com/username/ledgerfolio/backend/src/metrics"
	"github.com/username/ledgerfolio/backend/src/models"
	"github.com/username/ledgerfolio/backend/src/providers"
)

var (
	ErrFetchAborted     = errors.New("reconciliation aborted during fetch phase")
	ErrNormalizeFailed  = errors.New("normalization failed")
	ErrStructuralFailed = errors.New("structural contract violation")
)

// SliceRequest names one provider/account slice to reconcile.
type SliceRequest struct {
	Provider   models.Provider `json:"provider"`
	AccountRef string          `json:"account_ref"`
}

// ReconcileRequest is one reconciliation run's input description.
type ReconcileRequest struct {
	Slices []SliceRequest `json:"slices"`
	// Holdings seed synthetic opening lots for pre-history positions.
	Holdings []models.Holding `json:"holdings,omitempty"`
	// NavDeltas, per account ref, feed flow inference for degraded slices.
	NavDeltas map[string]float64 `json:"nav_deltas,omitempty"`
}

// RunResult is everything a reconciliation run returns. It always carries a
// diagnostics block; the engine never fails silently.
type RunResult struct {
	RunID            string                   `json:"run_id"`
	CompletedTrades  []models.CompletedTrade  `json:"completed_trades"`
	OpenLots         []models.OpenLot         `json:"open_lots"`
	IncompleteTrades []models.IncompleteTrade `json:"incomplete_trades"`
	FlowTimeline     []models.FlowEvent       `json:"flow_timeline"`
	Summary          metrics.Summary          `json:"summary"`
	Diagnostics      models.Diagnostics       `json:"diagnostics"`
}

// ProviderSource fetches one slice's raw payload. Implementations live in the
// ingestion layer; the engine only requires that failures come back as
// errors, never as silently-empty payloads.
type ProviderSource interface {
	Fetch(ctx context.Context, req SliceRequest) (providers.RawPayload, error)
}

// ReconcileService runs reconciliation passes and serves their results.
type ReconcileService interface {
	Run(ctx context.Context, req ReconcileRequest) (*RunResult, error)
	LatestResult() (*RunResult, bool)
}
