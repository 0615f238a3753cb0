// backend/src/services/reconcile_service.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/username/ledgerfolio/backend/src/database"
	"github.com/username/ledgerfolio/backend/src/flows"
	"github.com/username/ledgerfolio/backend/src/identity"
	"github.com/username/ledgerfolio/backend/src/logger"
	"github.com/username/ledgerfolio/backend/src/matcher"
	"github.com/username/ledgerfolio/backend/src/metrics"
	"github.com/username/ledgerfolio/backend/src/models"
	"github.com/username/ledgerfolio/backend/src/providers"
)

const ckLatestRunResult = "latest_run_result"

// fetchResult is one slice's outcome from the concurrent fetch phase.
// Failures are carried as values, never thrown: a provider outage degrades
// its own slice's authority instead of aborting the run.
type fetchResult struct {
	Request SliceRequest
	Payload providers.RawPayload
}

type reconcileServiceImpl struct {
	store        *database.Store
	source       ProviderSource
	baseCurrency string
	fetchTimeout time.Duration
	limiters     map[models.Provider]*rate.Limiter
	limiterRate  rate.Limit
	limiterBurst int
	resultCache  *cache.Cache
	mu           sync.Mutex
}

// ServiceConfig carries the knobs the reconcile service needs; everything is
// explicit, no process-wide state.
type ServiceConfig struct {
	BaseCurrency string
	FetchTimeout time.Duration
	FetchRate    time.Duration
	FetchBurst   int
}

func NewReconcileService(store *database.Store, source ProviderSource, cfg ServiceConfig, resultCache *cache.Cache) ReconcileService {
	return &reconcileServiceImpl{
		store:        store,
		source:       source,
		baseCurrency: cfg.BaseCurrency,
		fetchTimeout: cfg.FetchTimeout,
		limiters:     make(map[models.Provider]*rate.Limiter),
		limiterRate:  rate.Every(cfg.FetchRate),
		limiterBurst: cfg.FetchBurst,
		resultCache:  resultCache,
	}
}

// Run executes one reconciliation pass: a concurrent, rate-limited,
// cancellable fetch phase, then a deterministic single-threaded batch over
// the fully materialized input set. No lot state mutates while fetches are
// still in flight.
func (s *reconcileServiceImpl) Run(ctx context.Context, req ReconcileRequest) (*RunResult, error) {
	started := time.Now().UTC()
	runID := uuid.NewString()
	logger.L.Info("reconciliation run START", "runID", runID, "slices", len(req.Slices))

	results := s.fetchPhase(ctx, req.Slices)

	// The run may be aborted before lot-matching begins; nothing partial has
	// been persisted yet.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchAborted, err)
	}

	result, err := s.batchPhase(runID, started, req, results)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.resultCache.Set(ckLatestRunResult, result, cache.DefaultExpiration)
	s.mu.Unlock()

	logger.L.Info("reconciliation run END",
		"runID", runID,
		"completedTrades", len(result.CompletedTrades),
		"openLots", len(result.OpenLots),
		"incompleteTrades", len(result.IncompleteTrades),
		"duration", time.Since(started))
	return result, nil
}

func (s *reconcileServiceImpl) LatestResult() (*RunResult, bool) {
	if cached, found := s.resultCache.Get(ckLatestRunResult); found {
		return cached.(*RunResult), true
	}
	return nil, false
}

// fetchPhase runs one task per provider/account slice. Timeouts apply here
// only; the matching phase is CPU-bound and bounded by input size.
func (s *reconcileServiceImpl) fetchPhase(ctx context.Context, slices []SliceRequest) []fetchResult {
	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	results := make([]fetchResult, len(slices))
	var wg sync.WaitGroup
	for i, sliceReq := range slices {
		wg.Add(1)
		go func(i int, sliceReq SliceRequest) {
			defer wg.Done()
			results[i] = s.fetchSlice(fetchCtx, sliceReq)
		}(i, sliceReq)
	}
	wg.Wait()
	return results
}

func (s *reconcileServiceImpl) fetchSlice(ctx context.Context, req SliceRequest) fetchResult {
	res := fetchResult{Request: req}

	if err := s.limiterFor(req.Provider).Wait(ctx); err != nil {
		res.Payload = failedPayload(req, err)
		return res
	}

	payload, err := s.source.Fetch(ctx, req)
	if err != nil {
		logger.L.Warn("provider fetch failed, degrading slice",
			"provider", req.Provider, "account", req.AccountRef, "error", err)
		res.Payload = failedPayload(req, err)
		return res
	}
	res.Payload = payload
	return res
}

func (s *reconcileServiceImpl) limiterFor(p models.Provider) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lim, ok := s.limiters[p]; ok {
		return lim
	}
	lim := rate.NewLimiter(s.limiterRate, s.limiterBurst)
	s.limiters[p] = lim
	return lim
}

// failedPayload carries the failure as fetch metadata so the flow composer
// degrades the slice to inference rather than asserting an empty-but-complete
// timeline.
func failedPayload(req SliceRequest, err error) providers.RawPayload {
	return providers.RawPayload{
		Provider:   req.Provider,
		AccountRef: req.AccountRef,
		Metadata: models.FetchMetadata{
			Provider:    req.Provider,
			AccountRef:  req.AccountRef,
			FetchError:  err.Error(),
			PartialData: true,
		},
	}
}

// batchPhase is the deterministic part: normalization, identity resolution,
// FIFO matching and flow composition over the materialized input set.
func (s *reconcileServiceImpl) batchPhase(runID string, started time.Time, req ReconcileRequest, results []fetchResult) (*RunResult, error) {
	diags := models.Diagnostics{RunStarted: started}
	var flowSlices []flows.Slice

	for _, res := range results {
		normalized, flowSlice := s.normalizeSlice(res, req.NavDeltas, &diags)
		flowSlices = append(flowSlices, flowSlice)

		for _, tx := range normalized {
			diags.RowsIngested++
			outcome, correction, err := s.store.UpsertTransaction(tx)
			if err != nil {
				// Only a structural contract violation is fatal.
				return nil, fmt.Errorf("%w: %v", ErrStructuralFailed, err)
			}
			if outcome == database.OutcomeCorrected {
				diags.Corrections = append(diags.Corrections, *correction)
			}
		}
	}

	ledger, err := s.store.ListTransactions()
	if err != nil {
		return nil, err
	}

	matchResult := matcher.New().Match(ledger, matcher.Options{Holdings: req.Holdings})
	diags.RowsExcluded = append(diags.RowsExcluded, matchResult.Warnings...)
	diags.IncompleteTrades = len(matchResult.IncompleteTrades)

	timeline := flows.Compose(flowSlices, tradeLegs(ledger), flows.Options{
		BaseCurrency: s.baseCurrency,
		TradeNetCash: tradeNetCash(ledger),
	})
	diags.Slices = timeline.Slices

	if err := s.store.ReplaceDerived(matchResult.CompletedTrades, matchResult.OpenLots, timeline.Events); err != nil {
		return nil, err
	}

	diags.RunFinished = time.Now().UTC()
	return &RunResult{
		RunID:            runID,
		CompletedTrades:  matchResult.CompletedTrades,
		OpenLots:         matchResult.OpenLots,
		IncompleteTrades: matchResult.IncompleteTrades,
		FlowTimeline:     timeline.Events,
		Summary:          metrics.Summarize(matchResult.CompletedTrades),
		Diagnostics:      diags,
	}, nil
}

// normalizeSlice maps one fetched payload into canonical records. Normalizer
// failures and coverage gaps degrade the slice's metadata; they never abort
// the run.
func (s *reconcileServiceImpl) normalizeSlice(res fetchResult, navDeltas map[string]float64, diags *models.Diagnostics) ([]models.CanonicalTransaction, flows.Slice) {
	meta := res.Payload.Metadata
	flowSlice := flows.Slice{Metadata: meta, NavDelta: navDeltas[res.Request.AccountRef]}

	if meta.FetchError != "" {
		return nil, flowSlice
	}

	normalizer, err := providers.GetNormalizer(res.Request.Provider)
	if err != nil {
		meta.FetchError = err.Error()
		meta.PartialData = true
		flowSlice.Metadata = meta
		return nil, flowSlice
	}

	txs, flowEvents, warnings, err := normalizer.Normalize(res.Request.AccountRef, res.Payload.Body, meta)
	if err != nil {
		logger.L.Warn("normalization failed, degrading slice",
			"provider", res.Request.Provider, "account", res.Request.AccountRef, "error", err)
		meta.FetchError = fmt.Sprintf("%v: %v", ErrNormalizeFailed, err)
		meta.PartialData = true
		flowSlice.Metadata = meta
		return nil, flowSlice
	}

	for _, w := range warnings {
		if w.Kind == models.WarnCoverageGap {
			meta.PartialData = true
		}
		diags.RowsExcluded = append(diags.RowsExcluded, w)
	}

	for i := range txs {
		txs[i] = identity.Compute(txs[i])
	}

	flowSlice.Metadata = meta
	flowSlice.Events = flowEvents
	return txs, flowSlice
}

// tradeLegs extracts each trade transaction's own cash movement so the
// composer can keep it out of the external-flow timeline.
func tradeLegs(txs []models.CanonicalTransaction) []flows.TradeLeg {
	var legs []flows.TradeLeg
	for _, tx := range txs {
		if !tx.Class.IsTrade() {
			continue
		}
		legs = append(legs, flows.TradeLeg{
			AccountRef: tx.AccountRef,
			EventTime:  tx.EventTime,
			Amount:     tx.Amount,
			Currency:   tx.Currency,
		})
	}
	return legs
}

// tradeNetCash sums the signed cash each account's trades produced, the
// explained part of any NAV delta during inference.
func tradeNetCash(txs []models.CanonicalTransaction) map[string]float64 {
	net := make(map[string]float64)
	for _, tx := range txs {
		if tx.Class.IsTrade() {
			net[tx.AccountRef] += tx.Amount
		}
	}
	return net
}
