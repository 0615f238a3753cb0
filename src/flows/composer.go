// backend/src/flows/composer.go
package flows

import (
	"sort"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	"github.com/username/ledgerfolio/backend/src/logger"
	"github.com/username/ledgerfolio/backend/src/models"
)

// Slice is one provider/account slice's flow events plus the fetch metadata
// that gates their authority.
type Slice struct {
	Metadata models.FetchMetadata
	Events   []models.FlowEvent
	// NavDelta is the net change in account value over the fetch window,
	// used for inference when the slice is not authoritative. Zero when the
	// provider reported no valuation.
	NavDelta float64
}

// TradeLeg is the cash movement a matched trade itself produced. The
// composer deduplicates flow events against these so a trade's own cash leg
// is never double-counted as an external flow.
type TradeLeg struct {
	AccountRef string
	EventTime  time.Time
	Amount     float64
	Currency   string
}

// Options configures a composition pass.
type Options struct {
	// BaseCurrency is applied only when a source record's currency is
	// missing or invalid; a present, valid currency is never overwritten.
	BaseCurrency string
	// TradeNetCash is the net cash produced by matched trades per account,
	// subtracted from NAV deltas during inference.
	TradeNetCash map[string]float64
}

// Timeline is the composed, authoritative cash/external-flow timeline.
type Timeline struct {
	Events []models.FlowEvent
	Slices []models.SliceStatus
}

// matchKey identifies one economic event across overlapping sources.
// Identity fields stay strings; the amount is parsed as a number and
// formatted to fixed precision so numeric coercion can never collide keys.
type matchKey struct {
	Provider  models.Provider
	Account   string
	Date      string
	Currency  string
	AbsAmount string
	Class     models.FlowType
}

// Compose merges per-slice flow events into a single timeline. Authoritative
// slices apply directly; non-authoritative slices degrade to inference and
// their estimates are marked inferred, never passed off as observed.
func Compose(slices []Slice, tradeLegs []TradeLeg, opts Options) Timeline {
	var tl Timeline

	legIndex := make(map[matchKey]bool, len(tradeLegs))
	for _, leg := range tradeLegs {
		legIndex[legKey(leg)] = true
	}

	seen := make(map[matchKey]bool)

	// Slices are applied in declared order: the primary source wins and
	// later sources only fill gaps.
	for _, slice := range slices {
		status := models.SliceStatus{
			Provider:      slice.Metadata.Provider,
			AccountRef:    slice.Metadata.AccountRef,
			Authoritative: slice.Metadata.Authoritative(),
			RowCount:      slice.Metadata.RowCount,
		}

		if !status.Authoritative {
			status.Degraded = true
			status.Reason = degradeReason(slice.Metadata)
			logger.L.Warn("flow slice not authoritative, falling back to inference",
				"provider", slice.Metadata.Provider, "account", slice.Metadata.AccountRef, "reason", status.Reason)
			if ev, ok := inferExternalFlow(slice, opts); ok {
				tl.Events = append(tl.Events, ev)
			}
			tl.Slices = append(tl.Slices, status)
			continue
		}

		for _, ev := range slice.Events {
			ev.Currency = resolveCurrency(ev.Currency, opts.BaseCurrency)
			ev.Authoritative = true

			key := eventKey(ev)
			if seen[key] {
				logger.L.Debug("dropping duplicate flow event from secondary source",
					"provider", ev.Provider, "account", ev.AccountRef, "type", ev.FlowType, "amount", ev.Amount)
				continue
			}
			if legIndex[legKey(TradeLeg{AccountRef: ev.AccountRef, EventTime: ev.EventTime, Amount: ev.Amount, Currency: ev.Currency})] {
				// This is a matched trade's own cash leg, not an external flow.
				continue
			}
			seen[key] = true
			tl.Events = append(tl.Events, ev)
		}
		tl.Slices = append(tl.Slices, status)
	}

	sort.SliceStable(tl.Events, func(i, j int) bool {
		return tl.Events[i].EventTime.Before(tl.Events[j].EventTime)
	})
	return tl
}

// inferExternalFlow estimates the external flow a degraded slice would have
// reported: the NAV delta not explained by matched trades. It is emitted only
// when a usable valuation exists.
func inferExternalFlow(slice Slice, opts Options) (models.FlowEvent, bool) {
	if slice.NavDelta == 0 {
		return models.FlowEvent{}, false
	}

	unexplained := slice.NavDelta - opts.TradeNetCash[slice.Metadata.AccountRef]
	// Observed internal flows (dividends, fees) still explain part of the
	// delta even when the slice as a whole cannot be trusted for completeness.
	for _, ev := range slice.Events {
		if !ev.IsExternalFlow {
			unexplained -= ev.Amount
		}
	}
	if unexplained == 0 {
		return models.FlowEvent{}, false
	}

	flowType := models.FlowContribution
	if unexplained < 0 {
		flowType = models.FlowWithdrawal
	}
	return models.FlowEvent{
		Provider:       slice.Metadata.Provider,
		AccountRef:     slice.Metadata.AccountRef,
		FlowType:       flowType,
		IsExternalFlow: true,
		EventTime:      slice.Metadata.FetchWindowEnd,
		Amount:         unexplained,
		Currency:       resolveCurrency("", opts.BaseCurrency),
		Inferred:       true,
	}, true
}

// resolveCurrency defaults to the base currency only when the source
// currency is missing or not a known ISO code.
func resolveCurrency(cur, base string) string {
	if cur != "" && money.GetCurrency(cur) != nil {
		return cur
	}
	return base
}

func degradeReason(m models.FetchMetadata) string {
	switch {
	case m.FetchError != "":
		return "fetch_error: " + m.FetchError
	case m.PartialData:
		return "partial_data"
	case !m.PaginationExhausted:
		return "pagination_not_exhausted"
	default:
		return ""
	}
}

func eventKey(ev models.FlowEvent) matchKey {
	return matchKey{
		Provider:  ev.Provider,
		Account:   ev.AccountRef,
		Date:      ev.EventTime.UTC().Format("2006-01-02"),
		Currency:  ev.Currency,
		AbsAmount: fixedAbs(ev.Amount),
		Class:     ev.FlowType,
	}
}

// legKey matches a flow event against a trade's cash leg by instant, account,
// amount and currency. Provider and class are deliberately left out: the same
// movement can surface under either side with different labels.
func legKey(leg TradeLeg) matchKey {
	return matchKey{
		Account:   leg.AccountRef,
		Date:      leg.EventTime.UTC().Format(time.RFC3339),
		Currency:  leg.Currency,
		AbsAmount: fixedAbs(leg.Amount),
	}
}

func fixedAbs(v float64) string {
	return decimal.NewFromFloat(v).Abs().StringFixed(2)
}
