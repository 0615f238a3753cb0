package flows

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/ledgerfolio/backend/src/models"
)

func authoritativeMeta(provider models.Provider, account string) models.FetchMetadata {
	return models.FetchMetadata{
		Provider:            provider,
		AccountRef:          account,
		PaginationExhausted: true,
		RowCount:            10,
	}
}

func contribution(provider models.Provider, account string, amount float64, at time.Time) models.FlowEvent {
	return models.FlowEvent{
		Provider:       provider,
		AccountRef:     account,
		FlowType:       models.FlowContribution,
		IsExternalFlow: true,
		EventTime:      at,
		Amount:         amount,
		Currency:       "USD",
	}
}

func TestAuthoritativeSliceAppliesDirectly(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	tl := Compose([]Slice{{
		Metadata: authoritativeMeta(models.ProviderPlaid, "acct-1"),
		Events:   []models.FlowEvent{contribution(models.ProviderPlaid, "acct-1", 5000, at)},
	}}, nil, Options{BaseCurrency: "USD"})

	require.Len(t, tl.Events, 1)
	assert.True(t, tl.Events[0].Authoritative)
	assert.False(t, tl.Events[0].Inferred)
	require.Len(t, tl.Slices, 1)
	assert.True(t, tl.Slices[0].Authoritative)
}

func TestPaginationNotExhaustedNeverAuthoritative(t *testing.T) {
	t.Parallel()

	meta := authoritativeMeta(models.ProviderPlaid, "acct-1")
	meta.PaginationExhausted = false
	meta.RowCount = 500 // row count is irrelevant without proof of completion

	at := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	tl := Compose([]Slice{{
		Metadata: meta,
		Events:   []models.FlowEvent{contribution(models.ProviderPlaid, "acct-1", 5000, at)},
	}}, nil, Options{BaseCurrency: "USD"})

	for _, ev := range tl.Events {
		assert.False(t, ev.Authoritative)
	}
	require.Len(t, tl.Slices, 1)
	assert.True(t, tl.Slices[0].Degraded)
	assert.Equal(t, "pagination_not_exhausted", tl.Slices[0].Reason)
}

func TestTradeCashLegNeverDoubleCounted(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC)
	// The provider also reported the trade's own settlement as a transfer.
	settlement := models.FlowEvent{
		Provider:   models.ProviderSnapTrade,
		AccountRef: "acct-1",
		FlowType:   models.FlowTransfer,
		EventTime:  at,
		Amount:     -15025,
		Currency:   "USD",
	}
	legs := []TradeLeg{{AccountRef: "acct-1", EventTime: at, Amount: -15025, Currency: "USD"}}

	tl := Compose([]Slice{{
		Metadata: authoritativeMeta(models.ProviderSnapTrade, "acct-1"),
		Events:   []models.FlowEvent{settlement},
	}}, legs, Options{BaseCurrency: "USD"})

	assert.Empty(t, tl.Events, "a trade's own cash leg must not appear as an external flow")
}

func TestOverlappingSourcesPrimaryWins(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	primary := contribution(models.ProviderPlaid, "acct-1", 1000, at)
	primary.RawText = "ACH DEPOSIT"
	secondary := contribution(models.ProviderPlaid, "acct-1", 1000, at.Add(6*time.Hour))
	secondary.RawText = "generic transfer record"

	tl := Compose([]Slice{
		{Metadata: authoritativeMeta(models.ProviderPlaid, "acct-1"), Events: []models.FlowEvent{primary}},
		{Metadata: authoritativeMeta(models.ProviderPlaid, "acct-1"), Events: []models.FlowEvent{secondary}},
	}, nil, Options{BaseCurrency: "USD"})

	// Same provider/account/date/currency/amount/class: one survives, and it
	// is the primary source's record.
	require.Len(t, tl.Events, 1)
	assert.Equal(t, "ACH DEPOSIT", tl.Events[0].RawText)
}

func TestDegradedSliceFallsBackToInference(t *testing.T) {
	t.Parallel()

	meta := authoritativeMeta(models.ProviderSnapTrade, "acct-9")
	meta.PartialData = true

	tl := Compose([]Slice{{
		Metadata: meta,
		Events:   []models.FlowEvent{contribution(models.ProviderSnapTrade, "acct-9", 2500, time.Now())},
		NavDelta: 4000,
	}}, nil, Options{
		BaseCurrency: "USD",
		TradeNetCash: map[string]float64{"acct-9": 1500},
	})

	// Observed events from a degraded slice are not applied; the NAV delta
	// unexplained by trades is emitted as an inferred contribution.
	require.Len(t, tl.Events, 1)
	ev := tl.Events[0]
	assert.True(t, ev.Inferred)
	assert.False(t, ev.Authoritative)
	assert.True(t, ev.IsExternalFlow)
	assert.Equal(t, models.FlowContribution, ev.FlowType)
	assert.InDelta(t, 2500, ev.Amount, 1e-9)
}

func TestInferenceSubtractsObservedInternalFlows(t *testing.T) {
	t.Parallel()

	meta := authoritativeMeta(models.ProviderSnapTrade, "acct-9")
	meta.PartialData = true

	dividend := models.FlowEvent{
		Provider:   models.ProviderSnapTrade,
		AccountRef: "acct-9",
		FlowType:   models.FlowDividend,
		EventTime:  time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		Amount:     100,
		Currency:   "USD",
	}

	tl := Compose([]Slice{{
		Metadata: meta,
		Events:   []models.FlowEvent{dividend},
		NavDelta: 4000,
	}}, nil, Options{
		BaseCurrency: "USD",
		TradeNetCash: map[string]float64{"acct-9": 1500},
	})

	// 4000 delta minus 1500 trade cash minus the 100 observed dividend.
	require.Len(t, tl.Events, 1)
	assert.InDelta(t, 2400, tl.Events[0].Amount, 1e-9)
}

func TestInferredWithdrawalWhenDeltaNegative(t *testing.T) {
	t.Parallel()

	meta := authoritativeMeta(models.ProviderSnapTrade, "acct-9")
	meta.FetchError = "connection reset"

	tl := Compose([]Slice{{Metadata: meta, NavDelta: -3000}}, nil, Options{BaseCurrency: "USD"})

	require.Len(t, tl.Events, 1)
	assert.Equal(t, models.FlowWithdrawal, tl.Events[0].FlowType)
	assert.InDelta(t, -3000, tl.Events[0].Amount, 1e-9)
}

func TestCurrencyDefaultsOnlyWhenMissingOrInvalid(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	eur := contribution(models.ProviderPlaid, "acct-1", 100, at)
	eur.Currency = "EUR"
	missing := contribution(models.ProviderPlaid, "acct-1", 200, at)
	missing.Currency = ""
	invalid := contribution(models.ProviderPlaid, "acct-1", 300, at)
	invalid.Currency = "NOPE"

	tl := Compose([]Slice{{
		Metadata: authoritativeMeta(models.ProviderPlaid, "acct-1"),
		Events:   []models.FlowEvent{eur, missing, invalid},
	}}, nil, Options{BaseCurrency: "USD"})

	require.Len(t, tl.Events, 3)
	currencies := map[float64]string{}
	for _, ev := range tl.Events {
		currencies[ev.Amount] = ev.Currency
	}
	assert.Equal(t, "EUR", currencies[100], "a present, valid currency is never overwritten")
	assert.Equal(t, "USD", currencies[200])
	assert.Equal(t, "USD", currencies[300])
}

func TestTimelineSortedByEventTime(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	later := contribution(models.ProviderPlaid, "acct-1", 100, base.AddDate(0, 0, 5))
	earlier := contribution(models.ProviderPlaid, "acct-1", 200, base)

	tl := Compose([]Slice{{
		Metadata: authoritativeMeta(models.ProviderPlaid, "acct-1"),
		Events:   []models.FlowEvent{later, earlier},
	}}, nil, Options{BaseCurrency: "USD"})

	require.Len(t, tl.Events, 2)
	assert.True(t, tl.Events[0].EventTime.Before(tl.Events[1].EventTime))
}
