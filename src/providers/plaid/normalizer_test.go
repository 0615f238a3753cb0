package plaid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/ledgerfolio/backend/src/models"
)

func normalize(t *testing.T, body string) ([]models.CanonicalTransaction, []models.FlowEvent, []models.RowWarning) {
	t.Helper()
	txs, flows, warnings, err := NewNormalizer().Normalize("acct-plaid-1", []byte(body), models.FetchMetadata{})
	require.NoError(t, err)
	return txs, flows, warnings
}

func TestBuyRowBecomesCanonicalTransaction(t *testing.T) {
	t.Parallel()

	txs, flows, warnings := normalize(t, `{
		"investment_transactions": [{
			"investment_transaction_id": "inv-1",
			"account_id": "a1",
			"security_id": "sec-aapl",
			"date": "2024-03-04",
			"name": "BUY AAPL",
			"quantity": 100,
			"amount": 15025,
			"price": 150.25,
			"fees": 1.5,
			"type": "buy",
			"subtype": "buy",
			"iso_currency_code": "USD"
		}],
		"securities": [{"security_id": "sec-aapl", "ticker_symbol": "aapl", "type": "equity"}],
		"total_investment_transactions": 1
	}`)

	require.Len(t, txs, 1)
	assert.Empty(t, flows)
	assert.Empty(t, warnings)

	tx := txs[0]
	assert.Equal(t, models.ProviderPlaid, tx.Provider)
	assert.Equal(t, models.ClassBuy, tx.Class)
	assert.Equal(t, "AAPL", tx.Symbol)
	assert.InDelta(t, 100, tx.Quantity, 1e-9)
	assert.InDelta(t, 150.25, tx.Price, 1e-9)
	assert.InDelta(t, 1.5, tx.Fee, 1e-9)
	// Plaid signs cash leaving the account positive; canonical amounts are
	// signed from the account's perspective.
	assert.InDelta(t, -15025, tx.Amount, 1e-9)
	assert.Equal(t, "inv-1", tx.ProviderTxID)
}

func TestDateOnlyTimestampAssumesInstitutionTimezone(t *testing.T) {
	t.Parallel()

	txs, _, _ := normalize(t, `{
		"investment_transactions": [{
			"investment_transaction_id": "inv-1",
			"security_id": "sec-aapl",
			"date": "2024-03-04",
			"quantity": 1, "amount": 100, "price": 100,
			"type": "buy", "subtype": "buy",
			"iso_currency_code": "USD"
		}],
		"securities": []
	}`)

	require.Len(t, txs, 1)
	tx := txs[0]
	// Local midnight Eastern on 2024-03-04 is 05:00 UTC (EST).
	assert.Equal(t, 5, tx.EventTime.UTC().Hour())
	assert.Equal(t, "2024-03-04", tx.DateLocal)
	assert.Equal(t, "America/New_York", tx.TimezoneAssumed)
}

func TestCashDividendEmitsBothLedgerRowAndFlowEvent(t *testing.T) {
	t.Parallel()

	txs, flows, _ := normalize(t, `{
		"investment_transactions": [{
			"investment_transaction_id": "inv-div",
			"security_id": "sec-aapl",
			"date": "2024-03-04",
			"name": "AAPL CASH DIV",
			"amount": -12.34,
			"type": "cash", "subtype": "dividend",
			"iso_currency_code": "USD"
		}],
		"securities": [{"security_id": "sec-aapl", "ticker_symbol": "AAPL"}]
	}`)

	require.Len(t, txs, 1)
	assert.Equal(t, models.ClassDividend, txs[0].Class)
	assert.InDelta(t, 12.34, txs[0].Amount, 1e-9)

	require.Len(t, flows, 1)
	assert.Equal(t, models.FlowDividend, flows[0].FlowType)
	assert.False(t, flows[0].IsExternalFlow, "dividends are internal income, not external flows")
	assert.InDelta(t, 12.34, flows[0].Amount, 1e-9)
}

func TestContributionIsExternalFlow(t *testing.T) {
	t.Parallel()

	_, flows, _ := normalize(t, `{
		"investment_transactions": [{
			"investment_transaction_id": "inv-dep",
			"date": "2024-03-04",
			"name": "ACH DEPOSIT",
			"amount": -5000,
			"type": "cash", "subtype": "deposit",
			"iso_currency_code": "USD"
		}],
		"securities": []
	}`)

	require.Len(t, flows, 1)
	assert.Equal(t, models.FlowContribution, flows[0].FlowType)
	assert.True(t, flows[0].IsExternalFlow)
	assert.InDelta(t, 5000, flows[0].Amount, 1e-9)
}

func TestStructuredOptionContractPreferredOverDescription(t *testing.T) {
	t.Parallel()

	txs, _, _ := normalize(t, `{
		"investment_transactions": [{
			"investment_transaction_id": "inv-opt",
			"security_id": "sec-opt",
			"date": "2024-03-04",
			"name": "SPY June call (this text would mislead the fallback parser)",
			"quantity": 2,
			"amount": 700,
			"price": 3.50,
			"type": "buy", "subtype": "buy",
			"iso_currency_code": "USD"
		}],
		"securities": [{
			"security_id": "sec-opt",
			"ticker_symbol": "AAPL240116C00150000",
			"type": "derivative",
			"option_contract": {
				"contract_type": "call",
				"expiration_date": "2026-01-16",
				"strike_price": 150,
				"underlying_security_ticker": "AAPL"
			}
		}]
	}`)

	require.Len(t, txs, 1)
	tx := txs[0]
	assert.True(t, tx.IsOption)
	assert.Equal(t, "AAPL 2026-01-16 CALL 150.00", tx.NormalizedSymbol)
	// Per-contract price from the cashflow, not the raw per-share premium.
	assert.InDelta(t, 350, tx.Price, 1e-9)
}

func TestCoverageGapWarnsButKeepsRows(t *testing.T) {
	t.Parallel()

	txs, _, warnings := normalize(t, `{
		"investment_transactions": [{
			"investment_transaction_id": "inv-1",
			"date": "2024-03-04",
			"quantity": 1, "amount": 100, "price": 100,
			"type": "buy", "subtype": "buy",
			"iso_currency_code": "USD"
		}],
		"securities": [],
		"total_investment_transactions": 3
	}`)

	assert.Len(t, txs, 1)
	require.NotEmpty(t, warnings)
	assert.Equal(t, models.WarnCoverageGap, warnings[0].Kind)
}

func TestUnknownTypeIsolatedAsWarning(t *testing.T) {
	t.Parallel()

	txs, _, warnings := normalize(t, `{
		"investment_transactions": [
			{"investment_transaction_id": "inv-1", "date": "2024-03-04",
			 "quantity": 1, "amount": 100, "price": 100,
			 "type": "mystery", "subtype": "", "iso_currency_code": "USD"},
			{"investment_transaction_id": "inv-2", "date": "2024-03-04",
			 "quantity": 1, "amount": 100, "price": 100,
			 "type": "buy", "subtype": "buy", "iso_currency_code": "USD"}
		],
		"securities": []
	}`)

	require.Len(t, warnings, 1)
	assert.Equal(t, models.WarnUnknownClass, warnings[0].Kind)
	// The malformed row is isolated, not fatal to the batch.
	assert.Len(t, txs, 1)
}

func TestMalformedDateIsolatedAsWarning(t *testing.T) {
	t.Parallel()

	txs, _, warnings := normalize(t, `{
		"investment_transactions": [{
			"investment_transaction_id": "inv-1",
			"date": "03/04/2024",
			"quantity": 1, "amount": 100, "price": 100,
			"type": "buy", "subtype": "buy", "iso_currency_code": "USD"
		}],
		"securities": []
	}`)

	assert.Empty(t, txs)
	require.Len(t, warnings, 1)
	assert.Equal(t, models.WarnUnparseableRow, warnings[0].Kind)
}
