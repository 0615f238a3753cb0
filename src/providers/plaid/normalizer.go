package plaid

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/username/ledgerfolio/backend/src/config"
	"github.com/username/ledgerfolio/backend/src/models"
	"github.com/username/ledgerfolio/backend/src/utils"
)

// --- Plaid investment payload structures ---

type investmentsPayload struct {
	InvestmentTransactions []investmentTransaction `json:"investment_transactions"`
	Securities             []security              `json:"securities"`
	TotalTransactions      int                     `json:"total_investment_transactions"`
}

type investmentTransaction struct {
	InvestmentTransactionID string  `json:"investment_transaction_id"`
	AccountID               string  `json:"account_id"`
	SecurityID              string  `json:"security_id"`
	Date                    string  `json:"date"` // date only, no time component
	Name                    string  `json:"name"`
	Quantity                float64 `json:"quantity"`
	Amount                  float64 `json:"amount"` // Plaid: positive = cash out of the account
	Price                   float64 `json:"price"`
	Fees                    float64 `json:"fees"`
	Type                    string  `json:"type"`
	Subtype                 string  `json:"subtype"`
	ISOCurrencyCode         string  `json:"iso_currency_code"`
}

type security struct {
	SecurityID     string          `json:"security_id"`
	TickerSymbol   string          `json:"ticker_symbol"`
	Type           string          `json:"type"`
	OptionContract *optionContract `json:"option_contract"`
}

type optionContract struct {
	ContractType             string  `json:"contract_type"` // "call" | "put"
	ExpirationDate           string  `json:"expiration_date"`
	StrikePrice              float64 `json:"strike_price"`
	UnderlyingSecurityTicker string  `json:"underlying_security_ticker"`
}

// --- Normalizer ---

const defaultTimezone = "America/New_York"

// Normalizer converts Plaid investment-transaction payloads into canonical
// records. Plaid timestamps are date-only; the event instant is taken as
// local midnight in the assumed institution timezone. That assumption has an
// inherent off-by-one risk near local midnight for non-U.S. institutions, so
// the assumed zone is recorded on every row for audit rather than hidden.
type Normalizer struct {
	Timezone string
}

func NewNormalizer() *Normalizer {
	tz := defaultTimezone
	if config.Cfg != nil && config.Cfg.PlaidTimezone != "" {
		tz = config.Cfg.PlaidTimezone
	}
	return &Normalizer{Timezone: tz}
}

func (n *Normalizer) Normalize(accountRef string, body []byte, meta models.FetchMetadata) ([]models.CanonicalTransaction, []models.FlowEvent, []models.RowWarning, error) {
	var payload investmentsPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, nil, fmt.Errorf("plaid normalizer: failed to decode payload: %w", err)
	}

	loc, err := time.LoadLocation(n.Timezone)
	if err != nil {
		loc = time.UTC
	}

	securities := make(map[string]security, len(payload.Securities))
	for _, s := range payload.Securities {
		securities[s.SecurityID] = s
	}

	var (
		txs      []models.CanonicalTransaction
		flows    []models.FlowEvent
		warnings []models.RowWarning
	)

	if payload.TotalTransactions > 0 && len(payload.InvestmentTransactions) < payload.TotalTransactions {
		warnings = append(warnings, models.RowWarning{
			Kind:       models.WarnCoverageGap,
			Provider:   models.ProviderPlaid,
			AccountRef: accountRef,
			Detail: fmt.Sprintf("payload has %d rows but provider declared %d",
				len(payload.InvestmentTransactions), payload.TotalTransactions),
		})
	}

	for i, row := range payload.InvestmentTransactions {
		tx, flow, warn, err := n.processRow(accountRef, row, securities[row.SecurityID], loc, i)
		if err != nil {
			warnings = append(warnings, models.RowWarning{
				Kind:       models.WarnUnparseableRow,
				Provider:   models.ProviderPlaid,
				AccountRef: accountRef,
				Symbol:     row.Name,
				Detail:     err.Error(),
			})
			continue
		}
		if warn != nil {
			warnings = append(warnings, *warn)
			continue
		}
		if tx != nil {
			txs = append(txs, *tx)
		}
		if flow != nil {
			flows = append(flows, *flow)
		}
	}

	return txs, flows, warnings, nil
}

func (n *Normalizer) processRow(accountRef string, row investmentTransaction, sec security, loc *time.Location, ordinal int) (*models.CanonicalTransaction, *models.FlowEvent, *models.RowWarning, error) {
	day, err := time.ParseInLocation("2006-01-02", row.Date, loc)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("could not parse plaid date '%s': %w", row.Date, err)
	}
	eventTime := day.UTC()

	class, flowType, ok := classify(row.Type, row.Subtype)
	if !ok {
		w := &models.RowWarning{
			Kind:       models.WarnUnknownClass,
			Provider:   models.ProviderPlaid,
			AccountRef: accountRef,
			Symbol:     row.Name,
			Detail:     fmt.Sprintf("unmapped plaid type/subtype %q/%q", row.Type, row.Subtype),
		}
		return nil, nil, w, nil
	}

	if flowType != "" {
		// Cash rows land in both record sets: a ledger transaction (so
		// corrections and dedup apply) and a flow event for the composer.
		flow := &models.FlowEvent{
			Provider:       models.ProviderPlaid,
			AccountRef:     accountRef,
			FlowType:       flowType,
			IsExternalFlow: flowType == models.FlowContribution || flowType == models.FlowWithdrawal,
			EventTime:      eventTime,
			Amount:         -row.Amount, // Plaid signs cash out of the account positive
			Currency:       row.ISOCurrencyCode,
			ProviderTxID:   row.InvestmentTransactionID,
			RawText:        row.Name,
		}
		tx := &models.CanonicalTransaction{
			Provider:        models.ProviderPlaid,
			AccountRef:      accountRef,
			Symbol:          strings.ToUpper(strings.TrimSpace(sec.TickerSymbol)),
			SecurityID:      row.SecurityID,
			Class:           classForFlow(flowType),
			EventTime:       eventTime,
			DateLocal:       row.Date,
			TimezoneAssumed: loc.String(),
			Amount:          -row.Amount,
			Currency:        row.ISOCurrencyCode,
			ProviderTxID:    row.InvestmentTransactionID,
			Tiebreaker:      fmt.Sprintf("%s#%d", row.Date, ordinal),
			RawText:         row.Name,
		}
		return tx, flow, nil, nil
	}

	tx := models.CanonicalTransaction{
		Provider:        models.ProviderPlaid,
		AccountRef:      accountRef,
		Symbol:          strings.ToUpper(strings.TrimSpace(sec.TickerSymbol)),
		SecurityID:      row.SecurityID,
		Class:           class,
		EventTime:       eventTime,
		DateLocal:       row.Date,
		TimezoneAssumed: loc.String(),
		Quantity:        math.Abs(row.Quantity),
		Price:           math.Abs(row.Price),
		Fee:             math.Abs(row.Fees),
		Amount:          -row.Amount,
		Currency:        row.ISOCurrencyCode,
		ProviderTxID:    row.InvestmentTransactionID,
		Tiebreaker:      fmt.Sprintf("%s#%d", row.Date, ordinal),
		RawText:         row.Name,
	}

	n.applyOptionMetadata(&tx, row, sec)
	return &tx, nil, nil, nil
}

// applyOptionMetadata prefers the structured option_contract block; the
// description-text matcher is only a fallback for securities Plaid did not
// enrich.
func (n *Normalizer) applyOptionMetadata(tx *models.CanonicalTransaction, row investmentTransaction, sec security) {
	if sec.OptionContract != nil {
		exp, err := time.Parse("2006-01-02", sec.OptionContract.ExpirationDate)
		if err != nil {
			return
		}
		tx.IsOption = true
		tx.NormalizedSymbol = utils.OptionSymbol(
			sec.OptionContract.UnderlyingSecurityTicker,
			sec.OptionContract.ContractType,
			sec.OptionContract.StrikePrice,
			exp)
		n.applyContractPrice(tx, row)
		return
	}

	if underlying, optType, strike, exp, ok := utils.ParseOptionDescription(row.Name); ok {
		tx.IsOption = true
		tx.NormalizedSymbol = utils.OptionSymbol(underlying, optType, strike, exp)
		n.applyContractPrice(tx, row)
	}
}

// applyContractPrice sets the per-contract price from the signed cashflow,
// never the provider's raw per-share premium.
func (n *Normalizer) applyContractPrice(tx *models.CanonicalTransaction, row investmentTransaction) {
	if tx.Quantity > 0 {
		tx.Price = math.Abs(row.Amount / tx.Quantity)
	}
}

// classForFlow maps a flow type onto the ledger class its transaction row
// carries.
func classForFlow(ft models.FlowType) models.TransactionClass {
	switch ft {
	case models.FlowDividend:
		return models.ClassDividend
	case models.FlowFee:
		return models.ClassFee
	default:
		return models.ClassTransfer
	}
}

// classify maps Plaid's type/subtype pair onto the canonical transaction
// class, or a flow type for cash rows.
func classify(typ, subtype string) (models.TransactionClass, models.FlowType, bool) {
	typ = strings.ToLower(typ)
	subtype = strings.ToLower(subtype)

	switch typ {
	case "buy":
		if strings.Contains(subtype, "cover") {
			return models.ClassCover, "", true
		}
		return models.ClassBuy, "", true
	case "sell":
		if strings.Contains(subtype, "short") {
			return models.ClassShort, "", true
		}
		return models.ClassSell, "", true
	case "fee":
		return "", models.FlowFee, true
	case "cash":
		switch subtype {
		case "contribution", "deposit":
			return "", models.FlowContribution, true
		case "withdrawal":
			return "", models.FlowWithdrawal, true
		case "dividend":
			return "", models.FlowDividend, true
		}
		return "", models.FlowTransfer, true
	case "transfer":
		return "", models.FlowTransfer, true
	}
	return "", "", false
}
