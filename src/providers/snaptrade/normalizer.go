package snaptrade

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/username/ledgerfolio/backend/src/models"
	"github.com/username/ledgerfolio/backend/src/utils"
)

// --- SnapTrade activity payload structures ---

type activitiesPayload struct {
	Activities []activity `json:"activities"`
	Pagination struct {
		Total int `json:"total"`
	} `json:"pagination"`
}

type activity struct {
	ID           string        `json:"id"` // NOT stable across re-fetches
	TradeDate    string        `json:"trade_date"`
	Type         string        `json:"type"`
	Units        float64       `json:"units"`
	Price        float64       `json:"price"`
	Fee          float64       `json:"fee"`
	Amount       float64       `json:"amount"` // signed: buys negative, sells positive
	Description  string        `json:"description"`
	Symbol       *symbolRef    `json:"symbol"`
	OptionSymbol *optionSymbol `json:"option_symbol"`
	Currency     struct {
		Code string `json:"code"`
	} `json:"currency"`
}

type symbolRef struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
}

type optionSymbol struct {
	Ticker           string     `json:"ticker"`
	OptionType       string     `json:"option_type"` // "CALL" | "PUT"
	StrikePrice      float64    `json:"strike_price"`
	ExpirationDate   string     `json:"expiration_date"`
	UnderlyingSymbol *symbolRef `json:"underlying_symbol"`
}

// Normalizer converts SnapTrade account activities into canonical records.
// SnapTrade activity ids are not stable across re-fetches, so the identity
// engine falls back to canonicalized immutable fields for this provider; the
// ordinal tiebreaker set here is what disambiguates same-instant twins.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

func (n *Normalizer) Normalize(accountRef string, body []byte, meta models.FetchMetadata) ([]models.CanonicalTransaction, []models.FlowEvent, []models.RowWarning, error) {
	var payload activitiesPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, nil, fmt.Errorf("snaptrade normalizer: failed to decode payload: %w", err)
	}

	var (
		txs      []models.CanonicalTransaction
		flows    []models.FlowEvent
		warnings []models.RowWarning
	)

	if payload.Pagination.Total > 0 && len(payload.Activities) < payload.Pagination.Total {
		warnings = append(warnings, models.RowWarning{
			Kind:       models.WarnCoverageGap,
			Provider:   models.ProviderSnapTrade,
			AccountRef: accountRef,
			Detail: fmt.Sprintf("payload has %d activities but pagination declared %d",
				len(payload.Activities), payload.Pagination.Total),
		})
	}

	// Ordinals are assigned within a same-instant/symbol/type group, never
	// from the payload-wide row index: unrelated rows appearing, vanishing or
	// moving between fetches must not shift an unchanged activity's identity.
	ordinals := make(map[string]int)
	for _, act := range payload.Activities {
		key := groupKey(act)
		ordinal := ordinals[key]
		ordinals[key]++

		tx, flow, err := n.processActivity(accountRef, act, ordinal)
		if err != nil {
			warnings = append(warnings, models.RowWarning{
				Kind:       models.WarnUnparseableRow,
				Provider:   models.ProviderSnapTrade,
				AccountRef: accountRef,
				Symbol:     act.Description,
				Detail:     err.Error(),
			})
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

func (n *Normalizer) processActivity(accountRef string, act activity, ordinal int) (*models.CanonicalTransaction, *models.FlowEvent, error) {
	eventTime, err := parseTradeDate(act.TradeDate)
	if err != nil {
		return nil, nil, err
	}

	tx := models.CanonicalTransaction{
		Provider:     models.ProviderSnapTrade,
		AccountRef:   accountRef,
		EventTime:    eventTime,
		DateLocal:    eventTime.Format("2006-01-02"),
		Currency:     act.Currency.Code,
		ProviderTxID: act.ID,
		Tiebreaker:   fmt.Sprintf("%d#%d", eventTime.UnixNano(), ordinal),
		RawText:      act.Description,
	}
	if act.Symbol != nil {
		tx.Symbol = strings.ToUpper(strings.TrimSpace(act.Symbol.Symbol))
		tx.SecurityID = act.Symbol.ID
	}

	switch strings.ToUpper(act.Type) {
	case "BUY":
		tx.Class = models.ClassBuy
	case "SELL":
		tx.Class = models.ClassSell
	case "SELL_SHORT":
		tx.Class = models.ClassShort
	case "BUY_TO_COVER":
		tx.Class = models.ClassCover
	case "OPTIONEXPIRATION":
		// An expiration is a closing transaction at price zero. Negative
		// units remove a long position; positive units retire a short one.
		if act.Units < 0 {
			tx.Class = models.ClassSell
		} else {
			tx.Class = models.ClassCover
		}
		tx.OptionExpired = true
	case "DIVIDEND":
		tx.Class = models.ClassDividend
		tx.Amount = act.Amount
		flow := n.flowEvent(accountRef, act, eventTime, models.FlowDividend)
		return &tx, flow, nil
	case "FEE":
		tx.Class = models.ClassFee
		tx.Amount = act.Amount
		flow := n.flowEvent(accountRef, act, eventTime, models.FlowFee)
		return &tx, flow, nil
	case "CONTRIBUTION":
		tx.Class = models.ClassTransfer
		tx.Amount = act.Amount
		flow := n.flowEvent(accountRef, act, eventTime, models.FlowContribution)
		return &tx, flow, nil
	case "WITHDRAWAL":
		tx.Class = models.ClassTransfer
		tx.Amount = act.Amount
		flow := n.flowEvent(accountRef, act, eventTime, models.FlowWithdrawal)
		return &tx, flow, nil
	case "TRANSFER":
		tx.Class = models.ClassTransfer
		tx.Amount = act.Amount
		flow := n.flowEvent(accountRef, act, eventTime, models.FlowTransfer)
		return &tx, flow, nil
	default:
		return nil, nil, fmt.Errorf("unmapped snaptrade activity type %q", act.Type)
	}

	tx.Quantity = math.Abs(act.Units)
	tx.Price = math.Abs(act.Price)
	tx.Fee = math.Abs(act.Fee)
	tx.Amount = act.Amount

	n.applyOptionMetadata(&tx, act)
	return &tx, nil, nil
}

// applyOptionMetadata uses the structured option_symbol block when present;
// description-text matching is the explicit last resort. Option prices are
// always per-contract, computed from the signed cashflow rather than the raw
// per-share premium SnapTrade reports.
func (n *Normalizer) applyOptionMetadata(tx *models.CanonicalTransaction, act activity) {
	if act.OptionSymbol != nil {
		exp, err := time.Parse("2006-01-02", act.OptionSymbol.ExpirationDate)
		if err != nil {
			return
		}
		underlying := act.OptionSymbol.Ticker
		if act.OptionSymbol.UnderlyingSymbol != nil {
			underlying = act.OptionSymbol.UnderlyingSymbol.Symbol
		}
		tx.IsOption = true
		tx.NormalizedSymbol = utils.OptionSymbol(underlying, act.OptionSymbol.OptionType, act.OptionSymbol.StrikePrice, exp)
		n.applyContractPrice(tx, act)
		return
	}

	if underlying, optType, strike, exp, ok := utils.ParseOptionDescription(act.Description); ok {
		tx.IsOption = true
		tx.NormalizedSymbol = utils.OptionSymbol(underlying, optType, strike, exp)
		n.applyContractPrice(tx, act)
	}
}

func (n *Normalizer) applyContractPrice(tx *models.CanonicalTransaction, act activity) {
	if tx.OptionExpired {
		tx.Price = 0
		return
	}
	if tx.Quantity > 0 {
		tx.Price = math.Abs(act.Amount / act.Units)
	}
}

func (n *Normalizer) flowEvent(accountRef string, act activity, eventTime time.Time, ft models.FlowType) *models.FlowEvent {
	return &models.FlowEvent{
		Provider:       models.ProviderSnapTrade,
		AccountRef:     accountRef,
		FlowType:       ft,
		IsExternalFlow: ft == models.FlowContribution || ft == models.FlowWithdrawal,
		EventTime:      eventTime,
		Amount:         act.Amount,
		Currency:       act.Currency.Code,
		ProviderTxID:   act.ID,
		RawText:        act.Description,
	}
}

// groupKey buckets activities that are indistinguishable by their canonical
// identity fields; only twins inside one bucket consume ordinals.
func groupKey(act activity) string {
	sym := ""
	if act.Symbol != nil {
		sym = strings.ToUpper(strings.TrimSpace(act.Symbol.Symbol))
	}
	return act.TradeDate + "|" + strings.ToUpper(act.Type) + "|" + sym
}

// parseTradeDate accepts the timestamp formats SnapTrade has been seen to
// emit: full RFC3339 and bare dates.
func parseTradeDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("could not parse snaptrade trade_date '%s'", s)
}
