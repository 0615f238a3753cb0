package ibkr

import (
	"encoding/xml"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/username/ledgerfolio/backend/src/models"
	"github.com/username/ledgerfolio/backend/src/utils"
)

// --- IBKR Flex Query XML structures ---

type flexQueryResponse struct {
	XMLName        xml.Name        `xml:"FlexQueryResponse"`
	FlexStatements []flexStatement `xml:"FlexStatements>FlexStatement"`
}

type flexStatement struct {
	AccountID        string            `xml:"accountId,attr"`
	Trades           []trade           `xml:"Trades>Trade"`
	CashTransactions []cashTransaction `xml:"CashTransactions>CashTransaction"`
}

type trade struct {
	TransactionID string  `xml:"transactionID,attr"`
	AssetCategory string  `xml:"assetCategory,attr"`
	Symbol        string  `xml:"symbol,attr"`
	Description   string  `xml:"description,attr"`
	UnderlyingSym string  `xml:"underlyingSymbol,attr"`
	DateTime      string  `xml:"dateTime,attr"`
	Quantity      float64 `xml:"quantity,attr"`
	TradePrice    float64 `xml:"tradePrice,attr"`
	TradeMoney    float64 `xml:"tradeMoney,attr"`
	Currency      string  `xml:"currency,attr"`
	Exchange      string  `xml:"exchange,attr"`
	IBCommission  float64 `xml:"ibCommission,attr"`
	BuySell       string  `xml:"buySell,attr"`
	OpenCloseInd  string  `xml:"openCloseIndicator,attr"` // "O" | "C"
	PutCall       string  `xml:"putCall,attr"`
	Strike        float64 `xml:"strike,attr"`
	Expiry        string  `xml:"expiry,attr"`
	Multiplier    float64 `xml:"multiplier,attr"`
}

type cashTransaction struct {
	TransactionID string  `xml:"transactionID,attr"`
	Type          string  `xml:"type,attr"`
	Description   string  `xml:"description,attr"`
	DateTime      string  `xml:"dateTime,attr"`
	Amount        float64 `xml:"amount,attr"`
	Currency      string  `xml:"currency,attr"`
	LevelOfDetail string  `xml:"levelOfDetail,attr"`
	Symbol        string  `xml:"symbol,attr"`
}

// Normalizer converts IBKR Flex Query XML into canonical records. IBKR
// transaction ids are immutable, so identity keys hash the id directly.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

func (n *Normalizer) Normalize(accountRef string, body []byte, meta models.FetchMetadata) ([]models.CanonicalTransaction, []models.FlowEvent, []models.RowWarning, error) {
	var response flexQueryResponse
	if err := xml.Unmarshal(body, &response); err != nil {
		return nil, nil, nil, fmt.Errorf("ibkr normalizer: failed to decode XML: %w", err)
	}

	var (
		txs      []models.CanonicalTransaction
		flows    []models.FlowEvent
		warnings []models.RowWarning
	)

	for _, stmt := range response.FlexStatements {
		account := accountRef
		if account == "" {
			account = stmt.AccountID
		}

		for _, tr := range stmt.Trades {
			// Internal currency exchanges are not position trades.
			if tr.Exchange == "IDEALFX" {
				continue
			}
			tx, err := n.processTrade(account, tr)
			if err != nil {
				warnings = append(warnings, models.RowWarning{
					Kind:       models.WarnUnparseableRow,
					Provider:   models.ProviderIBKR,
					AccountRef: account,
					Symbol:     tr.Symbol,
					Detail:     err.Error(),
				})
				continue
			}
			txs = append(txs, tx)
		}

		for _, cashTx := range stmt.CashTransactions {
			// Only DETAIL rows; summary rows would double-count.
			if cashTx.LevelOfDetail != "DETAIL" {
				continue
			}
			tx, flow, err := n.processCash(account, cashTx)
			if err != nil {
				warnings = append(warnings, models.RowWarning{
					Kind:       models.WarnUnparseableRow,
					Provider:   models.ProviderIBKR,
					AccountRef: account,
					Symbol:     cashTx.Symbol,
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
	}

	return txs, flows, warnings, nil
}

func (n *Normalizer) processTrade(account string, tr trade) (models.CanonicalTransaction, error) {
	eventTime, err := parseDateTime(tr.DateTime)
	if err != nil {
		return models.CanonicalTransaction{}, err
	}

	class, err := classifyTrade(tr)
	if err != nil {
		return models.CanonicalTransaction{}, err
	}

	tx := models.CanonicalTransaction{
		Provider:     models.ProviderIBKR,
		AccountRef:   account,
		Symbol:       strings.ToUpper(strings.TrimSpace(tr.Symbol)),
		Class:        class,
		EventTime:    eventTime,
		DateLocal:    eventTime.Format("2006-01-02"),
		Quantity:     math.Abs(tr.Quantity),
		Price:        tr.TradePrice,
		Fee:          math.Abs(tr.IBCommission),
		Amount:       -tr.TradeMoney, // tradeMoney is positive for buys (cost); our buys are negative cashflow
		Currency:     tr.Currency,
		ProviderTxID: tr.TransactionID,
		RawText:      fmt.Sprintf("%s %f %s @ %f", tr.BuySell, tr.Quantity, tr.Symbol, tr.TradePrice),
	}

	if tr.AssetCategory == "OPT" {
		exp, err := time.Parse("20060102", tr.Expiry)
		if err != nil {
			return models.CanonicalTransaction{}, fmt.Errorf("could not parse option expiry '%s': %w", tr.Expiry, err)
		}
		optType := "CALL"
		if tr.PutCall == "P" {
			optType = "PUT"
		}
		underlying := tr.UnderlyingSym
		if underlying == "" {
			underlying = tr.Symbol
		}
		tx.IsOption = true
		tx.NormalizedSymbol = utils.OptionSymbol(underlying, optType, tr.Strike, exp)
		if tx.Quantity > 0 {
			// Per-contract price from the cashflow, not the per-share premium.
			tx.Price = math.Abs(tr.TradeMoney / tr.Quantity)
		}
	}

	return tx, nil
}

// classifyTrade maps IBKR's buySell plus open/close indicator onto the
// canonical class: a SELL that opens is a short sale, a BUY that closes is a
// cover.
func classifyTrade(tr trade) (models.TransactionClass, error) {
	buySell := strings.ToUpper(tr.BuySell)
	opening := strings.ToUpper(tr.OpenCloseInd) != "C"

	switch buySell {
	case "BUY":
		if opening {
			return models.ClassBuy, nil
		}
		return models.ClassCover, nil
	case "SELL":
		if opening {
			return models.ClassShort, nil
		}
		return models.ClassSell, nil
	}
	return "", fmt.Errorf("unmapped ibkr buySell %q", tr.BuySell)
}

func (n *Normalizer) processCash(account string, cashTx cashTransaction) (*models.CanonicalTransaction, *models.FlowEvent, error) {
	eventTime, err := parseDateTime(cashTx.DateTime)
	if err != nil {
		return nil, nil, err
	}

	var (
		class models.TransactionClass
		ft    models.FlowType
	)
	switch cashTx.Type {
	case "Dividends", "Payment In Lieu Of Dividends":
		class, ft = models.ClassDividend, models.FlowDividend
	case "Deposits/Withdrawals":
		class = models.ClassTransfer
		if cashTx.Amount >= 0 {
			ft = models.FlowContribution
		} else {
			ft = models.FlowWithdrawal
		}
	case "Other Fees", "Broker Interest Paid":
		class, ft = models.ClassFee, models.FlowFee
	default:
		return nil, nil, fmt.Errorf("unmapped ibkr cash transaction type %q", cashTx.Type)
	}

	tx := &models.CanonicalTransaction{
		Provider:     models.ProviderIBKR,
		AccountRef:   account,
		Symbol:       strings.ToUpper(strings.TrimSpace(cashTx.Symbol)),
		Class:        class,
		EventTime:    eventTime,
		DateLocal:    eventTime.Format("2006-01-02"),
		Amount:       cashTx.Amount,
		Currency:     cashTx.Currency,
		ProviderTxID: cashTx.TransactionID,
		RawText:      cashTx.Description,
	}
	flow := &models.FlowEvent{
		Provider:       models.ProviderIBKR,
		AccountRef:     account,
		FlowType:       ft,
		IsExternalFlow: ft == models.FlowContribution || ft == models.FlowWithdrawal,
		EventTime:      eventTime,
		Amount:         cashTx.Amount,
		Currency:       cashTx.Currency,
		ProviderTxID:   cashTx.TransactionID,
		RawText:        cashTx.Description,
	}
	return tx, flow, nil
}

// parseDateTime converts IBKR's "YYYYMMDD;HHMMSS" format (time part
// optional) to a UTC instant.
func parseDateTime(datetime string) (time.Time, error) {
	layout := "20060102;150405"
	if !strings.Contains(datetime, ";") {
		layout = "20060102"
	}
	t, err := time.Parse(layout, datetime)
	if err != nil {
		return time.Time{}, fmt.Errorf("could not parse ibkr datetime '%s': %w", datetime, err)
	}
	return t.UTC(), nil
}
