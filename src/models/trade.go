// backend/src/models/trade.go
package models

import "time"

// TradeDirection is the side of a lot-matching key. BUY/SELL trade on the
// long key, SHORT/COVER on the short key; the two never interact.
type TradeDirection string

const (
	DirectionLong  TradeDirection = "long"
	DirectionShort TradeDirection = "short"
)

// Sign returns +1 for long and -1 for short, the multiplier applied to
// (exit - entry) when computing P&L.
func (d TradeDirection) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// OpenLot is one still-open entry tranche, consumed oldest-first by later
// closing transactions on the same (symbol, currency, direction) key.
type OpenLot struct {
	Symbol           string         `json:"symbol"`
	Currency         string         `json:"currency"`
	Direction        TradeDirection `json:"direction"`
	OriginalQuantity float64        `json:"original_quantity"`
	RemainingQty     float64        `json:"remaining_quantity"` // 0 < remaining <= original
	EntryPrice       float64        `json:"entry_price"`
	EntryTime        time.Time      `json:"entry_time"`
	EntryFee         float64        `json:"entry_fee"`
	SourceTxRef      string         `json:"source_transaction_ref"` // identity key of the opening transaction
	Synthetic        bool           `json:"synthetic"`              // inferred from a known holding, not observed
}

// CompletedTrade is one fully-closed matched position: one closing
// transaction aggregated against every lot it consumed. By definition
// EntryQuantity == ExitQuantity; partially closed lots stay open.
type CompletedTrade struct {
	ID                 string         `json:"id"` // surrogate ULID
	Symbol             string         `json:"symbol"`
	Currency           string         `json:"currency"`
	Direction          TradeDirection `json:"direction"`
	EntryQuantity      float64        `json:"entry_quantity"`
	WeightedEntryPrice float64        `json:"weighted_entry_price"`
	EntryTime          time.Time      `json:"entry_time"` // first consumed lot's entry
	ExitQuantity       float64        `json:"exit_quantity"`
	WeightedExitPrice  float64        `json:"weighted_exit_price"`
	ExitTime           time.Time      `json:"exit_time"`
	EntryFeeTotal      float64        `json:"entry_fee_total"`
	ExitFeeTotal       float64        `json:"exit_fee_total"`
	DaysHeld           int            `json:"days_held"`
	PnLAmount          float64        `json:"pnl_amount"`
	PnLPercent         float64        `json:"pnl_percent"`
	Win                bool           `json:"win_flag"`
	OptionExpired      bool           `json:"option_expired"`
	Synthetic          bool           `json:"synthetic"` // any consumed lot was synthetic
	EntryTxRefs        []string       `json:"entry_transaction_refs"`
	ExitTxRef          string         `json:"exit_transaction_ref"`
}

// IncompleteTrade is a closing transaction (or the remainder of one) that
// found no open lot to match, typically a pre-history position. It is kept
// for later backfill, never dropped and never faked into a completed trade.
type IncompleteTrade struct {
	Symbol       string         `json:"symbol"`
	Currency     string         `json:"currency"`
	Direction    TradeDirection `json:"direction"`
	Quantity     float64        `json:"quantity"` // unmatched remainder
	ExitPrice    float64        `json:"exit_price"`
	ExitTime     time.Time      `json:"exit_time"`
	ExitFee      float64        `json:"exit_fee"`
	ExitTxRef    string         `json:"exit_transaction_ref"`
	OptionExpire bool           `json:"option_expired"`
}

// Holding is a known current position, used to seed a synthetic opening lot
// when no historical opening transaction was ever observed.
type Holding struct {
	Symbol    string         `json:"symbol"`
	Currency  string         `json:"currency"`
	Direction TradeDirection `json:"direction"`
	Quantity  float64        `json:"quantity"`
	CostBasis float64        `json:"cost_basis"` // per-unit, zero when unknown
	AsOf      time.Time      `json:"as_of"`
}
