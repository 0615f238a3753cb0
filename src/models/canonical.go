// backend/src/models/canonical.go
package models

import "time"

// Provider identifies the brokerage data source a record came from.
type Provider string

const (
	ProviderPlaid     Provider = "plaid"
	ProviderSnapTrade Provider = "snaptrade"
	ProviderIBKR      Provider = "ibkr"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderPlaid, ProviderSnapTrade, ProviderIBKR:
		return true
	default:
		return false
	}
}

// TransactionClass is the normalized classification of a provider event.
// Direction is encoded here; Quantity is always a non-negative magnitude.
type TransactionClass string

const (
	ClassBuy      TransactionClass = "BUY"
	ClassSell     TransactionClass = "SELL"
	ClassShort    TransactionClass = "SHORT"
	ClassCover    TransactionClass = "COVER"
	ClassDividend TransactionClass = "DIVIDEND"
	ClassFee      TransactionClass = "FEE"
	ClassTransfer TransactionClass = "TRANSFER"
)

// IsOpening reports whether the class opens a position on its key
// (BUY opens long, SHORT opens short).
func (c TransactionClass) IsOpening() bool {
	return c == ClassBuy || c == ClassShort
}

// IsClosing reports whether the class closes a position on its key
// (SELL closes long, COVER closes short).
func (c TransactionClass) IsClosing() bool {
	return c == ClassSell || c == ClassCover
}

// IsTrade reports whether the class participates in lot matching at all.
func (c TransactionClass) IsTrade() bool {
	return c.IsOpening() || c.IsClosing()
}

// CanonicalTransaction is the unified representation every normalizer emits.
// The identity engine, matcher and composer only ever see this type; provider
// payload shapes stop at the normalization boundary.
type CanonicalTransaction struct {
	Provider         Provider         `json:"provider"`
	AccountRef       string           `json:"account_ref"`
	Symbol           string           `json:"symbol"`            // raw symbol as reported
	NormalizedSymbol string           `json:"normalized_symbol"` // options get a synthesized symbol
	SecurityID       string           `json:"security_id"`       // internal id, hashing fallback when the symbol is absent
	Class            TransactionClass `json:"transaction_class"`
	EventTime        time.Time        `json:"event_time"` // UTC instant
	DateLocal        string           `json:"date_local"` // YYYY-MM-DD in the institution's local day
	TimezoneAssumed  string           `json:"timezone_assumed,omitempty"`
	Quantity         float64          `json:"quantity"` // always >= 0
	Price            float64          `json:"price"`    // per-unit, >= 0; options per-contract
	Fee              float64          `json:"fee"`      // >= 0, never folded into Amount
	Amount           float64          `json:"amount"`   // signed cashflow: buys negative, sells positive
	Currency         string           `json:"currency"`
	ProviderTxID     string           `json:"provider_tx_id,omitempty"` // immutable provider id when one exists
	IdentityKey      string           `json:"identity_key"`
	ContentHash      string           `json:"content_hash"`
	Tiebreaker       string           `json:"correction_tiebreaker,omitempty"`
	IsOption         bool             `json:"is_option"`
	OptionExpired    bool             `json:"option_expired"`
	RawText          string           `json:"raw_text,omitempty"`
}

// MatchSymbol returns the symbol used for lot-matching keys: the synthesized
// option symbol when present, so options never collide with their underlying.
func (t CanonicalTransaction) MatchSymbol() string {
	if t.NormalizedSymbol != "" {
		return t.NormalizedSymbol
	}
	return t.Symbol
}

// CorrectionEvent records an in-place update of a stored transaction whose
// content hash changed on re-ingestion. Old economics are kept for audit.
type CorrectionEvent struct {
	Provider    Provider  `json:"provider"`
	IdentityKey string    `json:"identity_key"`
	OldHash     string    `json:"old_hash"`
	NewHash     string    `json:"new_hash"`
	OldQuantity float64   `json:"old_quantity"`
	NewQuantity float64   `json:"new_quantity"`
	OldPrice    float64   `json:"old_price"`
	NewPrice    float64   `json:"new_price"`
	OldFee      float64   `json:"old_fee"`
	NewFee      float64   `json:"new_fee"`
	OldAmount   float64   `json:"old_amount"`
	NewAmount   float64   `json:"new_amount"`
	DetectedAt  time.Time `json:"detected_at"`
}
