// backend/src/models/flow.go
package models

import "time"

// FlowType classifies a normalized cash-movement record.
type FlowType string

const (
	FlowContribution FlowType = "contribution"
	FlowWithdrawal   FlowType = "withdrawal"
	FlowFee          FlowType = "fee"
	FlowTransfer     FlowType = "transfer"
	FlowDividend     FlowType = "dividend"
)

// FlowEvent is one normalized external-flow or cash-movement record.
// Only contributions and withdrawals count as external capital movement.
type FlowEvent struct {
	Provider       Provider  `json:"provider"`
	AccountRef     string    `json:"account_ref"`
	FlowType       FlowType  `json:"flow_type"`
	IsExternalFlow bool      `json:"is_external_flow"`
	EventTime      time.Time `json:"event_time"`
	Amount         float64   `json:"amount"` // signed: contributions positive, withdrawals negative
	Currency       string    `json:"currency"`
	ProviderTxID   string    `json:"provider_tx_id,omitempty"`
	Inferred       bool      `json:"inferred"`      // estimated, not observed
	Authoritative  bool      `json:"authoritative"` // came from an authoritative slice
	RawText        string    `json:"raw_text,omitempty"`
}

// FetchMetadata describes one provider/account fetch slice. It is the single
// source of truth the flow composer uses to decide whether the slice's flow
// events are authoritative.
type FetchMetadata struct {
	Provider             Provider  `json:"provider"`
	AccountRef           string    `json:"account_ref"`
	FetchWindowStart     time.Time `json:"fetch_window_start"`
	FetchWindowEnd       time.Time `json:"fetch_window_end"`
	PayloadCoverageStart time.Time `json:"payload_coverage_start"`
	PayloadCoverageEnd   time.Time `json:"payload_coverage_end"`
	// PaginationExhausted is true only when completion is proven (the
	// declared total was reached), never inferred from an empty page.
	PaginationExhausted bool   `json:"pagination_exhausted"`
	PartialData         bool   `json:"partial_data"`
	FetchError          string `json:"fetch_error,omitempty"`
	RowCount            int    `json:"row_count"`
}

// Authoritative reports whether this slice's flow events may be applied
// directly to the composed timeline rather than falling back to inference.
func (m FetchMetadata) Authoritative() bool {
	return m.FetchError == "" && !m.PartialData && m.PaginationExhausted
}
