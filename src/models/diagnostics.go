// backend/src/models/diagnostics.go
package models

import "time"

// WarningKind buckets per-row problems surfaced by a reconciliation run.
type WarningKind string

const (
	WarnZeroPrice        WarningKind = "zero_price"
	WarnMalformedDate    WarningKind = "malformed_date"
	WarnUnparseableRow   WarningKind = "unparseable_row"
	WarnNegativeQuantity WarningKind = "negative_quantity"
	WarnUnknownClass     WarningKind = "unknown_class"
	// WarnCoverageGap flags a payload whose row count falls short of the
	// total the provider declared; the slice must be treated as partial.
	WarnCoverageGap WarningKind = "coverage_gap"
)

// RowWarning is a structured data-quality warning for one rejected row.
// One bad row never aborts the run.
type RowWarning struct {
	Kind        WarningKind `json:"kind"`
	Provider    Provider    `json:"provider"`
	AccountRef  string      `json:"account_ref,omitempty"`
	IdentityKey string      `json:"identity_key,omitempty"`
	Symbol      string      `json:"symbol,omitempty"`
	Detail      string      `json:"detail"`
}

// SliceStatus reports the authority outcome for one provider/account slice.
type SliceStatus struct {
	Provider      Provider `json:"provider"`
	AccountRef    string   `json:"account_ref"`
	Authoritative bool     `json:"authoritative"`
	Degraded      bool     `json:"degraded"` // fell back to inference
	Reason        string   `json:"reason,omitempty"`
	RowCount      int      `json:"row_count"`
}

// Diagnostics is the never-silent block attached to every run result: it
// enumerates excluded rows, corrections, incomplete trades and
// degraded-authority slices.
type Diagnostics struct {
	RunStarted       time.Time         `json:"run_started"`
	RunFinished      time.Time         `json:"run_finished"`
	RowsIngested     int               `json:"rows_ingested"`
	RowsExcluded     []RowWarning      `json:"rows_excluded"`
	Corrections      []CorrectionEvent `json:"corrections"`
	IncompleteTrades int               `json:"incomplete_trades"`
	Slices           []SliceStatus     `json:"slices"`
}
