package providers

import (
	"github.com/username/ledgerfolio/backend/src/models"
)

// RawPayload is one provider/account slice of raw bytes plus the fetch
// metadata the ingestion layer recorded while retrieving it.
type RawPayload struct {
	Provider   models.Provider
	AccountRef string
	Body       []byte
	Metadata   models.FetchMetadata
}

// Normalizer maps one provider's raw payload shape into canonical records.
// Canonical transactions feed the matcher; flow events feed the composer,
// gated by the same fetch metadata. Everything past this boundary only ever
// sees the canonical types.
type Normalizer interface {
	Normalize(accountRef string, body []byte, meta models.FetchMetadata) ([]models.CanonicalTransaction, []models.FlowEvent, []models.RowWarning, error)
}
