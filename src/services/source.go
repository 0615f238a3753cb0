// backend/src/services/source.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/username/ledgerfolio/backend/src/logger"
	"github.com/username/ledgerfolio/backend/src/models"
	"github.com/username/ledgerfolio/backend/src/providers"
)

// FileSource is a ProviderSource that reads raw payload exports dropped on
// disk, one file per provider/account slice: "<provider>_<account>.json"
// (".xml" for IBKR). An optional "<provider>_<account>.meta.json" sidecar
// carries the fetch metadata the ingestion job recorded; without one the
// file is treated as a complete export.
type FileSource struct {
	BaseDir string
}

func NewFileSource(baseDir string) *FileSource {
	return &FileSource{BaseDir: baseDir}
}

func (s *FileSource) Fetch(ctx context.Context, req SliceRequest) (providers.RawPayload, error) {
	if err := ctx.Err(); err != nil {
		return providers.RawPayload{}, err
	}

	ext := ".json"
	if req.Provider == models.ProviderIBKR {
		ext = ".xml"
	}
	base := fmt.Sprintf("%s_%s", req.Provider, req.AccountRef)
	path := filepath.Join(s.BaseDir, base+ext)

	body, err := os.ReadFile(path)
	if err != nil {
		return providers.RawPayload{}, fmt.Errorf("reading payload for %s/%s: %w", req.Provider, req.AccountRef, err)
	}

	meta := models.FetchMetadata{
		Provider:            req.Provider,
		AccountRef:          req.AccountRef,
		PaginationExhausted: true, // a dropped export file is complete by construction
	}
	if sidecar, err := os.ReadFile(filepath.Join(s.BaseDir, base+".meta.json")); err == nil {
		if err := json.Unmarshal(sidecar, &meta); err != nil {
			logger.L.Warn("ignoring malformed metadata sidecar", "path", base+".meta.json", "error", err)
		}
	}

	return providers.RawPayload{
		Provider:   req.Provider,
		AccountRef: req.AccountRef,
		Body:       body,
		Metadata:   meta,
	}, nil
}
