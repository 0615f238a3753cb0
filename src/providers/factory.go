// backend/src/providers/factory.go
package providers

import (
	"fmt"

	"github.com/username/ledgerfolio/backend/src/models"
	"github.com/username/ledgerfolio/backend/src/providers/ibkr"
	"github.com/username/ledgerfolio/backend/src/providers/plaid"
	"github.com/username/ledgerfolio/backend/src/providers/snaptrade"
)

func GetNormalizer(provider models.Provider) (Normalizer, error) {
	switch provider {
	case models.ProviderPlaid:
		return plaid.NewNormalizer(), nil
	case models.ProviderSnapTrade:
		return snaptrade.NewNormalizer(), nil
	case models.ProviderIBKR:
		return ibkr.NewNormalizer(), nil
	default:
		return nil, fmt.Errorf("no normalizer available for provider: %s", provider)
	}
}
