// backend/src/identity/identity.go
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/ledgerfolio/backend/src/models"
)

// numericSentinel is hashed in place of a missing numeric field. Serializing
// missing values as zero would make a genuinely-zero field and an absent
// field hash equal.
const numericSentinel = "-"

// numericPrecision is the fixed number of decimal places every numeric field
// is formatted to before hashing.
const numericPrecision = 8

// Compute fills IdentityKey, ContentHash and Tiebreaker on the transaction
// and returns the updated copy. The identity key is stable across re-fetches;
// the content hash covers only the mutable economic fields.
func Compute(tx models.CanonicalTransaction) models.CanonicalTransaction {
	if tx.Tiebreaker == "" {
		tx.Tiebreaker = deriveTiebreaker(tx.EventTime)
	}
	tx.IdentityKey = identityKey(tx)
	tx.ContentHash = ContentHash(tx)
	return tx
}

// identityKey prefers a provider-issued immutable transaction id. Providers
// with unstable ids (SnapTrade) fall back to canonicalized immutable
// attributes; that fallback is best effort, not guaranteed unique.
func identityKey(tx models.CanonicalTransaction) string {
	if tx.ProviderTxID != "" && stableProviderIDs(tx.Provider) {
		return hashFields(string(tx.Provider), tx.ProviderTxID)
	}
	return hashFields(
		string(tx.Provider),
		tx.AccountRef,
		canonicalDate(tx.DateLocal, tx.EventTime),
		canonicalSymbol(tx),
		string(tx.Class),
		tx.Tiebreaker,
	)
}

// ContentHash digests the mutable economic fields: quantity, price, fee,
// amount. A change on a known identity signals a broker-side correction.
func ContentHash(tx models.CanonicalTransaction) string {
	// Quantity and price do not exist on non-trade classes (dividends, fees,
	// transfers); those hash as the sentinel rather than a false zero.
	noQtyPrice := !tx.Class.IsTrade()
	return hashFields(
		canonicalNumber(tx.Quantity, noQtyPrice),
		canonicalNumber(tx.Price, noQtyPrice),
		canonicalNumber(tx.Fee, false),
		canonicalNumber(tx.Amount, false),
	)
}

// stableProviderIDs reports whether the provider's transaction ids survive
// re-fetches unchanged. SnapTrade's do not.
func stableProviderIDs(p models.Provider) bool {
	return p != models.ProviderSnapTrade
}

func canonicalDate(dateLocal string, eventTime time.Time) string {
	if dateLocal != "" {
		return dateLocal
	}
	return eventTime.UTC().Format("2006-01-02")
}

// canonicalSymbol uppercases and trims the raw symbol, falling back to the
// internal security id when the symbol is absent.
func canonicalSymbol(tx models.CanonicalTransaction) string {
	s := strings.ToUpper(strings.TrimSpace(tx.Symbol))
	if s == "" {
		s = strings.ToUpper(strings.TrimSpace(tx.SecurityID))
	}
	return s
}

// canonicalNumber formats a numeric field with fixed decimal precision.
// Missing values serialize to the sentinel token, never to zero.
func canonicalNumber(v float64, missing bool) string {
	if missing {
		return numericSentinel
	}
	return decimal.NewFromFloat(v).StringFixed(numericPrecision)
}

// deriveTiebreaker disambiguates economically-identical events in the same
// instant using the most precise available timestamp. Callers that know a
// finer ordinal (e.g. the row index within an identical instant) set the
// tiebreaker themselves before Compute.
func deriveTiebreaker(t time.Time) string {
	return fmt.Sprintf("%d", t.UTC().UnixNano())
}

func hashFields(fields ...string) string {
	h := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(h[:])
}
