// backend/src/matcher/matcher.go
package matcher

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/username/ledgerfolio/backend/src/logger"
	"github.com/username/ledgerfolio/backend/src/models"
	"github.com/username/ledgerfolio/backend/src/utils"
)

// lotKey is the unit of isolation: no cross-key interaction ever occurs.
// Options carry a synthesized symbol, so they never collide with their
// underlying here.
type lotKey struct {
	Symbol    string
	Currency  string
	Direction models.TradeDirection
}

// Options configures a matching pass.
type Options struct {
	// Holdings seeds synthetic opening lots for closing transactions that
	// would otherwise be incomplete (pre-history positions).
	Holdings []models.Holding
}

// Result is everything one matching pass produces.
type Result struct {
	CompletedTrades  []models.CompletedTrade
	OpenLots         []models.OpenLot
	IncompleteTrades []models.IncompleteTrade
	Warnings         []models.RowWarning
}

// Matcher consumes canonical transactions in deterministic order, opening and
// closing FIFO lots per (symbol, currency, direction) key. It exclusively
// owns lot state for the duration of a pass.
type Matcher struct {
	entropy *rand.Rand
}

func New() *Matcher {
	return &Matcher{entropy: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Match runs one deterministic pass over the batch. The same input set always
// produces the same completed trades; once a key starts matching it runs to
// completion for that key.
func (m *Matcher) Match(txs []models.CanonicalTransaction, opts Options) Result {
	var res Result

	byKey := make(map[lotKey][]models.CanonicalTransaction)
	var keys []lotKey
	for _, tx := range txs {
		if !tx.Class.IsTrade() {
			continue
		}
		if w, ok := m.validate(tx); !ok {
			res.Warnings = append(res.Warnings, w)
			continue
		}
		k := keyFor(tx)
		if _, seen := byKey[k]; !seen {
			keys = append(keys, k)
		}
		byKey[k] = append(byKey[k], tx)
	}

	// Deterministic key order so trade IDs and output ordering are stable.
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Symbol != keys[j].Symbol {
			return keys[i].Symbol < keys[j].Symbol
		}
		if keys[i].Currency != keys[j].Currency {
			return keys[i].Currency < keys[j].Currency
		}
		return keys[i].Direction < keys[j].Direction
	})

	for _, k := range keys {
		stream := byKey[k]
		sortStream(stream)
		m.matchKey(k, stream, opts, &res)
	}
	return res
}

// validate isolates data-quality failures to the single offending row.
// Zero price is permitted exclusively on closing transactions flagged as
// option expirations.
func (m *Matcher) validate(tx models.CanonicalTransaction) (models.RowWarning, bool) {
	if tx.Quantity < 0 {
		return rowWarning(models.WarnNegativeQuantity, tx, fmt.Sprintf("negative quantity %f", tx.Quantity)), false
	}
	if tx.Quantity == 0 {
		return rowWarning(models.WarnUnparseableRow, tx, "zero quantity on trade transaction"), false
	}
	if tx.Price < 0 {
		return rowWarning(models.WarnZeroPrice, tx, fmt.Sprintf("negative price %f", tx.Price)), false
	}
	if tx.Price == 0 && !(tx.Class.IsClosing() && tx.OptionExpired) {
		return rowWarning(models.WarnZeroPrice, tx, "zero price on non-expiration transaction"), false
	}
	return models.RowWarning{}, true
}

// matchKey processes one key's stream start to finish: opens push lots to the
// FIFO tail, closes consume from the head, spilling across lots until the
// closing quantity is exhausted.
func (m *Matcher) matchKey(k lotKey, stream []models.CanonicalTransaction, opts Options, res *Result) {
	var queue []*models.OpenLot

	if lot := m.syntheticLot(k, opts.Holdings, stream); lot != nil {
		queue = append(queue, lot)
	}

	for _, tx := range stream {
		if tx.Class.IsOpening() {
			queue = append(queue, &models.OpenLot{
				Symbol:           k.Symbol,
				Currency:         k.Currency,
				Direction:        k.Direction,
				OriginalQuantity: tx.Quantity,
				RemainingQty:     tx.Quantity,
				EntryPrice:       tx.Price,
				EntryTime:        tx.EventTime,
				EntryFee:         tx.Fee,
				SourceTxRef:      tx.IdentityKey,
			})
			continue
		}

		queue = m.consume(k, tx, queue, res)
	}

	for _, lot := range queue {
		if lot.RemainingQty > 0 {
			res.OpenLots = append(res.OpenLots, *lot)
		}
	}
}

// consume draws the closing transaction's quantity from the head of the FIFO
// queue. One completed trade aggregates every lot this close consumed, with a
// quantity-weighted entry price. Entry and exit fees are summed separately
// and never netted into price.
func (m *Matcher) consume(k lotKey, tx models.CanonicalTransaction, queue []*models.OpenLot, res *Result) []*models.OpenLot {
	remaining := tx.Quantity

	var (
		consumedQty  float64
		entryCost    float64 // sum(entryPrice * qty drawn) for weighting
		entryFees    float64
		entryTime    time.Time
		entryRefs    []string
		anySynthetic bool
	)

	for remaining > 0 && len(queue) > 0 {
		lot := queue[0]
		matched := utils.MinFloat(remaining, lot.RemainingQty)

		if consumedQty == 0 {
			entryTime = lot.EntryTime
		}
		entryCost += lot.EntryPrice * matched
		// Entry fee prorated by the share of the lot this close consumed.
		entryFees += lot.EntryFee * (matched / lot.OriginalQuantity)
		entryRefs = append(entryRefs, lot.SourceTxRef)
		anySynthetic = anySynthetic || lot.Synthetic

		consumedQty += matched
		remaining -= matched
		lot.RemainingQty -= matched

		if lot.RemainingQty == 0 {
			queue = queue[1:]
		}
	}

	if consumedQty > 0 {
		// Exit fee prorated when only part of this close found lots.
		exitFee := tx.Fee * (consumedQty / tx.Quantity)
		res.CompletedTrades = append(res.CompletedTrades, m.buildTrade(k, tx, consumedQty, entryCost, entryFees, exitFee, entryTime, entryRefs, anySynthetic))
	}

	if remaining > 0 {
		// No opening transaction was ever observed for this remainder.
		// Retain it explicitly; it is eligible for later backfill.
		logger.L.Warn("closing transaction with insufficient open quantity",
			"symbol", k.Symbol, "direction", k.Direction, "unmatched", remaining, "exitTxRef", tx.IdentityKey)
		res.IncompleteTrades = append(res.IncompleteTrades, models.IncompleteTrade{
			Symbol:       k.Symbol,
			Currency:     k.Currency,
			Direction:    k.Direction,
			Quantity:     remaining,
			ExitPrice:    tx.Price,
			ExitTime:     tx.EventTime,
			ExitFee:      tx.Fee * (remaining / tx.Quantity),
			ExitTxRef:    tx.IdentityKey,
			OptionExpire: tx.OptionExpired,
		})
	}

	return queue
}

func (m *Matcher) buildTrade(k lotKey, exit models.CanonicalTransaction, qty, entryCost, entryFees, exitFee float64, entryTime time.Time, entryRefs []string, synthetic bool) models.CompletedTrade {
	weightedEntry := entryCost / qty
	pnl := (exit.Price-weightedEntry)*qty*k.Direction.Sign() - entryFees - exitFee

	pnlPct := 0.0
	if basis := weightedEntry * qty; basis != 0 {
		pnlPct = pnl / basis * 100
	}

	return models.CompletedTrade{
		ID:                 ulid.MustNew(ulid.Timestamp(exit.EventTime), m.entropy).String(),
		Symbol:             k.Symbol,
		Currency:           k.Currency,
		Direction:          k.Direction,
		EntryQuantity:      qty,
		WeightedEntryPrice: weightedEntry,
		EntryTime:          entryTime,
		ExitQuantity:       qty,
		WeightedExitPrice:  exit.Price,
		ExitTime:           exit.EventTime,
		EntryFeeTotal:      entryFees,
		ExitFeeTotal:       exitFee,
		DaysHeld:           utils.DaysBetween(entryTime, exit.EventTime),
		PnLAmount:          pnl,
		PnLPercent:         pnlPct,
		Win:                pnl > 0,
		OptionExpired:      exit.OptionExpired,
		Synthetic:          synthetic,
		EntryTxRefs:        entryRefs,
		ExitTxRef:          exit.IdentityKey,
	}
}

// syntheticLot manufactures an opening lot from a known current holding when
// the stream starts with more closing than opening quantity. The lot is
// explicitly marked synthetic so downstream consumers can tell it apart from
// observed history.
func (m *Matcher) syntheticLot(k lotKey, holdings []models.Holding, stream []models.CanonicalTransaction) *models.OpenLot {
	var holding *models.Holding
	for i := range holdings {
		h := holdings[i]
		if h.Symbol == k.Symbol && h.Currency == k.Currency && h.Direction == k.Direction && h.Quantity > 0 {
			holding = &h
			break
		}
	}
	if holding == nil {
		return nil
	}

	var opens, closes float64
	for _, tx := range stream {
		if tx.Class.IsOpening() {
			opens += tx.Quantity
		} else {
			closes += tx.Quantity
		}
	}
	if closes <= opens {
		return nil
	}

	qty := utils.MinFloat(closes-opens, holding.Quantity)
	logger.L.Info("seeding synthetic opening lot from known holding",
		"symbol", k.Symbol, "direction", k.Direction, "quantity", qty)
	return &models.OpenLot{
		Symbol:           k.Symbol,
		Currency:         k.Currency,
		Direction:        k.Direction,
		OriginalQuantity: qty,
		RemainingQty:     qty,
		EntryPrice:       holding.CostBasis,
		EntryTime:        holding.AsOf,
		SourceTxRef:      "synthetic:" + k.Symbol,
		Synthetic:        true,
	}
}

// sortStream orders a key's transactions by event time ascending. At an
// identical timestamp opening transactions sort before closing ones, so a
// same-instant close is never misreported as incomplete; the tiebreaker
// settles the rest.
func sortStream(stream []models.CanonicalTransaction) {
	sort.SliceStable(stream, func(i, j int) bool {
		a, b := stream[i], stream[j]
		if !a.EventTime.Equal(b.EventTime) {
			return a.EventTime.Before(b.EventTime)
		}
		if a.Class.IsOpening() != b.Class.IsOpening() {
			return a.Class.IsOpening()
		}
		return a.Tiebreaker < b.Tiebreaker
	})
}

func keyFor(tx models.CanonicalTransaction) lotKey {
	dir := models.DirectionLong
	if tx.Class == models.ClassShort || tx.Class == models.ClassCover {
		dir = models.DirectionShort
	}
	return lotKey{Symbol: tx.MatchSymbol(), Currency: tx.Currency, Direction: dir}
}

func rowWarning(kind models.WarningKind, tx models.CanonicalTransaction, detail string) models.RowWarning {
	return models.RowWarning{
		Kind:        kind,
		Provider:    tx.Provider,
		AccountRef:  tx.AccountRef,
		IdentityKey: tx.IdentityKey,
		Symbol:      tx.MatchSymbol(),
		Detail:      detail,
	}
}
