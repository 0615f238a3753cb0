// backend/src/database/store.go
package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/username/ledgerfolio/backend/src/logger"
	"github.com/username/ledgerfolio/backend/src/models"
)

// UpsertOutcome reports what happened to one transaction on re-ingestion.
type UpsertOutcome int

const (
	OutcomeInserted  UpsertOutcome = iota // new identity
	OutcomeUnchanged                      // same identity, same content hash
	OutcomeCorrected                      // same identity, content hash changed
)

// Store is the transaction ledger plus derived record sets. It is the sole
// writer of stored transaction rows and enforces the (provider, identity_key)
// uniqueness invariant via upsert-by-identity, never blind insert.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertTransaction applies upsert-by-identity semantics: an unchanged row is
// a no-op, a changed content hash updates the row in place and returns the
// correction event, a new identity inserts. A uniqueness violation that
// survives this protocol is a structural contract violation and is returned
// as a fatal error.
func (s *Store) UpsertTransaction(tx models.CanonicalTransaction) (UpsertOutcome, *models.CorrectionEvent, error) {
	var (
		storedHash     string
		storedQuantity float64
		storedPrice    float64
		storedFee      float64
		storedAmount   float64
	)
	err := s.db.QueryRow(
		`SELECT content_hash, quantity, price, fee, amount FROM transactions WHERE provider = ? AND identity_key = ?`,
		tx.Provider, tx.IdentityKey,
	).Scan(&storedHash, &storedQuantity, &storedPrice, &storedFee, &storedAmount)

	switch {
	case err == sql.ErrNoRows:
		return s.insert(tx)
	case err != nil:
		return 0, nil, fmt.Errorf("error querying stored transaction: %w", err)
	}

	if storedHash == tx.ContentHash {
		return OutcomeUnchanged, nil, nil
	}

	// Correction: the broker re-reported the same transaction with different
	// economics. Update in place and log the delta; never duplicate, never
	// silently drop the old values.
	_, err = s.db.Exec(
		`UPDATE transactions SET content_hash = ?, quantity = ?, price = ?, fee = ?, amount = ? WHERE provider = ? AND identity_key = ?`,
		tx.ContentHash, tx.Quantity, tx.Price, tx.Fee, tx.Amount, tx.Provider, tx.IdentityKey,
	)
	if err != nil {
		return 0, nil, fmt.Errorf("error applying correction (identity %s): %w", tx.IdentityKey, err)
	}

	correction := &models.CorrectionEvent{
		Provider:    tx.Provider,
		IdentityKey: tx.IdentityKey,
		OldHash:     storedHash,
		NewHash:     tx.ContentHash,
		OldQuantity: storedQuantity,
		NewQuantity: tx.Quantity,
		OldPrice:    storedPrice,
		NewPrice:    tx.Price,
		OldFee:      storedFee,
		NewFee:      tx.Fee,
		OldAmount:   storedAmount,
		NewAmount:   tx.Amount,
		DetectedAt:  time.Now().UTC(),
	}
	logger.L.Info("applied broker correction",
		"provider", tx.Provider, "identityKey", tx.IdentityKey,
		"oldAmount", storedAmount, "newAmount", tx.Amount)
	return OutcomeCorrected, correction, nil
}

func (s *Store) insert(tx models.CanonicalTransaction) (UpsertOutcome, *models.CorrectionEvent, error) {
	_, err := s.db.Exec(
		`INSERT INTO transactions (provider, identity_key, content_hash, account_ref, symbol, normalized_symbol, security_id, transaction_class, event_time, date_local, timezone_assumed, quantity, price, fee, amount, currency, provider_tx_id, tiebreaker, is_option, option_expired, raw_text)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.Provider, tx.IdentityKey, tx.ContentHash, tx.AccountRef, tx.Symbol, tx.NormalizedSymbol, tx.SecurityID,
		tx.Class, tx.EventTime.UTC(), tx.DateLocal, tx.TimezoneAssumed,
		tx.Quantity, tx.Price, tx.Fee, tx.Amount, tx.Currency,
		tx.ProviderTxID, tx.Tiebreaker, tx.IsOption, tx.OptionExpired, tx.RawText,
	)
	if err != nil {
		// The select-then-insert protocol should have caught any duplicate;
		// a constraint failure here means the invariant itself is broken.
		return 0, nil, fmt.Errorf("structural contract violation inserting transaction (identity %s): %w", tx.IdentityKey, err)
	}
	return OutcomeInserted, nil, nil
}

// ListTransactions returns every stored transaction, the materialized input
// set for a reconciliation pass.
func (s *Store) ListTransactions() ([]models.CanonicalTransaction, error) {
	rows, err := s.db.Query(
		`SELECT provider, identity_key, content_hash, account_ref, symbol, normalized_symbol, security_id, transaction_class, event_time, date_local, timezone_assumed, quantity, price, fee, amount, currency, provider_tx_id, tiebreaker, is_option, option_expired, raw_text
		 FROM transactions ORDER BY event_time, identity_key`)
	if err != nil {
		return nil, fmt.Errorf("error listing transactions: %w", err)
	}
	defer rows.Close()

	var out []models.CanonicalTransaction
	for rows.Next() {
		var tx models.CanonicalTransaction
		var eventTime time.Time
		if err := rows.Scan(
			&tx.Provider, &tx.IdentityKey, &tx.ContentHash, &tx.AccountRef, &tx.Symbol, &tx.NormalizedSymbol, &tx.SecurityID,
			&tx.Class, &eventTime, &tx.DateLocal, &tx.TimezoneAssumed,
			&tx.Quantity, &tx.Price, &tx.Fee, &tx.Amount, &tx.Currency,
			&tx.ProviderTxID, &tx.Tiebreaker, &tx.IsOption, &tx.OptionExpired, &tx.RawText,
		); err != nil {
			return nil, fmt.Errorf("error scanning transaction: %w", err)
		}
		tx.EventTime = eventTime.UTC()
		out = append(out, tx)
	}
	return out, rows.Err()
}

// ReplaceDerived swaps in the derived record sets a reconciliation run
// produced. Derived records are recomputed whole each run, so the replace is
// atomic: everything inside one database transaction.
func (s *Store) ReplaceDerived(trades []models.CompletedTrade, lots []models.OpenLot, flowEvents []models.FlowEvent) error {
	dbTx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("error beginning derived-records transaction: %w", err)
	}
	defer dbTx.Rollback()

	for _, table := range []string{"completed_trades", "open_lots", "flow_events"} {
		if _, err := dbTx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("error clearing %s: %w", table, err)
		}
	}

	tradeStmt, err := dbTx.Prepare(
		`INSERT INTO completed_trades (id, symbol, currency, direction, entry_quantity, weighted_entry_price, entry_time, exit_quantity, weighted_exit_price, exit_time, entry_fee_total, exit_fee_total, days_held, pnl_amount, pnl_percent, win_flag, option_expired, synthetic, entry_transaction_refs, exit_transaction_ref)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("error preparing trade insert: %w", err)
	}
	defer tradeStmt.Close()
	for _, t := range trades {
		refs, _ := json.Marshal(t.EntryTxRefs)
		if _, err := tradeStmt.Exec(
			t.ID, t.Symbol, t.Currency, t.Direction, t.EntryQuantity, t.WeightedEntryPrice, t.EntryTime.UTC(),
			t.ExitQuantity, t.WeightedExitPrice, t.ExitTime.UTC(), t.EntryFeeTotal, t.ExitFeeTotal,
			t.DaysHeld, t.PnLAmount, t.PnLPercent, t.Win, t.OptionExpired, t.Synthetic, string(refs), t.ExitTxRef,
		); err != nil {
			return fmt.Errorf("error inserting completed trade %s: %w", t.ID, err)
		}
	}

	lotStmt, err := dbTx.Prepare(
		`INSERT INTO open_lots (symbol, currency, direction, original_quantity, remaining_quantity, entry_price, entry_time, entry_fee, source_transaction_ref, synthetic)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("error preparing lot insert: %w", err)
	}
	defer lotStmt.Close()
	for _, l := range lots {
		if _, err := lotStmt.Exec(
			l.Symbol, l.Currency, l.Direction, l.OriginalQuantity, l.RemainingQty,
			l.EntryPrice, l.EntryTime.UTC(), l.EntryFee, l.SourceTxRef, l.Synthetic,
		); err != nil {
			return fmt.Errorf("error inserting open lot (%s %s): %w", l.Symbol, l.Direction, err)
		}
	}

	flowStmt, err := dbTx.Prepare(
		`INSERT INTO flow_events (provider, account_ref, flow_type, is_external_flow, event_time, amount, currency, provider_tx_id, inferred, authoritative, raw_text)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("error preparing flow insert: %w", err)
	}
	defer flowStmt.Close()
	for _, f := range flowEvents {
		if _, err := flowStmt.Exec(
			f.Provider, f.AccountRef, f.FlowType, f.IsExternalFlow, f.EventTime.UTC(),
			f.Amount, f.Currency, f.ProviderTxID, f.Inferred, f.Authoritative, f.RawText,
		); err != nil {
			return fmt.Errorf("error inserting flow event: %w", err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("error committing derived records: %w", err)
	}
	return nil
}
