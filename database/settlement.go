/*
Copyright 2024 Lattice Payments Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/lattice-pay/lattice/internal/apierror"
	"github.com/lattice-pay/lattice/model"
)

const settlementColumns = `settlement_id, account_id, amount, delta, direction, idempotency_key, status, failure_reason, attempts, created_at`

// GetSettlement retrieves a settlement record by its unique ID.
func (d Datasource) GetSettlement(ctx context.Context, settlementID string) (*model.SettlementRecord, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+settlementColumns+`
		FROM lattice.settlements
		WHERE settlement_id = $1
	`, settlementID)

	record, err := scanSettlement(row)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Settlement record not found", settlementID)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve settlement record", err)
	}
	return record, nil
}

// GetSettlementsByAccount lists an account's settlement records, newest first.
// This is the operator diagnosis surface: pending, confirmed and failed
// records all show up here.
func (d Datasource) GetSettlementsByAccount(ctx context.Context, accountID string) ([]model.SettlementRecord, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+settlementColumns+`
		FROM lattice.settlements
		WHERE account_id = $1
		ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve settlement records", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logrus.Error(err)
		}
	}()

	records := []model.SettlementRecord{}
	for rows.Next() {
		record, err := scanSettlement(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan settlement record", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating settlement records", err)
	}
	return records, nil
}

// GetPendingOutgoingSettlement returns the account's active outgoing trigger,
// or nil when there is none.
func (d Datasource) GetPendingOutgoingSettlement(ctx context.Context, accountID string) (*model.SettlementRecord, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+settlementColumns+`
		FROM lattice.settlements
		WHERE account_id = $1 AND direction = $2 AND status = $3
	`, accountID, model.SettlementDirectionOutgoing, model.SettlementStatusPending)

	record, err := scanSettlement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve pending settlement", err)
	}
	return record, nil
}

// ConfirmOutgoingSettlement transitions a record from PENDING to CONFIRMED and
// applies its recorded delta to the account balance in the same transaction.
// The status change is a compare-and-swap: a record that is no longer pending
// is left untouched and the balance is not applied twice. Returns whether this
// call performed the transition.
func (d Datasource) ConfirmOutgoingSettlement(ctx context.Context, settlementID string) (bool, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var accountID string
	var delta int64
	err = tx.QueryRowContext(ctx, `
		UPDATE lattice.settlements
		SET status = $2
		WHERE settlement_id = $1 AND status = $3
		RETURNING account_id, delta
	`, settlementID, model.SettlementStatusConfirmed, model.SettlementStatusPending).Scan(&accountID, &delta)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to confirm settlement", err)
	}

	// The settlement delta bypasses the floor check: settling a real debt is
	// always allowed to move the balance to settle_to.
	if _, err := tx.ExecContext(ctx, `
		UPDATE lattice.accounts SET balance = balance + $2 WHERE account_id = $1
	`, accountID, delta); err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to apply settlement delta", err)
	}

	if err := tx.Commit(); err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit settlement confirmation", err)
	}
	d.invalidateAccountCache(ctx, accountID)
	return true, nil
}

// FailOutgoingSettlement transitions a record from PENDING to FAILED. The
// balance is deliberately left alone: the debt is real whether or not the
// engine could be reached, and a failed record no longer blocks the next
// threshold crossing from re-triggering. Returns whether this call performed
// the transition.
func (d Datasource) FailOutgoingSettlement(ctx context.Context, settlementID string, reason string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE lattice.settlements
		SET status = $2, failure_reason = $3
		WHERE settlement_id = $1 AND status = $4
	`, settlementID, model.SettlementStatusFailed, reason, model.SettlementStatusPending)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark settlement failed", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return affected > 0, nil
}

// UpdateSettlementAttempts persists the retry attempt count so it survives
// worker restarts.
func (d Datasource) UpdateSettlementAttempts(ctx context.Context, settlementID string, attempts int) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE lattice.settlements SET attempts = $2 WHERE settlement_id = $1
	`, settlementID, attempts)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update settlement attempts", err)
	}
	return nil
}

// RecordIncomingSettlement credits a confirmed incoming transfer: it locks the
// account row, inserts the CONFIRMED incoming settlement record keyed by the
// engine's idempotency key, and applies the credit, all in one transaction.
// The unique constraint on idempotency_key is the durable backstop under the
// redis idempotency layer: a replay that slips past the cache (e.g. after TTL
// expiry of a crashed first attempt) fails here instead of double-crediting.
func (d Datasource) RecordIncomingSettlement(ctx context.Context, accountID string, amount int64, idempotencyKey string) (*model.BalanceUpdate, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `
		SELECT account_id, asset_code, asset_scale, balance, min_balance, settle_threshold, settle_to, settlement_engine_url, created_at, meta_data
		FROM lattice.accounts
		WHERE account_id = $1
		FOR UPDATE
	`, accountID)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Account not found", accountID)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock account row", err)
	}

	record := &model.SettlementRecord{
		SettlementID:   model.GenerateUUIDWithSuffix("stl"),
		AccountID:      accountID,
		Amount:         amount,
		Delta:          amount,
		Direction:      model.SettlementDirectionIncoming,
		IdempotencyKey: idempotencyKey,
		Status:         model.SettlementStatusConfirmed,
		CreatedAt:      time.Now(),
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO lattice.settlements (settlement_id, account_id, amount, delta, direction, idempotency_key, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, record.SettlementID, record.AccountID, record.Amount, record.Delta, record.Direction, record.IdempotencyKey, record.Status, record.CreatedAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code == "23505" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Incoming settlement already applied", idempotencyKey)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record incoming settlement", err)
	}

	account.Balance += amount
	if _, err := tx.ExecContext(ctx, `
		UPDATE lattice.accounts SET balance = $2 WHERE account_id = $1
	`, accountID, account.Balance); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to apply incoming settlement credit", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit incoming settlement", err)
	}
	d.invalidateAccountCache(ctx, accountID)
	return &model.BalanceUpdate{Account: account, Trigger: nil}, nil
}

func scanSettlement(row rowScanner) (*model.SettlementRecord, error) {
	record := &model.SettlementRecord{}
	err := row.Scan(&record.SettlementID, &record.AccountID, &record.Amount, &record.Delta,
		&record.Direction, &record.IdempotencyKey, &record.Status, &record.FailureReason,
		&record.Attempts, &record.CreatedAt)
	if err != nil {
		return nil, err
	}
	return record, nil
}
