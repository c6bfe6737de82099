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
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/lattice-pay/lattice/internal/apierror"
	"github.com/lattice-pay/lattice/model"
)

// CreateAccount inserts a new account record into the database.
func (d Datasource) CreateAccount(account model.Account) (model.Account, error) {
	metaDataJSON, err := json.Marshal(account.MetaData)
	if err != nil {
		return model.Account{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	account.AccountID = model.GenerateUUIDWithSuffix("acc")
	account.CreatedAt = time.Now()

	_, err = d.Conn.Exec(`
		INSERT INTO lattice.accounts (account_id, asset_code, asset_scale, balance, min_balance, settle_threshold, settle_to, settlement_engine_url, created_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, account.AccountID, account.AssetCode, account.AssetScale, account.Balance, account.MinBalance, account.SettleThreshold, account.SettleTo, account.SettlementEngineURL, account.CreatedAt, metaDataJSON)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code == "23505" {
			return model.Account{}, apierror.NewAPIError(apierror.ErrConflict, "Account with this ID already exists", err)
		}
		return model.Account{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create account", err)
	}
	return account, nil
}

func accountCacheKey(id string) string {
	return "account:" + id
}

// GetAccountByID retrieves an account by its unique ID. Reads go through the
// cache; every balance mutation drops the cached entry, so a hit is never
// staler than the last committed delta plus replication of the invalidation.
func (d Datasource) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	if d.Cache != nil {
		var cached model.Account
		found, err := d.Cache.Get(ctx, accountCacheKey(id), &cached)
		if err != nil {
			logrus.Warnf("account cache read failed: %v", err)
		}
		if found {
			return &cached, nil
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT account_id, asset_code, asset_scale, balance, min_balance, settle_threshold, settle_to, settlement_engine_url, created_at, meta_data
		FROM lattice.accounts
		WHERE account_id = $1
	`, id)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Account not found", id)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve account", err)
	}

	if d.Cache != nil {
		if err := d.Cache.Set(ctx, accountCacheKey(id), account, 5*time.Minute); err != nil {
			logrus.Warnf("account cache write failed: %v", err)
		}
	}
	return account, nil
}

// invalidateAccountCache drops the cached account entry after a balance
// mutation commits.
func (d Datasource) invalidateAccountCache(ctx context.Context, id string) {
	if d.Cache == nil {
		return
	}
	if err := d.Cache.Delete(ctx, accountCacheKey(id)); err != nil {
		logrus.Warnf("account cache invalidation failed: %v", err)
	}
}

// GetAllAccounts retrieves every account ordered by creation time.
func (d Datasource) GetAllAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT account_id, asset_code, asset_scale, balance, min_balance, settle_threshold, settle_to, settlement_engine_url, created_at, meta_data
		FROM lattice.accounts
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve accounts", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logrus.Error(err)
		}
	}()

	accounts := []model.Account{}
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan account", err)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating accounts", err)
	}
	return accounts, nil
}

// ApplyBalanceDelta atomically applies a signed delta to an account balance.
//
// The whole operation runs in one database transaction holding a row lock on
// the account, so concurrent deltas on the same account serialize while other
// accounts stay untouched. Within that transaction it:
//
//  1. rejects non-settlement deltas that would push the balance below
//     min_balance (settlement deltas always pass the floor check),
//  2. writes the new balance,
//  3. for non-settlement deltas, evaluates the settle threshold and, when it
//     is crossed and no PENDING outgoing settlement record exists for the
//     account, creates that record.
//
// Creating the pending record inside the same transaction as the crossing
// check is what makes the trigger fire exactly once: a concurrent caller that
// also observes the crossing finds the record already present and does
// nothing. The record, not the balance, is what survives a crash as proof a
// trigger was issued.
func (d Datasource) ApplyBalanceDelta(ctx context.Context, accountID string, delta int64, isSettlement bool) (*model.BalanceUpdate, error) {
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

	newBalance := account.Balance + delta
	if !isSettlement && account.ViolatesFloor(newBalance) {
		return nil, apierror.NewAPIError(apierror.ErrInsufficientBalance, "Delta would push balance below min_balance", map[string]int64{
			"balance":     account.Balance,
			"delta":       delta,
			"min_balance": *account.MinBalance,
		})
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE lattice.accounts SET balance = $2 WHERE account_id = $1
	`, accountID, newBalance); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update balance", err)
	}
	account.Balance = newBalance

	var trigger *model.SettlementRecord
	if !isSettlement && account.SettlementConfigured() && account.CrossesThreshold(newBalance) {
		trigger, err = d.createPendingTrigger(ctx, tx, account)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit balance update", err)
	}
	d.invalidateAccountCache(ctx, accountID)
	return &model.BalanceUpdate{Account: account, Trigger: trigger}, nil
}

// createPendingTrigger inserts the PENDING outgoing settlement record for a
// threshold crossing, unless one already exists. Must be called with the
// account row locked in tx.
func (d Datasource) createPendingTrigger(ctx context.Context, tx *sql.Tx, account *model.Account) (*model.SettlementRecord, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM lattice.settlements
			WHERE account_id = $1 AND direction = $2 AND status = $3
		)
	`, account.AccountID, model.SettlementDirectionOutgoing, model.SettlementStatusPending).Scan(&exists)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check pending settlements", err)
	}
	if exists {
		return nil, nil
	}

	settleDelta := account.SettlementDelta(account.Balance)
	amount := settleDelta
	if amount < 0 {
		amount = -amount
	}
	if amount == 0 {
		return nil, nil
	}

	record := &model.SettlementRecord{
		SettlementID:   model.GenerateUUIDWithSuffix("stl"),
		AccountID:      account.AccountID,
		Amount:         amount,
		Delta:          settleDelta,
		Direction:      model.SettlementDirectionOutgoing,
		IdempotencyKey: model.GenerateUUIDWithSuffix("idk"),
		Status:         model.SettlementStatusPending,
		CreatedAt:      time.Now(),
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO lattice.settlements (settlement_id, account_id, amount, delta, direction, idempotency_key, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, record.SettlementID, record.AccountID, record.Amount, record.Delta, record.Direction, record.IdempotencyKey, record.Status, record.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create settlement record", err)
	}
	return record, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	account := &model.Account{}
	var minBalance, settleThreshold sql.NullInt64
	var metaDataJSON []byte

	err := row.Scan(&account.AccountID, &account.AssetCode, &account.AssetScale, &account.Balance,
		&minBalance, &settleThreshold, &account.SettleTo, &account.SettlementEngineURL,
		&account.CreatedAt, &metaDataJSON)
	if err != nil {
		return nil, err
	}

	if minBalance.Valid {
		account.MinBalance = &minBalance.Int64
	}
	if settleThreshold.Valid {
		account.SettleThreshold = &settleThreshold.Int64
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &account.MetaData); err != nil {
			return nil, err
		}
	}
	return account, nil
}
