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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/lattice-pay/lattice/internal/apierror"
	"github.com/lattice-pay/lattice/model"
)

var accountColumns = []string{
	"account_id", "asset_code", "asset_scale", "balance", "min_balance",
	"settle_threshold", "settle_to", "settlement_engine_url", "created_at", "meta_data",
}

func accountRow(mock sqlmock.Sqlmock, accountID string, balance int64, minBalance, settleThreshold interface{}, settleTo int64, engineURL string) *sqlmock.Rows {
	return mock.NewRows(accountColumns).
		AddRow(accountID, "XRP", 6, balance, minBalance, settleThreshold, settleTo, engineURL, time.Now(), []byte(`{}`))
}

func TestCreateAccount_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("INSERT INTO lattice.accounts").
		WithArgs(sqlmock.AnyArg(), "XRP", uint8(6), int64(0), nil, sqlmock.AnyArg(), int64(10), "http://localhost:3000", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	threshold := int64(70)
	created, err := ds.CreateAccount(model.Account{
		AssetCode:           "XRP",
		AssetScale:          6,
		SettleThreshold:     &threshold,
		SettleTo:            10,
		SettlementEngineURL: "http://localhost:3000",
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, created.AccountID)
	assert.WithinDuration(t, time.Now(), created.CreatedAt, time.Second)
}

func TestCreateAccount_UniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("INSERT INTO lattice.accounts").
		WillReturnError(&pq.Error{Code: "23505", Message: "unique_violation"})

	_, err = ds.CreateAccount(model.Account{AssetCode: "XRP", AssetScale: 6})
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))
}

func TestGetAccountByID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT .* FROM lattice.accounts").
		WithArgs("acc_missing").
		WillReturnRows(mock.NewRows(accountColumns))

	_, err = ds.GetAccountByID(context.Background(), "acc_missing")
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrNotFound))
}

func TestApplyBalanceDelta_NoTrigger(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM lattice.accounts .* FOR UPDATE").
		WithArgs("acc_1").
		WillReturnRows(accountRow(mock, "acc_1", 59, nil, int64(70), 10, "http://localhost:3000"))
	mock.ExpectExec("UPDATE lattice.accounts SET balance").
		WithArgs("acc_1", int64(69)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	update, err := ds.ApplyBalanceDelta(context.Background(), "acc_1", 10, false)
	assert.NoError(t, err)
	assert.Equal(t, int64(69), update.Account.Balance)
	assert.Nil(t, update.Trigger)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A fulfillment moves value between two accounts as a mirrored +x/-x pair,
// so the sum of the two balances must be the same before and after.
func TestApplyBalanceDelta_MirroredPairConserved(t *testing.T) {
	tests := []struct {
		name               string
		balanceA, balanceB int64
		amount             int64
	}{
		{"both positive", 40, 25, 15},
		{"debtor goes negative", 10, -30, 25},
		{"zero start", 0, 0, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			assert.NoError(t, err)
			defer db.Close()

			ds := Datasource{Conn: db}

			mock.ExpectBegin()
			mock.ExpectQuery("SELECT .* FROM lattice.accounts .* FOR UPDATE").
				WithArgs("acc_a").
				WillReturnRows(accountRow(mock, "acc_a", tt.balanceA, nil, nil, 0, ""))
			mock.ExpectExec("UPDATE lattice.accounts SET balance").
				WithArgs("acc_a", tt.balanceA+tt.amount).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			mock.ExpectBegin()
			mock.ExpectQuery("SELECT .* FROM lattice.accounts .* FOR UPDATE").
				WithArgs("acc_b").
				WillReturnRows(accountRow(mock, "acc_b", tt.balanceB, nil, nil, 0, ""))
			mock.ExpectExec("UPDATE lattice.accounts SET balance").
				WithArgs("acc_b", tt.balanceB-tt.amount).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			creditSide, err := ds.ApplyBalanceDelta(context.Background(), "acc_a", tt.amount, false)
			assert.NoError(t, err)
			debitSide, err := ds.ApplyBalanceDelta(context.Background(), "acc_b", -tt.amount, false)
			assert.NoError(t, err)

			assert.Equal(t, tt.balanceA+tt.balanceB, creditSide.Account.Balance+debitSide.Account.Balance)
			assert.Nil(t, creditSide.Trigger)
			assert.Nil(t, debitSide.Trigger)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestApplyBalanceDelta_CrossingCreatesTrigger(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM lattice.accounts .* FOR UPDATE").
		WithArgs("acc_1").
		WillReturnRows(accountRow(mock, "acc_1", 69, nil, int64(70), 10, "http://localhost:3000"))
	mock.ExpectExec("UPDATE lattice.accounts SET balance").
		WithArgs("acc_1", int64(70)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("acc_1", model.SettlementDirectionOutgoing, model.SettlementStatusPending).
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO lattice.settlements").
		WithArgs(sqlmock.AnyArg(), "acc_1", int64(60), int64(-60), model.SettlementDirectionOutgoing,
			sqlmock.AnyArg(), model.SettlementStatusPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	update, err := ds.ApplyBalanceDelta(context.Background(), "acc_1", 1, false)
	assert.NoError(t, err)
	assert.Equal(t, int64(70), update.Account.Balance)
	assert.NotNil(t, update.Trigger)
	assert.Equal(t, int64(60), update.Trigger.Amount)
	assert.Equal(t, int64(-60), update.Trigger.Delta)
	assert.Equal(t, model.SettlementStatusPending, update.Trigger.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyBalanceDelta_CrossingWithExistingPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM lattice.accounts .* FOR UPDATE").
		WithArgs("acc_1").
		WillReturnRows(accountRow(mock, "acc_1", 70, nil, int64(70), 10, "http://localhost:3000"))
	mock.ExpectExec("UPDATE lattice.accounts SET balance").
		WithArgs("acc_1", int64(75)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("acc_1", model.SettlementDirectionOutgoing, model.SettlementStatusPending).
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectCommit()

	update, err := ds.ApplyBalanceDelta(context.Background(), "acc_1", 5, false)
	assert.NoError(t, err)
	assert.Equal(t, int64(75), update.Account.Balance)
	assert.Nil(t, update.Trigger)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyBalanceDelta_FloorViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM lattice.accounts .* FOR UPDATE").
		WithArgs("acc_1").
		WillReturnRows(accountRow(mock, "acc_1", -95, int64(-100), nil, 0, ""))
	mock.ExpectRollback()

	_, err = ds.ApplyBalanceDelta(context.Background(), "acc_1", -10, false)
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrInsufficientBalance))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyBalanceDelta_SettlementBypassesFloor(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM lattice.accounts .* FOR UPDATE").
		WithArgs("acc_1").
		WillReturnRows(accountRow(mock, "acc_1", -95, int64(-100), nil, 0, ""))
	mock.ExpectExec("UPDATE lattice.accounts SET balance").
		WithArgs("acc_1", int64(-105)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	update, err := ds.ApplyBalanceDelta(context.Background(), "acc_1", -10, true)
	assert.NoError(t, err)
	assert.Equal(t, int64(-105), update.Account.Balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyBalanceDelta_UnknownAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM lattice.accounts .* FOR UPDATE").
		WithArgs("acc_missing").
		WillReturnRows(mock.NewRows(accountColumns))
	mock.ExpectRollback()

	_, err = ds.ApplyBalanceDelta(context.Background(), "acc_missing", 10, false)
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrNotFound))
}

func TestApplyBalanceDelta_NegativeDirectionThreshold(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM lattice.accounts .* FOR UPDATE").
		WithArgs("acc_1").
		WillReturnRows(accountRow(mock, "acc_1", -69, int64(-100), int64(-70), -10, "http://localhost:3000"))
	mock.ExpectExec("UPDATE lattice.accounts SET balance").
		WithArgs("acc_1", int64(-70)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO lattice.settlements").
		WithArgs(sqlmock.AnyArg(), "acc_1", int64(60), int64(60), model.SettlementDirectionOutgoing,
			sqlmock.AnyArg(), model.SettlementStatusPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	update, err := ds.ApplyBalanceDelta(context.Background(), "acc_1", -1, false)
	assert.NoError(t, err)
	assert.NotNil(t, update.Trigger)
	assert.Equal(t, int64(60), update.Trigger.Amount)
	assert.Equal(t, int64(60), update.Trigger.Delta)
}
