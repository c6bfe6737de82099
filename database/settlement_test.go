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

var settlementTestColumns = []string{
	"settlement_id", "account_id", "amount", "delta", "direction",
	"idempotency_key", "status", "failure_reason", "attempts", "created_at",
}

func settlementRow(mock sqlmock.Sqlmock, settlementID, accountID string, amount, delta int64, direction, status string) *sqlmock.Rows {
	return mock.NewRows(settlementTestColumns).
		AddRow(settlementID, accountID, amount, delta, direction, "idk_key", status, "", 0, time.Now())
}

func TestGetSettlement_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT .* FROM lattice.settlements").
		WithArgs("stl_missing").
		WillReturnRows(mock.NewRows(settlementTestColumns))

	_, err = ds.GetSettlement(context.Background(), "stl_missing")
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrNotFound))
}

func TestGetPendingOutgoingSettlement(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT .* FROM lattice.settlements").
		WithArgs("acc_1", model.SettlementDirectionOutgoing, model.SettlementStatusPending).
		WillReturnRows(settlementRow(mock, "stl_1", "acc_1", 60, -60,
			model.SettlementDirectionOutgoing, model.SettlementStatusPending))

	record, err := ds.GetPendingOutgoingSettlement(context.Background(), "acc_1")
	assert.NoError(t, err)
	assert.NotNil(t, record)
	assert.Equal(t, "stl_1", record.SettlementID)
	assert.Equal(t, int64(-60), record.Delta)
}

func TestGetPendingOutgoingSettlement_None(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT .* FROM lattice.settlements").
		WithArgs("acc_1", model.SettlementDirectionOutgoing, model.SettlementStatusPending).
		WillReturnRows(mock.NewRows(settlementTestColumns))

	record, err := ds.GetPendingOutgoingSettlement(context.Background(), "acc_1")
	assert.NoError(t, err)
	assert.Nil(t, record)
}

func TestGetSettlementsByAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	rows := mock.NewRows(settlementTestColumns).
		AddRow("stl_2", "acc_1", 30, -30, model.SettlementDirectionOutgoing, "idk_2",
			model.SettlementStatusPending, "", 1, time.Now()).
		AddRow("stl_1", "acc_1", 60, -60, model.SettlementDirectionOutgoing, "idk_1",
			model.SettlementStatusFailed, "engine unreachable", 5, time.Now().Add(-time.Hour))

	mock.ExpectQuery("SELECT .* FROM lattice.settlements").
		WithArgs("acc_1").
		WillReturnRows(rows)

	records, err := ds.GetSettlementsByAccount(context.Background(), "acc_1")
	assert.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, "stl_2", records[0].SettlementID)
	assert.Equal(t, "engine unreachable", records[1].FailureReason)
}

func TestConfirmOutgoingSettlement_AppliesDelta(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE lattice.settlements").
		WithArgs("stl_1", model.SettlementStatusConfirmed, model.SettlementStatusPending).
		WillReturnRows(mock.NewRows([]string{"account_id", "delta"}).AddRow("acc_1", int64(-60)))
	mock.ExpectExec("UPDATE lattice.accounts SET balance = balance").
		WithArgs("acc_1", int64(-60)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	confirmed, err := ds.ConfirmOutgoingSettlement(context.Background(), "stl_1")
	assert.NoError(t, err)
	assert.True(t, confirmed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmOutgoingSettlement_AlreadyResolved(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE lattice.settlements").
		WithArgs("stl_1", model.SettlementStatusConfirmed, model.SettlementStatusPending).
		WillReturnRows(mock.NewRows([]string{"account_id", "delta"}))
	mock.ExpectRollback()

	confirmed, err := ds.ConfirmOutgoingSettlement(context.Background(), "stl_1")
	assert.NoError(t, err)
	assert.False(t, confirmed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailOutgoingSettlement(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE lattice.settlements").
		WithArgs("stl_1", model.SettlementStatusFailed, "engine returned 500", model.SettlementStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	failed, err := ds.FailOutgoingSettlement(context.Background(), "stl_1", "engine returned 500")
	assert.NoError(t, err)
	assert.True(t, failed)
}

func TestFailOutgoingSettlement_AlreadyResolved(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE lattice.settlements").
		WithArgs("stl_1", model.SettlementStatusFailed, "engine returned 500", model.SettlementStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	failed, err := ds.FailOutgoingSettlement(context.Background(), "stl_1", "engine returned 500")
	assert.NoError(t, err)
	assert.False(t, failed)
}

func TestUpdateSettlementAttempts(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE lattice.settlements SET attempts").
		WithArgs("stl_1", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.UpdateSettlementAttempts(context.Background(), "stl_1", 3)
	assert.NoError(t, err)
}

func TestRecordIncomingSettlement_CreditsBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM lattice.accounts .* FOR UPDATE").
		WithArgs("acc_1").
		WillReturnRows(accountRow(mock, "acc_1", -40, nil, nil, 0, "http://localhost:3000"))
	mock.ExpectExec("INSERT INTO lattice.settlements").
		WithArgs(sqlmock.AnyArg(), "acc_1", int64(25), int64(25), model.SettlementDirectionIncoming,
			"engine-key-1", model.SettlementStatusConfirmed, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE lattice.accounts SET balance").
		WithArgs("acc_1", int64(-15)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	update, err := ds.RecordIncomingSettlement(context.Background(), "acc_1", 25, "engine-key-1")
	assert.NoError(t, err)
	assert.Equal(t, int64(-15), update.Account.Balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordIncomingSettlement_DuplicateKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM lattice.accounts .* FOR UPDATE").
		WithArgs("acc_1").
		WillReturnRows(accountRow(mock, "acc_1", -40, nil, nil, 0, "http://localhost:3000"))
	mock.ExpectExec("INSERT INTO lattice.settlements").
		WillReturnError(&pq.Error{Code: "23505", Message: "unique_violation"})
	mock.ExpectRollback()

	_, err = ds.RecordIncomingSettlement(context.Background(), "acc_1", 25, "engine-key-1")
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}
