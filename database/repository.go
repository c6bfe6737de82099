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

	"github.com/lattice-pay/lattice/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	account    // Interface for account-related operations
	settlement // Interface for settlement-record operations
}

// account defines methods for handling accounts and their balances.
type account interface {
	CreateAccount(account model.Account) (model.Account, error)                                                            // Creates a new account
	GetAccountByID(ctx context.Context, id string) (*model.Account, error)                                                 // Retrieves an account by ID
	GetAllAccounts(ctx context.Context) ([]model.Account, error)                                                           // Retrieves all accounts
	ApplyBalanceDelta(ctx context.Context, accountID string, delta int64, isSettlement bool) (*model.BalanceUpdate, error) // Atomically applies a signed delta
}

// settlement defines methods for handling settlement records.
type settlement interface {
	GetSettlement(ctx context.Context, settlementID string) (*model.SettlementRecord, error)                           // Retrieves a settlement record by ID
	GetSettlementsByAccount(ctx context.Context, accountID string) ([]model.SettlementRecord, error)                   // Lists an account's settlement records
	GetPendingOutgoingSettlement(ctx context.Context, accountID string) (*model.SettlementRecord, error)               // Finds the active pending trigger, nil if none
	ConfirmOutgoingSettlement(ctx context.Context, settlementID string) (bool, error)                                  // CAS pending -> confirmed, applies the recorded delta
	FailOutgoingSettlement(ctx context.Context, settlementID string, reason string) (bool, error)                      // CAS pending -> failed
	UpdateSettlementAttempts(ctx context.Context, settlementID string, attempts int) error                             // Persists the retry attempt count
	RecordIncomingSettlement(ctx context.Context, accountID string, amount int64, idempotencyKey string) (*model.BalanceUpdate, error) // Credits a confirmed incoming transfer
}
