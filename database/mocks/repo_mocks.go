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
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/lattice-pay/lattice/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Account methods

func (m *MockDataSource) CreateAccount(account model.Account) (model.Account, error) {
	args := m.Called(account)
	return args.Get(0).(model.Account), args.Error(1)
}

func (m *MockDataSource) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *MockDataSource) GetAllAccounts(ctx context.Context) ([]model.Account, error) {
	args := m.Called(ctx)
	return args.Get(0).([]model.Account), args.Error(1)
}

func (m *MockDataSource) ApplyBalanceDelta(ctx context.Context, accountID string, delta int64, isSettlement bool) (*model.BalanceUpdate, error) {
	args := m.Called(ctx, accountID, delta, isSettlement)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BalanceUpdate), args.Error(1)
}

// Settlement methods

func (m *MockDataSource) GetSettlement(ctx context.Context, settlementID string) (*model.SettlementRecord, error) {
	args := m.Called(ctx, settlementID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SettlementRecord), args.Error(1)
}

func (m *MockDataSource) GetSettlementsByAccount(ctx context.Context, accountID string) ([]model.SettlementRecord, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).([]model.SettlementRecord), args.Error(1)
}

func (m *MockDataSource) GetPendingOutgoingSettlement(ctx context.Context, accountID string) (*model.SettlementRecord, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SettlementRecord), args.Error(1)
}

func (m *MockDataSource) ConfirmOutgoingSettlement(ctx context.Context, settlementID string) (bool, error) {
	args := m.Called(ctx, settlementID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) FailOutgoingSettlement(ctx context.Context, settlementID string, reason string) (bool, error) {
	args := m.Called(ctx, settlementID, reason)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) UpdateSettlementAttempts(ctx context.Context, settlementID string, attempts int) error {
	args := m.Called(ctx, settlementID, attempts)
	return args.Error(0)
}

func (m *MockDataSource) RecordIncomingSettlement(ctx context.Context, accountID string, amount int64, idempotencyKey string) (*model.BalanceUpdate, error) {
	args := m.Called(ctx, accountID, amount, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BalanceUpdate), args.Error(1)
}
