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

package lattice

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/lattice-pay/lattice/internal/apierror"
	"github.com/lattice-pay/lattice/model"
)

func testAccount(balance int64) *model.Account {
	threshold := int64(70)
	return &model.Account{
		AccountID:           "acc_1",
		AssetCode:           "XRP",
		AssetScale:          9,
		Balance:             balance,
		SettleThreshold:     &threshold,
		SettleTo:            10,
		SettlementEngineURL: "http://engine.test",
	}
}

func TestRecordFulfillment_BelowThreshold(t *testing.T) {
	l, mockDS := newTestLattice(t)

	mockDS.On("ApplyBalanceDelta", mock.Anything, "acc_1", int64(10), false).
		Return(&model.BalanceUpdate{Account: testAccount(10)}, nil)

	update, err := l.RecordFulfillment(context.Background(), "acc_1", 10)
	assert.NoError(t, err)
	assert.Equal(t, int64(10), update.Account.Balance)
	assert.Nil(t, update.Trigger)
}

func TestRecordFulfillment_FloorViolation(t *testing.T) {
	l, mockDS := newTestLattice(t)

	mockDS.On("ApplyBalanceDelta", mock.Anything, "acc_1", int64(-200), false).
		Return(nil, apierror.NewAPIError(apierror.ErrInsufficientBalance, "below floor", nil))

	_, err := l.RecordFulfillment(context.Background(), "acc_1", -200)
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrInsufficientBalance))
}

// TestRecordFulfillment_ThresholdScenario walks a peer account through the
// canonical settlement path: fulfillments of 10, 20 and 39 leave the balance
// at 69, one more unit crosses the threshold of 70 and triggers a settlement
// of 60, and the confirmed settlement brings the balance down to settle_to.
func TestRecordFulfillment_ThresholdScenario(t *testing.T) {
	l, mockDS := newTestLattice(t)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://engine.test/accounts/acc_1/settlements",
		httpmock.NewStringResponder(http.StatusCreated, "{}"))

	mockDS.On("ApplyBalanceDelta", mock.Anything, "acc_1", int64(10), false).
		Return(&model.BalanceUpdate{Account: testAccount(10)}, nil).Once()
	mockDS.On("ApplyBalanceDelta", mock.Anything, "acc_1", int64(20), false).
		Return(&model.BalanceUpdate{Account: testAccount(30)}, nil).Once()
	mockDS.On("ApplyBalanceDelta", mock.Anything, "acc_1", int64(39), false).
		Return(&model.BalanceUpdate{Account: testAccount(69)}, nil).Once()

	trigger := &model.SettlementRecord{
		SettlementID:   "stl_1",
		AccountID:      "acc_1",
		Amount:         60,
		Delta:          -60,
		Direction:      model.SettlementDirectionOutgoing,
		IdempotencyKey: "idk_1",
		Status:         model.SettlementStatusPending,
	}
	mockDS.On("ApplyBalanceDelta", mock.Anything, "acc_1", int64(1), false).
		Return(&model.BalanceUpdate{Account: testAccount(70), Trigger: trigger}, nil).Once()

	for _, delta := range []int64{10, 20, 39} {
		update, err := l.RecordFulfillment(context.Background(), "acc_1", delta)
		assert.NoError(t, err)
		assert.Nil(t, update.Trigger)
	}

	update, err := l.RecordFulfillment(context.Background(), "acc_1", 1)
	assert.NoError(t, err)
	assert.Equal(t, int64(70), update.Account.Balance)
	assert.NotNil(t, update.Trigger)
	assert.Equal(t, int64(60), update.Trigger.Amount)

	// The trigger is now queued; execute it as the worker would.
	mockDS.On("GetSettlement", mock.Anything, "stl_1").Return(trigger, nil)
	mockDS.On("GetAccountByID", mock.Anything, "acc_1").Return(testAccount(70), nil)
	mockDS.On("UpdateSettlementAttempts", mock.Anything, "stl_1", 1).Return(nil)
	mockDS.On("ConfirmOutgoingSettlement", mock.Anything, "stl_1").Return(true, nil)

	err = l.ExecuteSettlement(context.Background(), "stl_1")
	assert.NoError(t, err)
	mockDS.AssertCalled(t, "ConfirmOutgoingSettlement", mock.Anything, "stl_1")
}
