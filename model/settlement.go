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

package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SettlementStatusPending   = "PENDING"
	SettlementStatusConfirmed = "CONFIRMED"
	SettlementStatusFailed    = "FAILED"

	SettlementDirectionOutgoing = "OUTGOING"
	SettlementDirectionIncoming = "INCOMING"
)

// SettlementRecord is one settlement event on an account. Outgoing records are
// created in the same database transaction that detects a threshold crossing;
// a PENDING outgoing record is what prevents a second concurrent crossing from
// firing a duplicate engine request, across process restarts included.
//
// Amount is the wire amount, always >= 0 and in the account's asset scale.
// Delta is the signed balance change to apply when the record confirms; for
// outgoing settlements it is settle_to - balance_at_trigger, captured at the
// instant the trigger fired.
type SettlementRecord struct {
	ID             int64     `json:"-"`
	SettlementID   string    `json:"settlement_id"`
	AccountID      string    `json:"account_id"`
	Amount         int64     `json:"amount"`
	Delta          int64     `json:"-"`
	Direction      string    `json:"direction"`
	IdempotencyKey string    `json:"idempotency_key"`
	Status         string    `json:"status"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	Attempts       int       `json:"attempts"`
	CreatedAt      time.Time `json:"created_at"`
}

// Pending reports whether the record still blocks a new outgoing trigger.
func (s *SettlementRecord) Pending() bool {
	return s.Status == SettlementStatusPending
}

// Quantity is the settlement engine wire representation of an amount: an
// integer rendered as a string plus the scale it is denominated in. Engines
// on different rails pick their own scales, so both directions convert.
type Quantity struct {
	Amount string `json:"amount"`
	Scale  uint8  `json:"scale"`
}

// NewQuantity renders a scaled integer amount as a wire quantity.
func NewQuantity(amount int64, scale uint8) Quantity {
	return Quantity{Amount: fmt.Sprintf("%d", amount), Scale: scale}
}

// ConvertToScale converts the quantity into the target scale, truncating
// toward zero. Converting 1 unit at scale 2 ("cents") to scale 6 yields
// 10000; the reverse direction drops sub-unit dust rather than rounding up,
// so a connector never credits more than the engine actually moved.
func (q Quantity) ConvertToScale(target uint8) (int64, error) {
	amount, err := decimal.NewFromString(q.Amount)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity amount %q: %w", q.Amount, err)
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("quantity amount must not be negative, got %s", q.Amount)
	}
	scaled := amount.Shift(int32(target) - int32(q.Scale)).Truncate(0)
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("quantity %s overflows target scale %d", q.Amount, target)
	}
	return scaled.BigInt().Int64(), nil
}
