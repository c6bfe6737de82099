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
	"time"
)

// Account is a peer credit relationship tracked by the connector. Balance is
// the only mutable numeric field; everything else is configuration fixed at
// creation time.
//
// Balance is a signed, scaled integer in the account's asset scale. A positive
// balance means this node owes the peer; fulfillments of outgoing value
// transfers push it up, incoming settlements push it up too (the peer prepaying
// credit), and confirmed outgoing settlements pull it back down to SettleTo.
type Account struct {
	ID                  int64                  `json:"-"`
	AccountID           string                 `json:"account_id"`
	AssetCode           string                 `json:"asset_code"`
	AssetScale          uint8                  `json:"asset_scale"`
	Balance             int64                  `json:"balance"`
	MinBalance          *int64                 `json:"min_balance,omitempty"`
	SettleThreshold     *int64                 `json:"settle_threshold,omitempty"`
	SettleTo            int64                  `json:"settle_to"`
	SettlementEngineURL string                 `json:"settlement_engine_url,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	MetaData            map[string]interface{} `json:"meta_data,omitempty"`
}

// BalanceUpdate is the atomic outcome of a balance apply: the post-apply
// account state plus, when the apply crossed the settle threshold, the
// pending settlement record created in the same database transaction.
type BalanceUpdate struct {
	Account *Account          `json:"account"`
	Trigger *SettlementRecord `json:"trigger,omitempty"`
}

// SettlementConfigured reports whether the account can settle at all.
func (a *Account) SettlementConfigured() bool {
	return a.SettlementEngineURL != "" && a.SettleThreshold != nil
}

// CrossesThreshold reports whether the given balance has crossed the account's
// settle threshold in the settlement-triggering direction. Positive thresholds
// trigger when the balance climbs to or above them, negative thresholds when
// it falls to or below them.
func (a *Account) CrossesThreshold(balance int64) bool {
	if a.SettleThreshold == nil {
		return false
	}
	threshold := *a.SettleThreshold
	if threshold >= 0 {
		return balance >= threshold
	}
	return balance <= threshold
}

// SettlementDelta returns the signed delta that moves the given balance back
// to SettleTo. The wire amount of the settlement is its absolute value.
func (a *Account) SettlementDelta(balance int64) int64 {
	return a.SettleTo - balance
}

// ViolatesFloor reports whether applying a non-settlement delta would push the
// balance below the configured floor. Accounts without a floor never reject.
func (a *Account) ViolatesFloor(newBalance int64) bool {
	return a.MinBalance != nil && newBalance < *a.MinBalance
}
