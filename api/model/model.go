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
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/lattice-pay/lattice/model"
)

// CreateAccount is the request body for registering a peer account.
type CreateAccount struct {
	AssetCode           string                 `json:"asset_code"`
	AssetScale          uint8                  `json:"asset_scale"`
	MinBalance          *int64                 `json:"min_balance"`
	SettleThreshold     *int64                 `json:"settle_threshold"`
	SettleTo            int64                  `json:"settle_to"`
	SettlementEngineURL string                 `json:"settlement_engine_url"`
	MetaData            map[string]interface{} `json:"meta_data"`
}

// RecordFulfillment is the request body for applying a packet-fulfillment
// delta to an account balance.
type RecordFulfillment struct {
	Delta int64 `json:"delta"`
}

// SettlementNotification is the engine's report of an incoming settlement,
// amount expressed in the engine's own scale.
type SettlementNotification struct {
	Amount string `json:"amount"`
	Scale  uint8  `json:"scale"`
}

func (a *CreateAccount) ValidateCreateAccount() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.AssetCode, validation.Required),
		validation.Field(&a.SettlementEngineURL, validation.When(a.SettleThreshold != nil,
			validation.Required.Error("settlement_engine_url is required when settle_threshold is set"))),
		validation.Field(&a.SettleTo, validation.By(func(value interface{}) error {
			if a.SettleThreshold == nil {
				return nil
			}
			threshold := *a.SettleThreshold
			if threshold > 0 && a.SettleTo >= threshold {
				return errors.New("settle_to must be below settle_threshold")
			}
			if threshold < 0 && a.SettleTo <= threshold {
				return errors.New("settle_to must be above settle_threshold")
			}
			if threshold == 0 && a.SettleTo != 0 {
				return errors.New("settle_to must be zero when settle_threshold is zero")
			}
			return nil
		})),
	)
}

func (f *RecordFulfillment) ValidateRecordFulfillment() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.Delta, validation.Required.Error("delta must be a non-zero signed integer")),
	)
}

func (n *SettlementNotification) ValidateSettlementNotification() error {
	return validation.ValidateStruct(n,
		validation.Field(&n.Amount, validation.Required),
	)
}

func (a *CreateAccount) ToAccount() model.Account {
	return model.Account{
		AssetCode:           a.AssetCode,
		AssetScale:          a.AssetScale,
		MinBalance:          a.MinBalance,
		SettleThreshold:     a.SettleThreshold,
		SettleTo:            a.SettleTo,
		SettlementEngineURL: a.SettlementEngineURL,
		MetaData:            a.MetaData,
	}
}

func (n *SettlementNotification) ToQuantity() model.Quantity {
	return model.Quantity{Amount: n.Amount, Scale: n.Scale}
}
