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
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lattice-pay/lattice/internal/apierror"
	"github.com/lattice-pay/lattice/internal/notification"
	"github.com/lattice-pay/lattice/model"
)

// CreateAccount persists a new peer account and, when the account carries a
// settlement engine URL, registers it with that engine in the background.
// Registration failure does not fail account creation: the engine is retried
// lazily on the first settlement, which carries its own idempotency key.
func (l *Lattice) CreateAccount(ctx context.Context, account model.Account) (model.Account, error) {
	if account.SettleThreshold != nil {
		threshold := *account.SettleThreshold
		settleTo := account.SettleTo
		if (threshold > 0 && settleTo >= threshold) ||
			(threshold < 0 && settleTo <= threshold) ||
			(threshold == 0 && settleTo != 0) {
			return model.Account{}, apierror.NewAPIError(apierror.ErrInvalidInput,
				"settle_to must sit between zero and settle_threshold", map[string]int64{
					"settle_threshold": threshold,
					"settle_to":        settleTo,
				})
		}
	}

	created, err := l.datasource.CreateAccount(account)
	if err != nil {
		return model.Account{}, err
	}

	if created.SettlementEngineURL != "" {
		go l.registerWithEngine(created)
	}
	return created, nil
}

func (l *Lattice) registerWithEngine(account model.Account) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := l.engine.RegisterAccount(ctx, &account); err != nil {
		logrus.Warnf("engine registration for account %s failed: %v", account.AccountID, err)
		notification.NotifyError(err)
		return
	}
	logrus.Infof("registered account %s with settlement engine", account.AccountID)
}

// GetAccount retrieves a single account by ID.
func (l *Lattice) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return l.datasource.GetAccountByID(ctx, id)
}

// GetAllAccounts lists every account, newest first.
func (l *Lattice) GetAllAccounts(ctx context.Context) ([]model.Account, error) {
	return l.datasource.GetAllAccounts(ctx)
}

// RelayMessage forwards an opaque peer message to the account's settlement
// engine and hands the engine's reply back unchanged.
func (l *Lattice) RelayMessage(ctx context.Context, accountID string, message json.RawMessage) (json.RawMessage, error) {
	account, err := l.datasource.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.SettlementEngineURL == "" {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "Account has no settlement engine configured", accountID)
	}
	return l.engine.SendMessage(ctx, account, message)
}
