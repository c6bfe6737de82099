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
	"fmt"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/lattice-pay/lattice/config"
	"github.com/lattice-pay/lattice/internal/apierror"
	"github.com/lattice-pay/lattice/internal/idempotency"
	"github.com/lattice-pay/lattice/internal/notification"
	"github.com/lattice-pay/lattice/model"
)

// ExecuteSettlement drives a pending outgoing settlement record to a terminal
// state. It sends the settlement request to the account's engine, retrying
// transient failures with exponential backoff up to the configured attempt
// limit, then confirms or fails the record.
//
// The engine call happens outside any account lock: fulfillments keep flowing
// while a settlement is in flight. The record's own idempotency key makes the
// engine side safe under retries and worker crashes.
func (l *Lattice) ExecuteSettlement(ctx context.Context, settlementID string) error {
	ctx, span := tracer.Start(ctx, "Executing settlement")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	record, err := l.datasource.GetSettlement(ctx, settlementID)
	if err != nil {
		return logAndRecordError(span, "fetch settlement error: ", err)
	}
	if record.Status != model.SettlementStatusPending {
		logrus.Infof("settlement %s already %s, skipping", record.SettlementID, record.Status)
		return nil
	}
	if record.Direction != model.SettlementDirectionOutgoing {
		return nil
	}

	account, err := l.datasource.GetAccountByID(ctx, record.AccountID)
	if err != nil {
		return logAndRecordError(span, "fetch account error: ", err)
	}

	attempts := record.Attempts
	operation := func() error {
		attempts++
		if err := l.datasource.UpdateSettlementAttempts(ctx, record.SettlementID, attempts); err != nil {
			logrus.Warnf("failed to persist attempt count for %s: %v", record.SettlementID, err)
		}

		sendErr := l.engine.SendSettlement(ctx, account, record)
		if sendErr == nil {
			return nil
		}
		if apierror.IsCode(sendErr, apierror.ErrEngineRejected) {
			return backoff.Permanent(sendErr)
		}
		if attempts >= cfg.Settlement.MaxRetryAttempts {
			return backoff.Permanent(sendErr)
		}
		logrus.Warnf("settlement %s attempt %d failed: %v", record.SettlementID, attempts, sendErr)
		return sendErr
	}

	err = backoff.Retry(operation, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
	if err != nil {
		return l.failSettlement(ctx, span, record, err)
	}

	confirmed, err := l.datasource.ConfirmOutgoingSettlement(ctx, record.SettlementID)
	if err != nil {
		return logAndRecordError(span, "confirm settlement error: ", err)
	}
	if !confirmed {
		logrus.Infof("settlement %s was resolved concurrently", record.SettlementID)
		return nil
	}
	logrus.Infof("settlement %s confirmed: %d applied to account %s", record.SettlementID, record.Delta, record.AccountID)
	return nil
}

func (l *Lattice) failSettlement(ctx context.Context, span trace.Span, record *model.SettlementRecord, cause error) error {
	span.RecordError(cause)
	failed, err := l.datasource.FailOutgoingSettlement(ctx, record.SettlementID, cause.Error())
	if err != nil {
		return err
	}
	if failed {
		logrus.Errorf("settlement %s failed permanently: %v", record.SettlementID, cause)
		notification.NotifyError(fmt.Errorf("settlement %s for account %s failed: %w", record.SettlementID, record.AccountID, cause))
	}
	return cause
}

// OnIncomingSettlement credits an incoming settlement reported by the
// engine. The engine's idempotency key scopes the whole operation through the
// redis replay cache; the unique constraint on the settlement record is the
// durable backstop once the cache entry expires. The amount arrives in the
// engine's scale and is truncated toward zero into the account's scale.
func (l *Lattice) OnIncomingSettlement(ctx context.Context, accountID, idempotencyKey string, quantity model.Quantity) (idempotency.Result, bool, error) {
	ctx, span := tracer.Start(ctx, "Crediting incoming settlement")
	defer span.End()

	return l.idempotency.ExecuteOnce(ctx, idempotencyKey, func(ctx context.Context) (idempotency.Result, error) {
		account, err := l.datasource.GetAccountByID(ctx, accountID)
		if err != nil {
			return idempotency.Result{}, err
		}

		amount, err := quantity.ConvertToScale(account.AssetScale)
		if err != nil {
			return idempotency.Result{}, apierror.NewAPIError(apierror.ErrInvalidInput, "Invalid settlement quantity", err)
		}

		applied := model.NewQuantity(amount, account.AssetScale)
		if amount == 0 {
			// The whole amount fell below one unit of the account scale.
			return idempotency.NewResult(http.StatusOK, applied)
		}

		update, err := l.datasource.RecordIncomingSettlement(ctx, accountID, amount, idempotencyKey)
		if err != nil {
			return idempotency.Result{}, logAndRecordError(span, "record incoming settlement error: ", err)
		}
		logrus.Infof("credited incoming settlement of %d to account %s, balance now %d",
			amount, accountID, update.Account.Balance)
		return idempotency.NewResult(http.StatusOK, applied)
	})
}

// GetSettlement returns a single settlement record.
func (l *Lattice) GetSettlement(ctx context.Context, settlementID string) (*model.SettlementRecord, error) {
	return l.datasource.GetSettlement(ctx, settlementID)
}

// GetSettlementsByAccount lists an account's settlement history, newest
// first.
func (l *Lattice) GetSettlementsByAccount(ctx context.Context, accountID string) ([]model.SettlementRecord, error) {
	return l.datasource.GetSettlementsByAccount(ctx, accountID)
}

// RequeuePendingSettlements re-enqueues every pending outgoing settlement
// record. Run at worker startup: a record whose task was lost to a crash
// between trigger commit and enqueue gets a new task here, and the task ID
// dedupe makes re-enqueueing an already-queued record harmless.
func (l *Lattice) RequeuePendingSettlements(ctx context.Context) error {
	accounts, err := l.datasource.GetAllAccounts(ctx)
	if err != nil {
		return err
	}

	requeued := 0
	for _, account := range accounts {
		record, err := l.datasource.GetPendingOutgoingSettlement(ctx, account.AccountID)
		if err != nil {
			return err
		}
		if record == nil {
			continue
		}
		if err := l.queue.Enqueue(ctx, record); err != nil {
			logrus.Errorf("failed to requeue settlement %s: %v", record.SettlementID, err)
			continue
		}
		requeued++
	}
	if requeued > 0 {
		logrus.Infof("requeued %d pending settlements", requeued)
	}
	return nil
}
