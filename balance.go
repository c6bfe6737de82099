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

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/lattice-pay/lattice/model"
)

var tracer = otel.Tracer("lattice.settlement")

func logAndRecordError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	logrus.Error(msg, err)
	return err
}

// RecordFulfillment applies a signed packet-fulfillment delta to an account.
// A positive delta means this node now owes the peer more; a negative delta
// means the peer's debt to this node grew. When the new balance crosses the
// account's settle threshold, the atomically created trigger record is handed
// to the settlement queue before this call returns.
func (l *Lattice) RecordFulfillment(ctx context.Context, accountID string, delta int64) (*model.BalanceUpdate, error) {
	ctx, span := tracer.Start(ctx, "Recording fulfillment")
	defer span.End()

	update, err := l.datasource.ApplyBalanceDelta(ctx, accountID, delta, false)
	if err != nil {
		return nil, logAndRecordError(span, "apply balance delta error: ", err)
	}

	if update.Trigger != nil {
		span.AddEvent("settle threshold crossed")
		if err := l.queue.Enqueue(ctx, update.Trigger); err != nil {
			// The pending record survives; the recovery sweep picks it up.
			logrus.Errorf("failed to enqueue settlement %s: %v", update.Trigger.SettlementID, err)
			span.RecordError(err)
		}
	}
	return update, nil
}
