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
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lattice-pay/lattice/internal/apierror"
	"github.com/lattice-pay/lattice/internal/request"
	"github.com/lattice-pay/lattice/model"
)

// EngineClient talks to an account's settlement engine over HTTP. The engine
// owns the actual on-ledger transfer; the connector only tells it how much to
// move and with which idempotency key.
type EngineClient struct {
	timeout time.Duration
}

func NewEngineClient(timeout time.Duration) *EngineClient {
	return &EngineClient{timeout: timeout}
}

// engineURL joins the account's engine base URL with a path, tolerating a
// trailing slash in the configured URL.
func engineURL(account *model.Account, path string) string {
	return strings.TrimRight(account.SettlementEngineURL, "/") + path
}

// RegisterAccount announces the account to its settlement engine so the
// engine can set up whatever on-ledger state it needs before the first
// settlement.
func (e *EngineClient) RegisterAccount(ctx context.Context, account *model.Account) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	payload, err := request.ToJsonReq(map[string]string{"id": account.AccountID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, engineURL(account, "/accounts"), payload)
	if err != nil {
		return err
	}

	resp, err := request.Call(req, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrEngineUnreachable, "Failed to reach settlement engine", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return engineStatusError(resp.StatusCode, "account registration")
	}
	return nil
}

// SendSettlement asks the engine to execute an outgoing settlement for the
// record's amount, converted to the engine's own scale. The record's
// idempotency key rides along in the Idempotency-Key header, so a retried
// request can never pay twice.
func (e *EngineClient) SendSettlement(ctx context.Context, account *model.Account, record *model.SettlementRecord) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	quantity := model.NewQuantity(record.Amount, account.AssetScale)
	payload, err := request.ToJsonReq(quantity)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		engineURL(account, fmt.Sprintf("/accounts/%s/settlements", account.AccountID)), payload)
	if err != nil {
		return err
	}
	req.Header.Set(request.IdempotencyHeader, record.IdempotencyKey)

	resp, err := request.Call(req, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrEngineUnreachable, "Failed to reach settlement engine", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return engineStatusError(resp.StatusCode, "settlement")
	}
	return nil
}

// SendMessage relays an opaque peer message to the engine and returns the
// engine's raw reply. The connector does not interpret either side of the
// exchange.
func (e *EngineClient) SendMessage(ctx context.Context, account *model.Account, message json.RawMessage) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		engineURL(account, fmt.Sprintf("/accounts/%s/messages", account.AccountID)), strings.NewReader(string(message)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	client := &http.Client{Timeout: e.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrEngineUnreachable, "Failed to reach settlement engine", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read engine reply", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, engineStatusError(resp.StatusCode, "message relay")
	}
	return body, nil
}

// engineStatusError maps an engine HTTP status to an error class. 5xx means
// the engine might recover, so the caller may retry; anything else in the
// error range is a rejection the connector must not retry.
func engineStatusError(status int, operation string) error {
	if status >= http.StatusInternalServerError {
		return apierror.NewAPIError(apierror.ErrEngineUnreachable,
			fmt.Sprintf("Settlement engine %s returned %d", operation, status), status)
	}
	return apierror.NewAPIError(apierror.ErrEngineRejected,
		fmt.Sprintf("Settlement engine rejected %s with %d", operation, status), status)
}
