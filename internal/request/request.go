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

package request

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

// IdempotencyHeader carries the caller-supplied idempotency key on settlement
// requests in both directions of the engine contract.
const IdempotencyHeader = "Idempotency-Key"

// ToJsonReq converts a Go object to a JSON-encoded HTTP request payload.
func ToJsonReq(payload interface{}) (*bytes.Buffer, error) {
	c, e := json.Marshal(payload)
	if e != nil {
		return nil, e
	}
	return bytes.NewBuffer(c), nil
}

// Call sends the prepared request with a JSON content type and decodes the
// JSON response body into response when it is non-nil. The raw http.Response
// is returned either way so callers can inspect the status code.
func Call(req *http.Request, response interface{}) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{}

	resp, err := client.Do(req)
	if err != nil {
		return resp, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if response == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp, nil
	}
	err = json.NewDecoder(resp.Body).Decode(&response)
	if err != nil && err != io.EOF {
		return resp, err
	}
	return resp, nil
}
