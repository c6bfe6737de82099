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

// Package idempotency deduplicates keyed requests so their side effects occur
// at most once, no matter how many times an unreliable settlement engine
// redelivers them. Entries expire after the configured retention window;
// expiry stops deduplicating, it never undoes applied effects.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	redlock "github.com/lattice-pay/lattice/internal/lock"
	"github.com/lattice-pay/lattice/model"
)

const (
	entryPrefix = "idempotency:"
	lockPrefix  = "idempotency-lock:"

	lockTimeout = 30 * time.Second
	waitTimeout = 25 * time.Second
)

var ErrEmptyKey = errors.New("idempotency key must not be empty")

// Result is the cached outcome of a keyed request: the HTTP status code the
// first execution produced plus its serialized response body.
type Result struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// NewResult marshals a response payload into a cacheable Result.
func NewResult(status int, payload interface{}) (Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}
	return Result{Status: status, Body: body}, nil
}

// Store is a redis-backed execute-once layer. Concurrent callers with the
// same key serialize on a per-key lock; the losers are served the winner's
// cached result instead of re-executing.
type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewStore(client redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// ExecuteOnce runs op at most once for the given key. The second return value
// reports whether the result was replayed from cache. An error from op is not
// cached: the delivery can be retried cleanly.
func (s *Store) ExecuteOnce(ctx context.Context, key string, op func(ctx context.Context) (Result, error)) (Result, bool, error) {
	if key == "" {
		return Result{}, false, ErrEmptyKey
	}

	if result, ok, err := s.lookup(ctx, key); err != nil {
		return Result{}, false, err
	} else if ok {
		return result, true, nil
	}

	locker := redlock.NewLocker(s.client, lockPrefix+key, model.GenerateUUIDWithSuffix("idem"))
	if err := locker.WaitLock(ctx, lockTimeout, waitTimeout); err != nil {
		return Result{}, false, err
	}
	defer func() {
		if err := locker.Unlock(context.WithoutCancel(ctx)); err != nil {
			logrus.Warnf("idempotency unlock for key %s: %v", key, err)
		}
	}()

	// A concurrent caller may have completed while we waited for the lock.
	if result, ok, err := s.lookup(ctx, key); err != nil {
		return Result{}, false, err
	} else if ok {
		return result, true, nil
	}

	result, err := op(ctx)
	if err != nil {
		return Result{}, false, err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return Result{}, false, err
	}
	if err := s.client.Set(ctx, entryPrefix+key, payload, s.ttl).Err(); err != nil {
		return Result{}, false, err
	}
	return result, false, nil
}

func (s *Store) lookup(ctx context.Context, key string) (Result, bool, error) {
	payload, err := s.client.Get(ctx, entryPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}
	var result Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return Result{}, false, err
	}
	return result, true, nil
}
