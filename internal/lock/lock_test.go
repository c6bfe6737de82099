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

package redlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func newTestClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestLockAndUnlock(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	locker := NewLocker(client, "acc_1", "holder-a")
	assert.NoError(t, locker.Lock(ctx, time.Minute))

	second := NewLocker(client, "acc_1", "holder-b")
	assert.Error(t, second.Lock(ctx, time.Minute))

	assert.NoError(t, locker.Unlock(ctx))
	assert.NoError(t, second.Lock(ctx, time.Minute))
}

func TestUnlockByNonHolder(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	locker := NewLocker(client, "acc_2", "holder-a")
	assert.NoError(t, locker.Lock(ctx, time.Minute))

	intruder := NewLocker(client, "acc_2", "holder-b")
	assert.Error(t, intruder.Unlock(ctx))
}

func TestWaitLockAcquiresAfterRelease(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	first := NewLocker(client, "acc_3", "holder-a")
	assert.NoError(t, first.Lock(ctx, time.Minute))

	go func() {
		time.Sleep(150 * time.Millisecond)
		_ = first.Unlock(context.Background())
	}()

	second := NewLocker(client, "acc_3", "holder-b")
	assert.NoError(t, second.WaitLock(ctx, time.Minute, 2*time.Second))
}
