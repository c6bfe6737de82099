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
	"hash/fnv"
	"log"

	"github.com/hibiken/asynq"

	"github.com/lattice-pay/lattice/config"
	redis_db "github.com/lattice-pay/lattice/internal/redis-db"
	"github.com/lattice-pay/lattice/model"
)

// Queue hands settlement execution off to background workers.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// SettlementTaskPayload is the wire form of a queued settlement task.
type SettlementTaskPayload struct {
	Data model.SettlementRecord
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// Enqueue places a settlement record on one of the sharded settlement queues.
// The task ID is the settlement ID, so re-enqueueing the same record (crash
// recovery, duplicate trigger delivery) collapses into a single task.
func (q *Queue) Enqueue(ctx context.Context, record *model.SettlementRecord) error {
	ctx, span := tracer.Start(ctx, "Adding settlement to queue")
	defer span.End()

	payload, err := json.Marshal(SettlementTaskPayload{Data: *record})
	if err != nil {
		return err
	}
	info, err := q.Client.EnqueueContext(ctx, q.getTask(record, payload), asynq.MaxRetry(5))
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued settlement: %+v", record.SettlementID)
	return nil
}

// getTask assigns the record to a queue shard based on its account ID. All
// settlements for one account land on the same shard and therefore process
// serially, while accounts spread across shards run in parallel.
func (q *Queue) getTask(record *model.SettlementRecord, payload []byte) *asynq.Task {
	cnf, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config: %v", err)
		return asynq.NewTask("new:settlement_1", payload, asynq.TaskID(record.SettlementID), asynq.Queue("new:settlement_1"))
	}
	queueIndex := hashAccountID(record.AccountID) % cnf.Queue.NumberOfQueues
	queueName := fmt.Sprintf("%s_%d", cnf.Queue.SettlementQueue, queueIndex+1)

	return asynq.NewTask(queueName, payload, asynq.TaskID(record.SettlementID), asynq.Queue(queueName))
}

// hashAccountID returns a consistent hash value for a string account ID.
func hashAccountID(accountID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(accountID))
	return int(h.Sum32())
}
