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
	"embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lattice-pay/lattice/config"
	"github.com/lattice-pay/lattice/database"
	"github.com/lattice-pay/lattice/internal/idempotency"
	redis_db "github.com/lattice-pay/lattice/internal/redis-db"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// Lattice is the connector core. It owns the account ledger, the settlement
// trigger pipeline and the settlement-engine client.
type Lattice struct {
	queue       *Queue
	redis       redis.UniversalClient
	datasource  database.IDataSource
	engine      *EngineClient
	idempotency *idempotency.Store
}

// NewLattice initializes the connector core with the provided datasource.
// It fetches the configuration and wires up the redis client, the task queue,
// the idempotency store and the settlement-engine HTTP client.
func NewLattice(db database.IDataSource) (*Lattice, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}

	newQueue := NewQueue(configuration)
	engine := NewEngineClient(time.Duration(configuration.Settlement.RequestTimeoutSec) * time.Second)
	idem := idempotency.NewStore(redisClient.Client(), time.Duration(configuration.Settlement.IdempotencyTTLSec)*time.Second)

	return &Lattice{
		datasource:  db,
		queue:       newQueue,
		redis:       redisClient.Client(),
		engine:      engine,
		idempotency: idem,
	}, nil
}
