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

package database

import (
	"database/sql"
	"fmt"
	"log"
	"sync"

	"github.com/lattice-pay/lattice/cache"
	"github.com/lattice-pay/lattice/config"
	redis_db "github.com/lattice-pay/lattice/internal/redis-db"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		var accountCache cache.Cache
		redisClient, errRedis := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
		if errRedis != nil {
			log.Printf("cache unavailable, reads go straight to the database: %v", errRedis)
		} else {
			accountCache = cache.NewCache(redisClient.Client())
		}
		instance = &Datasource{Conn: con, Cache: accountCache}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	err = Migrate(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates the schema and tables if they do not exist yet.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS lattice`); err != nil {
		return err
	}
	if err := createAccountTable(db); err != nil {
		return err
	}
	return createSettlementTable(db)
}

// createAccountTable creates a PostgreSQL table for the Account struct
func createAccountTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS lattice.accounts (
			id SERIAL PRIMARY KEY,
			account_id TEXT NOT NULL UNIQUE,
			asset_code TEXT NOT NULL,
			asset_scale SMALLINT NOT NULL,
			balance BIGINT NOT NULL DEFAULT 0,
			min_balance BIGINT,
			settle_threshold BIGINT,
			settle_to BIGINT NOT NULL DEFAULT 0,
			settlement_engine_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			meta_data JSONB
		)
	`)
	if err != nil {
		log.Printf("Error creating accounts table: %v", err)
	}
	return err
}

// createSettlementTable creates a PostgreSQL table for the SettlementRecord
// struct. The partial unique index backs the at-most-one-pending-trigger
// guarantee at the storage level.
func createSettlementTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS lattice.settlements (
			id SERIAL PRIMARY KEY,
			settlement_id TEXT NOT NULL UNIQUE,
			account_id TEXT NOT NULL REFERENCES lattice.accounts(account_id),
			amount BIGINT NOT NULL CHECK (amount >= 0),
			delta BIGINT NOT NULL,
			direction TEXT NOT NULL CHECK (direction IN ('OUTGOING', 'INCOMING')),
			idempotency_key TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL CHECK (status IN ('PENDING', 'CONFIRMED', 'FAILED')),
			failure_reason TEXT NOT NULL DEFAULT '',
			attempts INT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating settlements table: %v", err)
		return err
	}
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_settlements_pending_outgoing
		ON lattice.settlements (account_id)
		WHERE status = 'PENDING' AND direction = 'OUTGOING'
	`)
	if err != nil {
		log.Printf("Error creating pending settlement index: %v", err)
	}
	return err
}
