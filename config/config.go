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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5005"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"LATTICE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"LATTICE_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"LATTICE_SERVER_PORT"`
	SSL       bool   `json:"ssl" envconfig:"LATTICE_SERVER_SSL"`
	Domain    string `json:"domain" envconfig:"LATTICE_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"LATTICE_SERVER_SSL_EMAIL"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"LATTICE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"LATTICE_REDIS_DNS"`
}

// SettlementConfig tunes the outgoing settlement trigger and the idempotency
// retention window for inbound engine notifications.
type SettlementConfig struct {
	MaxRetryAttempts  int `json:"max_retry_attempts" envconfig:"LATTICE_SETTLEMENT_MAX_RETRY_ATTEMPTS"`
	RequestTimeoutSec int `json:"request_timeout_sec" envconfig:"LATTICE_SETTLEMENT_REQUEST_TIMEOUT_SEC"`
	IdempotencyTTLSec int `json:"idempotency_ttl_sec" envconfig:"LATTICE_SETTLEMENT_IDEMPOTENCY_TTL_SEC"`
}

type QueueConfig struct {
	SettlementQueue string `json:"settlement_queue" envconfig:"LATTICE_QUEUE_SETTLEMENT_QUEUE"`
	NumberOfQueues  int    `json:"number_of_queues" envconfig:"LATTICE_QUEUE_NUMBER_OF_QUEUES"`
	MonitoringPort  string `json:"monitoring_port" envconfig:"LATTICE_QUEUE_MONITORING_PORT"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"LATTICE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"LATTICE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"LATTICE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"LATTICE_PROJECT_NAME"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Settlement   SettlementConfig `json:"settlement"`
	Queue        QueueConfig      `json:"queue"`
	Notification Notification     `json:"notification"`
	RateLimit    RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("lattice", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called lattice.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Lattice Connector"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Settlement.MaxRetryAttempts <= 0 {
		cnf.Settlement.MaxRetryAttempts = 5
	}
	if cnf.Settlement.RequestTimeoutSec <= 0 {
		cnf.Settlement.RequestTimeoutSec = 10
	}
	if cnf.Settlement.IdempotencyTTLSec <= 0 {
		cnf.Settlement.IdempotencyTTLSec = 86400 // 24 hours
	}

	if cnf.Queue.SettlementQueue == "" {
		cnf.Queue.SettlementQueue = "new:settlement"
	}
	if cnf.Queue.NumberOfQueues <= 0 {
		cnf.Queue.NumberOfQueues = 4
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5006"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	mockConfig.applyTestDefaults()
	ConfigStore.Store(mockConfig)
}

func (cnf *Configuration) applyTestDefaults() {
	if cnf.Settlement.MaxRetryAttempts <= 0 {
		cnf.Settlement.MaxRetryAttempts = 3
	}
	if cnf.Settlement.RequestTimeoutSec <= 0 {
		cnf.Settlement.RequestTimeoutSec = 1
	}
	if cnf.Settlement.IdempotencyTTLSec <= 0 {
		cnf.Settlement.IdempotencyTTLSec = 3600
	}
	if cnf.Queue.SettlementQueue == "" {
		cnf.Queue.SettlementQueue = "new:settlement"
	}
	if cnf.Queue.NumberOfQueues <= 0 {
		cnf.Queue.NumberOfQueues = 1
	}
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
