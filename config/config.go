/*
Copyright 2024 Blnk Finance Authors.

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
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"PAYDASH_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"PAYDASH_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"PAYDASH_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"PAYDASH_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"PAYDASH_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"PAYDASH_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"PAYDASH_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"PAYDASH_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"PAYDASH_REDIS_SKIP_TLS_VERIFY"`
}

type TypeSenseConfig struct {
	Dns string `json:"dns" envconfig:"PAYDASH_TYPESENSE_DNS"`
}

type QueueConfig struct {
	WebhookQueue   string `json:"webhook_queue" envconfig:"PAYDASH_QUEUE_WEBHOOK"`
	IndexQueue     string `json:"index_queue" envconfig:"PAYDASH_QUEUE_INDEX"`
	MonitoringPort string `json:"monitoring_port" envconfig:"PAYDASH_QUEUE_MONITORING_PORT"`
}

// RoutingConfig tunes the routing engine caches, the metrics window and the
// scoring weights. Weights left at zero fall back to the built-in defaults.
type RoutingConfig struct {
	RuleCacheTTLSec  int            `json:"rule_cache_ttl_sec" envconfig:"PAYDASH_ROUTING_RULE_CACHE_TTL_SEC"`
	MetricsWindowSec int            `json:"metrics_window_sec" envconfig:"PAYDASH_ROUTING_METRICS_WINDOW_SEC"`
	MaxAttempts      int            `json:"max_attempts" envconfig:"PAYDASH_ROUTING_MAX_ATTEMPTS"`
	Weights          RoutingWeights `json:"weights"`
}

// RoutingWeights are the scoring component weights. They should sum to 1.
type RoutingWeights struct {
	SuccessRate  float64 `json:"success_rate" envconfig:"PAYDASH_ROUTING_WEIGHT_SUCCESS_RATE"`
	Availability float64 `json:"availability" envconfig:"PAYDASH_ROUTING_WEIGHT_AVAILABILITY"`
	Latency      float64 `json:"latency" envconfig:"PAYDASH_ROUTING_WEIGHT_LATENCY"`
	Cost         float64 `json:"cost" envconfig:"PAYDASH_ROUTING_WEIGHT_COST"`
	Priority     float64 `json:"priority" envconfig:"PAYDASH_ROUTING_WEIGHT_PRIORITY"`
}

// IsZero reports whether no weight was configured at all.
func (w RoutingWeights) IsZero() bool {
	return w.SuccessRate == 0 && w.Availability == 0 && w.Latency == 0 &&
		w.Cost == 0 && w.Priority == 0
}

// FxSourceConfig is one HTTP rate source, tried in listed order.
type FxSourceConfig struct {
	Name string `json:"name"`
	Url  string `json:"url"`
}

// FxConfig drives conversion: the source chain, the static fallback table
// ("USD:EUR" -> "0.92"), the spread and the rate cache TTL.
type FxConfig struct {
	SpreadBps   int64             `json:"spread_bps" envconfig:"PAYDASH_FX_SPREAD_BPS"`
	RateTTLSec  int               `json:"rate_ttl_sec" envconfig:"PAYDASH_FX_RATE_TTL_SEC"`
	Sources     []FxSourceConfig  `json:"sources"`
	StaticRates map[string]string `json:"static_rates"`
}

// ProviderConfig seeds the provider directory and configures its mock
// adapter: webhook signing secret plus simulated behavior.
type ProviderConfig struct {
	Code              string   `json:"code"`
	Name              string   `json:"name"`
	Status            string   `json:"status"`
	Currencies        []string `json:"currencies"`
	Methods           []string `json:"methods"`
	FeePercent        float64  `json:"fee_percent"`
	BaseLatencyMS     int64    `json:"base_latency_ms"`
	Priority          int      `json:"priority"`
	WebhookSecret     string   `json:"webhook_secret"`
	FailureRate       float64  `json:"failure_rate"`
	SimulateLatencyMS int64    `json:"simulate_latency_ms"`
}

// KafkaConfig enables lifecycle event publishing when brokers are set.
type KafkaConfig struct {
	Brokers          []string `json:"brokers" envconfig:"PAYDASH_KAFKA_BROKERS"`
	TransactionTopic string   `json:"transaction_topic" envconfig:"PAYDASH_KAFKA_TRANSACTION_TOPIC"`
}

// ReconciliationConfig tunes the mock settlement generator.
type ReconciliationConfig struct {
	MockPerturbRate float64 `json:"mock_perturb_rate" envconfig:"PAYDASH_RECON_MOCK_PERTURB_RATE"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"PAYDASH_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"PAYDASH_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"PAYDASH_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type OtelGrafanaCloud struct {
	OtelExporterOtlpProtocol string `json:"otel_exporter_otlp_protocol" envconfig:"OTEL_EXPORTER_OTLP_PROTOCOL"`
	OtelExporterOtlpEndpoint string `json:"otel_exporter_otlp_endpoint" envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelExporterOtlpHeaders  string `json:"otel_exporter_otlp_headers" envconfig:"OTEL_EXPORTER_OTLP_HEADERS"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type MerchantWebhook struct {
	Url           string            `json:"url"`
	SigningSecret string            `json:"signing_secret"`
	Headers       map[string]string `json:"headers"`
}

type Notification struct {
	Slack   SlackWebhook    `json:"slack"`
	Webhook MerchantWebhook `json:"webhook"`
}

type Configuration struct {
	ProjectName        string `json:"project_name" envconfig:"PAYDASH_PROJECT_NAME"`
	EnableTelemetry    bool   `json:"enable_telemetry" envconfig:"PAYDASH_ENABLE_TELEMETRY" default:"true"`
	AwsAccessKeyId     string `json:"aws_access_key_id"`
	AwsSecretAccessKey string `json:"aws_secret_access_key"`
	S3Endpoint         string `json:"s3_endpoint"`
	S3BucketName       string `json:"s3_bucket_name"`
	S3Region           string `json:"s3_region"`

	// SettlementCurrency is the default currency merchants settle in;
	// MerchantSettlementCurrencies overrides it per merchant id.
	SettlementCurrency           string            `json:"settlement_currency" envconfig:"PAYDASH_SETTLEMENT_CURRENCY"`
	MerchantSettlementCurrencies map[string]string `json:"merchant_settlement_currencies"`

	Server           ServerConfig         `json:"server"`
	DataSource       DataSourceConfig     `json:"data_source"`
	Redis            RedisConfig          `json:"redis"`
	TypeSense        TypeSenseConfig      `json:"typesense"`
	TypeSenseKey     string               `json:"type_sense_key"`
	Queue            QueueConfig          `json:"queue"`
	Routing          RoutingConfig        `json:"routing"`
	Fx               FxConfig             `json:"fx"`
	Providers        []ProviderConfig     `json:"providers"`
	Kafka            KafkaConfig          `json:"kafka"`
	Reconciliation   ReconciliationConfig `json:"reconciliation"`
	Notification     Notification         `json:"notification"`
	RateLimit        RateLimitConfig      `json:"rate_limit"`
	OtelGrafanaCloud OtelGrafanaCloud     `json:"otel_grafana_cloud"`
}

// SetGrafanaExporterEnvs exports the OTLP settings as environment
// variables so the otlptracehttp exporter picks them up.
func SetGrafanaExporterEnvs() error {
	cnf, err := Fetch()
	if err != nil {
		return err
	}
	envVars := map[string]string{
		"OTEL_EXPORTER_OTLP_PROTOCOL": cnf.OtelGrafanaCloud.OtelExporterOtlpProtocol,
		"OTEL_EXPORTER_OTLP_ENDPOINT": cnf.OtelGrafanaCloud.OtelExporterOtlpEndpoint,
		"OTEL_EXPORTER_OTLP_HEADERS":  cnf.OtelGrafanaCloud.OtelExporterOtlpHeaders,
	}
	for key, value := range envVars {
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

// SettlementCurrencyFor resolves the currency a merchant settles in.
func (cnf *Configuration) SettlementCurrencyFor(merchantID string) string {
	if currency, ok := cnf.MerchantSettlementCurrencies[merchantID]; ok {
		return currency
	}
	return cnf.SettlementCurrency
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
	err = envconfig.Process("paydash", &cnf)
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
		return nil, errors.New("config not loaded from file. Create a json file called paydash.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Paydash Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if cnf.TypeSense.Dns == "" {
		cnf.TypeSense.Dns = "http://typesense:8108"
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.SettlementCurrency == "" {
		cnf.SettlementCurrency = "USD"
	}

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "webhook_queue"
	}
	if cnf.Queue.IndexQueue == "" {
		cnf.Queue.IndexQueue = "index_queue"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5004"
	}

	if cnf.Routing.RuleCacheTTLSec <= 0 {
		cnf.Routing.RuleCacheTTLSec = 300
	}
	if cnf.Routing.MetricsWindowSec <= 0 {
		cnf.Routing.MetricsWindowSec = 3600
	}
	if cnf.Routing.MaxAttempts <= 0 {
		cnf.Routing.MaxAttempts = 3
	}

	if cnf.Fx.RateTTLSec <= 0 {
		cnf.Fx.RateTTLSec = 300
	}
	if cnf.Fx.SpreadBps < 0 {
		return errors.New("fx spread_bps cannot be negative")
	}

	if cnf.Reconciliation.MockPerturbRate <= 0 {
		cnf.Reconciliation.MockPerturbRate = 0.12
	}

	if len(cnf.Providers) == 0 {
		log.Println("Warning: no providers configured. Seeding the two default sandbox providers.")
		cnf.Providers = defaultProviders()
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

func defaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			Code:          "alphapay",
			Name:          "AlphaPay Sandbox",
			Status:        "ACTIVE",
			Currencies:    []string{"USD", "EUR", "GBP"},
			Methods:       []string{"card", "bank_transfer"},
			FeePercent:    2.9,
			BaseLatencyMS: 120,
			Priority:      1,
			WebhookSecret: "alphapay-sandbox-secret",
		},
		{
			Code:          "betapay",
			Name:          "BetaPay Sandbox",
			Status:        "ACTIVE",
			Currencies:    []string{"USD", "EUR", "NGN"},
			Methods:       []string{"card", "wallet"},
			FeePercent:    1.4,
			BaseLatencyMS: 450,
			Priority:      2,
			WebhookSecret: "betapay-sandbox-secret",
		},
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
