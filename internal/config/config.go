package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment variable, e.g. BUDGETSYNC_DB_PATH.
const EnvPrefix = "BUDGETSYNC"

const (
	RemoteMemory   = "memory"
	RemoteDynamoDB = "dynamodb"
)

type Config struct {
	// Local store
	DBPath string

	// Remote store
	RemoteBackend     string
	DynamoTable       string
	DynamoRegion      string
	DynamoEndpoint    string
	DynamoCreateTable bool

	// AMQP (optional: without it pushes run in-process)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Identity: a fixed user id, or a signed session token
	UserID     string
	AuthToken  string
	AuthSecret string

	// Reconciler
	SyncBatchSize  int
	SyncInterval   time.Duration
	SyncMaxRetries int
	PushTimeout    time.Duration

	// Google Sheets export
	SheetsSpreadsheetID   string
	SheetsSheetName       string
	SheetsCredentialsFile string

	LogLevel string
}

var defaults = map[string]any{
	"db_path":                 "./data/budgetsync.db",
	"remote_backend":          RemoteMemory,
	"dynamodb_table":          "budgetsync",
	"dynamodb_region":         "",
	"dynamodb_endpoint":       "",
	"dynamodb_create_table":   false,
	"amqp_url":                "",
	"amqp_exchange":           "budgetsync",
	"amqp_queue":              "sync_entities",
	"user_id":                 "",
	"auth_token":              "",
	"auth_secret":             "",
	"sync_batch_size":         "10",
	"sync_interval":           "10s",
	"sync_max_retries":        "5",
	"push_timeout":            "30s",
	"sheets_spreadsheet_id":   "",
	"sheets_sheet_name":       "Transactions",
	"sheets_credentials_file": "",
	"log_level":               "info",
}

// Load reads configuration from BUDGETSYNC_* environment variables and, when
// present, a YAML file using the same keys in lower case (db_path, amqp_url,
// ...). An explicit configFile must exist; otherwise ./budgetsync.yaml is
// used if found. Environment variables win over the file.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("budgetsync")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		DBPath: v.GetString("db_path"),

		RemoteBackend:     strings.ToLower(v.GetString("remote_backend")),
		DynamoTable:       v.GetString("dynamodb_table"),
		DynamoRegion:      v.GetString("dynamodb_region"),
		DynamoEndpoint:    v.GetString("dynamodb_endpoint"),
		DynamoCreateTable: v.GetBool("dynamodb_create_table"),

		AMQPURL:      v.GetString("amqp_url"),
		AMQPExchange: v.GetString("amqp_exchange"),
		AMQPQueue:    v.GetString("amqp_queue"),

		UserID:     v.GetString("user_id"),
		AuthToken:  v.GetString("auth_token"),
		AuthSecret: v.GetString("auth_secret"),

		SyncBatchSize:  getInt(v, "sync_batch_size", 10),
		SyncInterval:   getDuration(v, "sync_interval", 10*time.Second),
		SyncMaxRetries: getInt(v, "sync_max_retries", 5),
		PushTimeout:    getDuration(v, "push_timeout", 30*time.Second),

		SheetsSpreadsheetID:   v.GetString("sheets_spreadsheet_id"),
		SheetsSheetName:       v.GetString("sheets_sheet_name"),
		SheetsCredentialsFile: v.GetString("sheets_credentials_file"),

		LogLevel: v.GetString("log_level"),
	}
	return cfg, nil
}

// Validate validates the configuration and returns every problem at once
func (c *Config) Validate() error {
	var errs []string

	if c.DBPath == "" {
		errs = append(errs, "database path cannot be empty")
	} else {
		dir := filepath.Dir(c.DBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errs = append(errs, fmt.Sprintf("cannot create database directory '%s': %v", dir, err))
				}
			}
		}
	}

	switch c.RemoteBackend {
	case RemoteMemory:
	case RemoteDynamoDB:
		if c.DynamoTable == "" {
			errs = append(errs, "DynamoDB table name is required when using the dynamodb backend")
		}
		if c.DynamoEndpoint != "" {
			if u, err := url.Parse(c.DynamoEndpoint); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, fmt.Sprintf("invalid DynamoDB endpoint '%s'", c.DynamoEndpoint))
			}
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid remote backend '%s': must be one of [%s %s]", c.RemoteBackend, RemoteMemory, RemoteDynamoDB))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errs = append(errs, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.AuthToken != "" && c.AuthSecret == "" {
		errs = append(errs, "auth secret is required when an auth token is provided")
	}

	if c.SheetsCredentialsFile != "" {
		if _, err := os.Stat(c.SheetsCredentialsFile); os.IsNotExist(err) {
			errs = append(errs, fmt.Sprintf("Google credentials file does not exist: %s", c.SheetsCredentialsFile))
		}
	}

	if c.SyncBatchSize < 1 {
		errs = append(errs, fmt.Sprintf("invalid sync batch size %d: must be at least 1", c.SyncBatchSize))
	} else if c.SyncBatchSize > 1000 {
		errs = append(errs, fmt.Sprintf("invalid sync batch size %d: must be at most 1000", c.SyncBatchSize))
	}

	if c.SyncInterval < time.Second {
		errs = append(errs, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errs = append(errs, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}

	if c.SyncMaxRetries < 1 {
		errs = append(errs, fmt.Sprintf("invalid sync max retries %d: must be at least 1", c.SyncMaxRetries))
	}
	if c.PushTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("invalid push timeout %v: must be positive", c.PushTimeout))
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level '%s'", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// getInt falls back to def when the value does not parse.
func getInt(v *viper.Viper, key string, def int) int {
	if i, err := strconv.Atoi(strings.TrimSpace(v.GetString(key))); err == nil {
		return i
	}
	return def
}

func getDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(v.GetString(key))); err == nil {
		return d
	}
	return def
}
