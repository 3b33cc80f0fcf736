package backend

import (
	"fmt"

	"budgetsync/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	remoteType := RemoteType(appConfig.RemoteBackend)
	if !remoteType.IsValid() {
		return Config{}, fmt.Errorf("invalid remote backend in config: %s", appConfig.RemoteBackend)
	}

	return Config{
		Remote: remoteType,

		DynamoTable:       appConfig.DynamoTable,
		DynamoRegion:      appConfig.DynamoRegion,
		DynamoEndpoint:    appConfig.DynamoEndpoint,
		DynamoCreateTable: appConfig.DynamoCreateTable,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,
		PushTimeout:  appConfig.PushTimeout,

		UserID:     appConfig.UserID,
		AuthToken:  appConfig.AuthToken,
		AuthSecret: appConfig.AuthSecret,

		SheetsSpreadsheetID:   appConfig.SheetsSpreadsheetID,
		SheetsSheetName:       appConfig.SheetsSheetName,
		SheetsCredentialsFile: appConfig.SheetsCredentialsFile,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Remote.IsValid() {
		return fmt.Errorf("invalid remote backend: %s", c.Remote)
	}
	if c.Remote == DynamoDBRemote && c.DynamoTable == "" {
		return fmt.Errorf("DynamoDB table name is required for dynamodb backend")
	}
	if c.AuthToken != "" && c.AuthSecret == "" {
		return fmt.Errorf("auth secret is required to verify the auth token")
	}
	// AMQP and Sheets are optional, so we don't validate them
	return nil
}

// GetRemoteTypes returns all valid remote types
func GetRemoteTypes() []RemoteType {
	return []RemoteType{MemoryRemote, DynamoDBRemote}
}
