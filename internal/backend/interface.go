package backend

import (
	"context"
	"time"

	"budgetsync/internal/identity"
	"budgetsync/internal/remote"
	"budgetsync/internal/services"
	"budgetsync/internal/sheets"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Factory builds the pluggable pieces of the sync stack from configuration
type Factory interface {
	CreateRemote(ctx context.Context, config Config) (remote.Store, error)
	CreateIdentity(config Config) (identity.Provider, error)
	CreateDispatcher(config Config, processor *services.SyncProcessor) (services.Dispatcher, CleanupFunc)
	CreateExporter(ctx context.Context, config Config) (sheets.ExportReader, error)
}

// Config holds configuration for backend creation
type Config struct {
	Remote RemoteType

	// DynamoDB specific
	DynamoTable       string
	DynamoRegion      string
	DynamoEndpoint    string
	DynamoCreateTable bool

	// AMQP; empty URL means in-process dispatch
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	PushTimeout  time.Duration

	// Identity
	UserID     string
	AuthToken  string
	AuthSecret string

	// Google Sheets; empty spreadsheet id means in-memory export
	SheetsSpreadsheetID   string
	SheetsSheetName       string
	SheetsCredentialsFile string
}

// RemoteType selects the remote document store
type RemoteType string

const (
	MemoryRemote   RemoteType = "memory"
	DynamoDBRemote RemoteType = "dynamodb"
)

// String implements fmt.Stringer
func (rt RemoteType) String() string {
	return string(rt)
}

// IsValid returns true if the remote type is valid
func (rt RemoteType) IsValid() bool {
	switch rt {
	case MemoryRemote, DynamoDBRemote:
		return true
	default:
		return false
	}
}
