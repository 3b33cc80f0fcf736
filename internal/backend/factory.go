package backend

import (
	"context"
	"fmt"
	"log/slog"

	"budgetsync/internal/amqp"
	"budgetsync/internal/identity"
	"budgetsync/internal/remote"
	"budgetsync/internal/remote/dynamo"
	"budgetsync/internal/remote/memory"
	"budgetsync/internal/services"
	"budgetsync/internal/sheets"
	gsheet "budgetsync/internal/sheets/google"
	memsheet "budgetsync/internal/sheets/memory"
)

var _ services.Dispatcher = (*amqp.Client)(nil)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

// CreateRemote implements Factory.CreateRemote
func (f *DefaultFactory) CreateRemote(ctx context.Context, config Config) (remote.Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Remote {
	case MemoryRemote:
		f.logger.Info("Using in-memory remote store")
		return memory.New(), nil
	case DynamoDBRemote:
		store, err := dynamo.New(ctx, dynamo.Config{
			Region:    config.DynamoRegion,
			TableName: config.DynamoTable,
			Endpoint:  config.DynamoEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize DynamoDB store: %w", err)
		}
		if config.DynamoCreateTable {
			if err := store.EnsureTable(ctx); err != nil {
				return nil, fmt.Errorf("failed to ensure DynamoDB table: %w", err)
			}
		}
		f.logger.Info("Initialized DynamoDB remote store",
			"table", config.DynamoTable,
			"endpoint", config.DynamoEndpoint)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported remote backend: %s", config.Remote)
	}
}

// CreateIdentity returns a session when a token is configured and a static
// identity otherwise. An invalid token is an error.
func (f *DefaultFactory) CreateIdentity(config Config) (identity.Provider, error) {
	if config.AuthToken == "" {
		return identity.Static{UID: config.UserID}, nil
	}
	session := identity.NewSession(config.AuthSecret)
	user, err := session.SignIn(config.AuthToken)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	f.logger.Info("Signed in", "user_id", user.UID)
	return session, nil
}

// CreateDispatcher publishes to AMQP when configured, falling back to
// in-process pushes when no broker is configured or reachable.
func (f *DefaultFactory) CreateDispatcher(config Config, processor *services.SyncProcessor) (services.Dispatcher, CleanupFunc) {
	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err == nil {
			f.logger.Info("Initialized AMQP dispatcher",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
			return client, client.Close
		}
		f.logger.Warn("Failed to initialize AMQP client, pushing in-process", "error", err)
	}

	inline := services.NewInlineDispatcher(processor, config.PushTimeout)
	return inline, func() error {
		inline.Wait()
		return nil
	}
}

// CreateExporter implements Factory.CreateExporter
func (f *DefaultFactory) CreateExporter(ctx context.Context, config Config) (sheets.ExportReader, error) {
	if config.SheetsSpreadsheetID == "" {
		return memsheet.New(), nil
	}
	cli, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   config.SheetsSpreadsheetID,
		SheetName:       config.SheetsSheetName,
		CredentialsFile: config.SheetsCredentialsFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	return cli, nil
}
