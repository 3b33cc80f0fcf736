// Package dynamo stores the per-user document tree in a single DynamoDB table.
//
// Every document lives under partition key pk = "users/{uid}/{kind}" with the
// entity id as sort key sk, so one Query returns a whole collection.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"budgetsync/internal/core"
	"budgetsync/internal/remote"
)

const (
	attrPK = "pk"
	attrSK = "sk"
)

// API is the subset of the DynamoDB client the store needs.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Config holds the connection settings for the table.
type Config struct {
	Region    string
	TableName string
	Endpoint  string // e.g. DynamoDB Local; empty for AWS
}

type Store struct {
	api   API
	table string
}

var (
	_ remote.Store   = (*Store)(nil)
	_ remote.Durable = (*Store)(nil)
)

type categoryItem struct {
	PK   string `dynamodbav:"pk"`
	SK   string `dynamodbav:"sk"`
	ID   string `dynamodbav:"id"`
	Name string `dynamodbav:"name"`
}

type transactionItem struct {
	PK          string                `dynamodbav:"pk"`
	SK          string                `dynamodbav:"sk"`
	ID          string                `dynamodbav:"id"`
	Amount      attributevalue.Number `dynamodbav:"amount"`
	Description string                `dynamodbav:"description"`
	CreatedAt   string                `dynamodbav:"createdAt"`
	CategoryID  string                `dynamodbav:"categoryId,omitempty"`
}

type profileItem struct {
	PK   string `dynamodbav:"pk"`
	SK   string `dynamodbav:"sk"`
	Name string `dynamodbav:"name"`
}

// New builds a store backed by the AWS SDK default credential chain.
func New(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.TableName), nil
}

func NewWithClient(api API, table string) *Store {
	return &Store{api: api, table: table}
}

// EnsureTable creates the table with on-demand billing if it does not exist.
func (s *Store) EnsureTable(ctx context.Context) error {
	_, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return classify("describe table", err)
	}

	slog.InfoContext(ctx, "Creating DynamoDB table", "table", s.table)
	_, err = s.api.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrPK), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrSK), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrPK), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(attrSK), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return classify("create table", err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.api)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}, 2*time.Minute); err != nil {
		return classify("wait for table", err)
	}
	return nil
}

func (s *Store) PushCategory(ctx context.Context, userID string, c core.Category) error {
	f := remote.CategoryFieldsFrom(c)
	return s.put(ctx, "push category", categoryItem{
		PK:   remote.CollectionPath(userID, core.KindCategory),
		SK:   f.ID,
		ID:   f.ID,
		Name: f.Name,
	})
}

func (s *Store) PushTransaction(ctx context.Context, userID string, t core.Transaction) error {
	f := remote.TransactionFieldsFrom(t)
	return s.put(ctx, "push transaction", transactionItem{
		PK:          remote.CollectionPath(userID, core.KindTransaction),
		SK:          f.ID,
		ID:          f.ID,
		Amount:      attributevalue.Number(f.Amount),
		Description: f.Description,
		CreatedAt:   f.CreatedAt,
		CategoryID:  f.CategoryID,
	})
}

func (s *Store) PullCategories(ctx context.Context, userID string) (remote.Pull[core.Category], error) {
	items, err := s.query(ctx, "pull categories", remote.CollectionPath(userID, core.KindCategory))
	if err != nil {
		return remote.Pull[core.Category]{}, err
	}
	var out remote.Pull[core.Category]
	for _, item := range items {
		c, derr := decodeCategory(item)
		if derr != nil {
			out.Failures = append(out.Failures, derr)
			continue
		}
		out.Items = append(out.Items, c)
	}
	return out, nil
}

func (s *Store) PullTransactions(ctx context.Context, userID string) (remote.Pull[core.Transaction], error) {
	items, err := s.query(ctx, "pull transactions", remote.CollectionPath(userID, core.KindTransaction))
	if err != nil {
		return remote.Pull[core.Transaction]{}, err
	}
	var out remote.Pull[core.Transaction]
	for _, item := range items {
		t, derr := decodeTransaction(item)
		if derr != nil {
			out.Failures = append(out.Failures, derr)
			continue
		}
		out.Items = append(out.Items, t)
	}
	return out, nil
}

// Durable implements remote.Durable; table items outlive the process.
func (s *Store) Durable() bool { return true }

func (s *Store) FetchCategory(ctx context.Context, userID, id string) (core.Category, error) {
	item, err := s.get(ctx, "fetch category", remote.CollectionPath(userID, core.KindCategory), id)
	if err != nil {
		return core.Category{}, err
	}
	if len(item) == 0 {
		return core.Category{}, fmt.Errorf("category %s: %w", id, core.ErrNotFound)
	}
	c, derr := decodeCategory(item)
	if derr != nil {
		return core.Category{}, derr
	}
	return c, nil
}

func (s *Store) Delete(ctx context.Context, userID string, kind core.Kind, id string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       key(remote.CollectionPath(userID, kind), id),
	})
	if err != nil {
		return classify("delete", err)
	}
	return nil
}

func (s *Store) ProfileExists(ctx context.Context, userID string) (bool, error) {
	item, err := s.get(ctx, "profile exists", remote.ProfilePath(userID), remote.ProfileDocID)
	if err != nil {
		return false, err
	}
	return len(item) > 0, nil
}

func (s *Store) CreateProfile(ctx context.Context, userID string, p core.Profile) error {
	return s.put(ctx, "create profile", profileItem{
		PK:   remote.ProfilePath(userID),
		SK:   remote.ProfileDocID,
		Name: p.Name,
	})
}

func (s *Store) put(ctx context.Context, op string, v any) error {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return fmt.Errorf("%s: marshal item: %w", op, err)
	}
	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return classify(op, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, op, pk, sk string) (map[string]types.AttributeValue, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return out.Item, nil
}

func (s *Store) query(ctx context.Context, op, pk string) ([]map[string]types.AttributeValue, error) {
	paginator := dynamodb.NewQueryPaginator(s.api, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{
			"#pk": attrPK,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
		ConsistentRead: aws.Bool(true),
	})

	var items []map[string]types.AttributeValue
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify(op, err)
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: pk},
		attrSK: &types.AttributeValueMemberS{Value: sk},
	}
}

func docID(item map[string]types.AttributeValue) string {
	if v, ok := item[attrSK].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func decodeCategory(item map[string]types.AttributeValue) (core.Category, *core.DecodeError) {
	id := docID(item)
	var ci categoryItem
	if err := attributevalue.UnmarshalMap(item, &ci); err != nil {
		return core.Category{}, &core.DecodeError{Kind: core.KindCategory, DocumentID: id, Err: err}
	}
	c, err := remote.CategoryFields{ID: ci.ID, Name: ci.Name}.Decode(id)
	if err != nil {
		return core.Category{}, asDecodeError(core.KindCategory, id, err)
	}
	return c, nil
}

func decodeTransaction(item map[string]types.AttributeValue) (core.Transaction, *core.DecodeError) {
	id := docID(item)
	var ti transactionItem
	if err := attributevalue.UnmarshalMap(item, &ti); err != nil {
		return core.Transaction{}, &core.DecodeError{Kind: core.KindTransaction, DocumentID: id, Err: err}
	}
	t, err := remote.TransactionFields{
		ID:          ti.ID,
		Description: ti.Description,
		Amount:      ti.Amount.String(),
		CreatedAt:   ti.CreatedAt,
		CategoryID:  ti.CategoryID,
	}.Decode(id)
	if err != nil {
		return core.Transaction{}, asDecodeError(core.KindTransaction, id, err)
	}
	return t, nil
}

func asDecodeError(kind core.Kind, id string, err error) *core.DecodeError {
	var de *core.DecodeError
	if errors.As(err, &de) {
		return de
	}
	return &core.DecodeError{Kind: kind, DocumentID: id, Err: err}
}

var authErrorCodes = map[string]struct{}{
	"AccessDeniedException":       {},
	"AccessDenied":                {},
	"ExpiredToken":                {},
	"ExpiredTokenException":       {},
	"UnrecognizedClientException": {},
	"InvalidSignatureException":   {},
	"MissingAuthenticationToken":  {},
}

// classify wraps an SDK error as a RemoteError, separating rejected
// credentials from everything else.
func classify(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := authErrorCodes[apiErr.ErrorCode()]; ok {
			return core.NewAuthError(op, err)
		}
	}
	return core.NewNetworkError(op, err)
}
