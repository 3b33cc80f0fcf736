package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budgetsync/internal/core"
	"budgetsync/internal/remote"
)

// fakeAPI is an in-memory table keyed by pk then sk.
type fakeAPI struct {
	mu       sync.Mutex
	items    map[string]map[string]map[string]types.AttributeValue
	pageSize int
	err      error
	queries  int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{items: make(map[string]map[string]map[string]types.AttributeValue), pageSize: 100}
}

func keyOf(m map[string]types.AttributeValue) (string, string) {
	pk := m[attrPK].(*types.AttributeValueMemberS).Value
	sk := m[attrSK].(*types.AttributeValueMemberS).Value
	return pk, sk
}

func (f *fakeAPI) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	pk, sk := keyOf(in.Item)
	if f.items[pk] == nil {
		f.items[pk] = make(map[string]map[string]types.AttributeValue)
	}
	f.items[pk][sk] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeAPI) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	pk, sk := keyOf(in.Key)
	return &dynamodb.GetItemOutput{Item: f.items[pk][sk]}, nil
}

func (f *fakeAPI) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	pk, sk := keyOf(in.Key)
	delete(f.items[pk], sk)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeAPI) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	sks := make([]string, 0, len(f.items[pk]))
	for sk := range f.items[pk] {
		sks = append(sks, sk)
	}
	sort.Strings(sks)

	start := 0
	if in.ExclusiveStartKey != nil {
		_, after := keyOf(in.ExclusiveStartKey)
		start = sort.SearchStrings(sks, after) + 1
	}
	end := start + f.pageSize
	if end > len(sks) {
		end = len(sks)
	}

	out := &dynamodb.QueryOutput{}
	for _, sk := range sks[start:end] {
		out.Items = append(out.Items, f.items[pk][sk])
	}
	if end < len(sks) {
		out.LastEvaluatedKey = key(pk, sks[end-1])
	}
	return out, nil
}

func (f *fakeAPI) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   in.TableName,
		TableStatus: types.TableStatusActive,
	}}, nil
}

func (f *fakeAPI) CreateTable(context.Context, *dynamodb.CreateTableInput, ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	return nil, errors.New("not expected")
}

func TestPushPullRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewWithClient(newFakeAPI(), "budget")

	cat := core.Category{ID: core.NewID(), Name: "Restaurant"}
	tx := core.Transaction{
		ID:          core.NewID(),
		Description: "Dinner",
		Amount:      decimal.RequireFromString("42.10"),
		CreatedAt:   time.Date(2024, 2, 29, 19, 45, 0, 0, time.UTC),
		CategoryID:  cat.ID,
	}
	require.NoError(t, s.PushCategory(ctx, "u1", cat))
	require.NoError(t, s.PushTransaction(ctx, "u1", tx))

	cats, err := s.PullCategories(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cats.Items, 1)
	assert.Equal(t, cat.ID, cats.Items[0].ID)
	assert.Equal(t, cat.Name, cats.Items[0].Name)

	txs, err := s.PullTransactions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, txs.Items, 1)
	got := txs.Items[0]
	assert.Equal(t, tx.ID, got.ID)
	assert.Equal(t, tx.Description, got.Description)
	assert.Equal(t, tx.CategoryID, got.CategoryID)
	assert.True(t, got.Amount.Equal(tx.Amount))
	assert.True(t, got.CreatedAt.Equal(tx.CreatedAt))
}

func TestAmountStoredAsNumber(t *testing.T) {
	api := newFakeAPI()
	s := NewWithClient(api, "budget")
	require.NoError(t, s.PushTransaction(context.Background(), "u1", core.Transaction{
		ID: "t1", Description: "x", Amount: decimal.RequireFromString("3.5"), CreatedAt: time.Now(),
	}))

	item := api.items[remote.CollectionPath("u1", core.KindTransaction)]["t1"]
	n, ok := item["amount"].(*types.AttributeValueMemberN)
	require.True(t, ok, "amount should be a DynamoDB number")
	assert.Equal(t, "3.5", n.Value)
}

func TestPushTwiceKeepsOneItem(t *testing.T) {
	api := newFakeAPI()
	s := NewWithClient(api, "budget")
	cat := core.Category{ID: "c1", Name: "Gas"}
	require.NoError(t, s.PushCategory(context.Background(), "u1", cat))
	require.NoError(t, s.PushCategory(context.Background(), "u1", cat))
	assert.Len(t, api.items[remote.CollectionPath("u1", core.KindCategory)], 1)
}

func TestPullFollowsPagesAndSkipsMalformed(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	api.pageSize = 4
	s := NewWithClient(api, "budget")

	for i := 0; i < 9; i++ {
		require.NoError(t, s.PushTransaction(ctx, "u1", core.Transaction{
			ID:          fmt.Sprintf("t%d", i),
			Description: "ok",
			Amount:      decimal.NewFromInt(int64(i)),
			CreatedAt:   time.Now(),
		}))
	}
	pk := remote.CollectionPath("u1", core.KindTransaction)
	bad := key(pk, "t9-bad")
	bad["id"] = &types.AttributeValueMemberS{Value: "t9-bad"}
	bad["description"] = &types.AttributeValueMemberS{Value: "broken"}
	bad["amount"] = &types.AttributeValueMemberBOOL{Value: true}
	api.items[pk]["t9-bad"] = bad

	pull, err := s.PullTransactions(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, pull.Items, 9)
	require.Len(t, pull.Failures, 1)
	assert.Equal(t, "t9-bad", pull.Failures[0].DocumentID)
	assert.Equal(t, 3, api.queries)
}

func TestFetchCategoryAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewWithClient(newFakeAPI(), "budget")

	_, err := s.FetchCategory(ctx, "u1", "c1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, s.PushCategory(ctx, "u1", core.Category{ID: "c1", Name: "Gas"}))
	got, err := s.FetchCategory(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Gas", got.Name)

	require.NoError(t, s.Delete(ctx, "u1", core.KindCategory, "c1"))
	require.NoError(t, s.Delete(ctx, "u1", core.KindCategory, "c1"))
	_, err = s.FetchCategory(ctx, "u1", "c1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestProfileDocument(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	s := NewWithClient(api, "budget")

	ok, err := s.ProfileExists(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.CreateProfile(ctx, "u1", core.Profile{Name: core.DefaultProfileName}))
	ok, err = s.ProfileExists(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	name := api.items["users/u1/profile"]["profile"]["name"].(*types.AttributeValueMemberS)
	assert.Equal(t, "unname", name.Value)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class core.RemoteErrorClass
	}{
		{"expired token", &smithy.GenericAPIError{Code: "ExpiredTokenException"}, core.RemoteAuth},
		{"unknown client", &smithy.GenericAPIError{Code: "UnrecognizedClientException"}, core.RemoteAuth},
		{"throttled", &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException"}, core.RemoteNetwork},
		{"transport", errors.New("dial tcp: connection refused"), core.RemoteNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			api.err = tt.err
			s := NewWithClient(api, "budget")

			err := s.PushCategory(context.Background(), "u1", core.Category{ID: "c1", Name: "Gas"})
			var re *core.RemoteError
			require.True(t, errors.As(err, &re), "got %v", err)
			assert.Equal(t, tt.class, re.Class)
			assert.True(t, core.IsRetryable(err))
		})
	}
}

func TestEnsureTableExisting(t *testing.T) {
	s := NewWithClient(newFakeAPI(), "budget")
	assert.NoError(t, s.EnsureTable(context.Background()))
}
