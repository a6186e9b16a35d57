package dynamo_storage

import (
	"context"
	stderrors "errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pingcap-incubator/tinybundle/kv/config"
	"github.com/pingcap-incubator/tinybundle/kv/document"
	"github.com/pingcap-incubator/tinybundle/kv/storage"
	"github.com/pingcap/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client is the part of the DynamoDB API the store uses. *dynamodb.Client implements it.
type Client interface {
	dynamodb.QueryAPIClient
	dynamodb.DescribeTableAPIClient
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	TransactGetItems(ctx context.Context, params *dynamodb.TransactGetItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactGetItemsOutput, error)
}

// DynamoStorage keeps every version row as one item of a DynamoDB table. Batches map onto TransactWriteItems and
// TransactGetItems, conditions onto condition expressions.
type DynamoStorage struct {
	conf   *config.Config
	logger *zap.Logger
	client Client
	table  *string
	// limiter is nil when calls are not rate limited.
	limiter *rate.Limiter
}

// NewDynamoStorage creates a store for conf.DynamoTable. If client is nil, Start builds one from the default AWS
// configuration, conf.DynamoRegion and conf.DynamoEndpoint.
func NewDynamoStorage(conf *config.Config, client Client, logger *zap.Logger) *DynamoStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &DynamoStorage{
		conf:   conf,
		logger: logger,
		client: client,
		table:  aws.String(conf.DynamoTable),
	}
	if conf.DynamoRateLimit > 0 {
		burst := int(conf.DynamoRateLimit)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(conf.DynamoRateLimit), burst)
	}
	return s
}

// wait blocks until the rate limiter admits one more call.
func (s *DynamoStorage) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return errors.Trace(s.limiter.Wait(ctx))
}

func (s *DynamoStorage) MostRecent(ctx context.Context, resourceType, id string) (storage.Lookup, error) {
	keyCond := expression.Key(attrID).Equal(expression.Value(id))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return storage.Lookup{}, errors.Trace(err)
	}
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 s.table,
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
		ConsistentRead:            aws.Bool(true),
	})

	var versions []document.Item
	for paginator.HasMorePages() {
		if err := s.wait(ctx); err != nil {
			return storage.Lookup{}, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return storage.Lookup{}, errors.Annotatef(err, "query %s", id)
		}
		for _, av := range page.Items {
			item, err := unmarshalItem(av)
			if err != nil {
				return storage.Lookup{}, err
			}
			versions = append(versions, item)
			if item.DocumentStatus != document.StatusPending {
				return storage.PickLive(resourceType, versions), nil
			}
		}
	}
	return storage.PickLive(resourceType, versions), nil
}

func (s *DynamoStorage) Write(ctx context.Context, batch []storage.Request) error {
	if err := storage.CheckBatch(batch); err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	items := make([]types.TransactWriteItem, 0, len(batch))
	for _, req := range batch {
		item, err := s.transactWriteItem(req)
		if err != nil {
			return err
		}
		items = append(items, item)
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return translateWriteError(err)
	}
	return nil
}

func (s *DynamoStorage) transactWriteItem(req storage.Request) (types.TransactWriteItem, error) {
	switch r := req.(type) {
	case storage.Put:
		av, err := marshalItem(r.Item)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		put := &types.Put{TableName: s.table, Item: av}
		if r.RequireAbsent {
			expr, err := expression.NewBuilder().WithCondition(expression.AttributeNotExists(expression.Name(attrID))).Build()
			if err != nil {
				return types.TransactWriteItem{}, errors.Trace(err)
			}
			put.ConditionExpression = expr.Condition()
			put.ExpressionAttributeNames = expr.Names()
		}
		return types.TransactWriteItem{Put: put}, nil

	case storage.Delete:
		key, err := primaryKey(r.Target)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		del := &types.Delete{TableName: s.table, Key: key}
		if r.Expected != nil {
			cond := expression.AttributeExists(expression.Name(attrID)).
				And(expression.Name(attrDocumentStatus).Equal(expression.Value(string(*r.Expected))))
			expr, err := expression.NewBuilder().WithCondition(cond).Build()
			if err != nil {
				return types.TransactWriteItem{}, errors.Trace(err)
			}
			del.ConditionExpression = expr.Condition()
			del.ExpressionAttributeNames = expr.Names()
			del.ExpressionAttributeValues = expr.Values()
		}
		return types.TransactWriteItem{Delete: del}, nil

	case storage.UpdateStatus:
		key, err := primaryKey(r.Target)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		update := expression.Set(expression.Name(attrDocumentStatus), expression.Value(string(r.Status)))
		cond := expression.AttributeExists(expression.Name(attrID))
		if r.Expected != nil {
			cond = cond.And(expression.Name(attrDocumentStatus).Equal(expression.Value(string(*r.Expected))))
		}
		expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
		if err != nil {
			return types.TransactWriteItem{}, errors.Trace(err)
		}
		return types.TransactWriteItem{Update: &types.Update{
			TableName:                 s.table,
			Key:                       key,
			UpdateExpression:          expr.Update(),
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}}, nil
	}
	return types.TransactWriteItem{}, errors.Errorf("unsupported write request %T", req)
}

// translateWriteError maps a cancelled transaction caused by a failed condition or a concurrent transaction to
// storage.ErrConditionFailed. DynamoDB applies nothing of a cancelled transaction.
func translateWriteError(err error) error {
	var canceled *types.TransactionCanceledException
	if stderrors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			switch aws.ToString(reason.Code) {
			case "ConditionalCheckFailed", "TransactionConflict":
				return errors.Annotate(storage.ErrConditionFailed, canceled.ErrorMessage())
			}
		}
	}
	return errors.Annotate(err, "transact write")
}

func (s *DynamoStorage) Read(ctx context.Context, batch []storage.Get) ([]document.Item, error) {
	if len(batch) > storage.MaxBatchSize {
		return nil, errors.Annotatef(storage.ErrBatchTooLarge, "%d requests", len(batch))
	}
	if len(batch) == 0 {
		return []document.Item{}, nil
	}
	gets := make([]types.TransactGetItem, 0, len(batch))
	for _, g := range batch {
		key, err := primaryKey(g.Target)
		if err != nil {
			return nil, err
		}
		gets = append(gets, types.TransactGetItem{Get: &types.Get{TableName: s.table, Key: key}})
	}
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	out, err := s.client.TransactGetItems(ctx, &dynamodb.TransactGetItemsInput{TransactItems: gets})
	if err != nil {
		return nil, errors.Annotate(err, "transact get")
	}
	result := make([]document.Item, 0, len(out.Responses))
	for _, resp := range out.Responses {
		if len(resp.Item) == 0 {
			continue
		}
		item, err := unmarshalItem(resp.Item)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, nil
}
