package dynamo_storage

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pingcap/errors"
	"go.uber.org/zap"
)

const tableWaitTimeout = 5 * time.Minute

// Start connects to DynamoDB and creates the table when it does not exist yet.
func (s *DynamoStorage) Start() error {
	ctx := context.Background()
	if s.client == nil {
		client, err := newClient(ctx, s.conf.DynamoRegion, s.conf.DynamoEndpoint)
		if err != nil {
			return err
		}
		s.client = client
	}
	exists, err := s.tableExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return s.createTable(ctx)
	}
	s.logger.Info("dynamodb storage started", zap.String("table", *s.table))
	return nil
}

func (s *DynamoStorage) Stop() error {
	return nil
}

func newClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if endpoint != "" {
		opts = append(opts, awsconfig.WithEndpointResolver(aws.EndpointResolverFunc(
			func(service, region string) (aws.Endpoint, error) {
				return aws.Endpoint{URL: endpoint, SigningRegion: region}, nil
			})))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Annotate(err, "load aws config")
	}
	return dynamodb.NewFromConfig(cfg), nil
}

func (s *DynamoStorage) tableExists(ctx context.Context) (bool, error) {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: s.table})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if stderrors.As(err, &notFound) {
			return false, nil
		}
		return false, errors.Annotatef(err, "describe table %s", *s.table)
	}
	return true, nil
}

func (s *DynamoStorage) createTable(ctx context.Context) error {
	s.logger.Info("creating dynamodb table", zap.String("table", *s.table))
	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrID), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrVersionID), AttributeType: types.ScalarAttributeTypeN},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrID), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(attrVersionID), KeyType: types.KeyTypeRange},
		},
		TableName:   s.table,
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return errors.Annotatef(err, "create table %s", *s.table)
	}
	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: s.table}, tableWaitTimeout); err != nil {
		return errors.Annotatef(err, "wait for table %s", *s.table)
	}
	return nil
}
