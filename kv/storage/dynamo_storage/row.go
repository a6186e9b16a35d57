package dynamo_storage

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pingcap-incubator/tinybundle/kv/document"
	"github.com/pingcap/errors"
)

// Attribute names of the resource table. The table is keyed by (id, vid) with vid a number, so a query on id with
// ScanIndexForward false walks versions newest first.
const (
	attrID             = "id"
	attrVersionID      = "vid"
	attrResourceType   = "resourceType"
	attrDocumentStatus = "documentStatus"
	attrResource       = "resource"
	attrLastUpdated    = "lastUpdated"
)

// row is the DynamoDB shape of a document.Item.
type row struct {
	ID             string `dynamodbav:"id"`
	VersionID      uint64 `dynamodbav:"vid"`
	ResourceType   string `dynamodbav:"resourceType"`
	DocumentStatus string `dynamodbav:"documentStatus"`
	Resource       string `dynamodbav:"resource"`
	LastUpdated    string `dynamodbav:"lastUpdated"`
}

func marshalItem(item document.Item) (map[string]types.AttributeValue, error) {
	version, err := document.ParseVersion(item.VersionID)
	if err != nil {
		return nil, err
	}
	r := row{
		ID:             item.ID,
		VersionID:      version,
		ResourceType:   item.ResourceType,
		DocumentStatus: string(item.DocumentStatus),
		Resource:       string(item.Resource),
		LastUpdated:    formatTime(item.LastUpdated),
	}
	av, err := attributevalue.MarshalMap(r)
	if err != nil {
		return nil, errors.Annotatef(err, "marshal %s", item.Key())
	}
	return av, nil
}

func unmarshalItem(av map[string]types.AttributeValue) (document.Item, error) {
	var r row
	if err := attributevalue.UnmarshalMap(av, &r); err != nil {
		return document.Item{}, errors.Trace(err)
	}
	item := document.Item{
		ID:             r.ID,
		VersionID:      strconv.FormatUint(r.VersionID, 10),
		ResourceType:   r.ResourceType,
		DocumentStatus: document.Status(r.DocumentStatus),
	}
	if r.Resource != "" {
		item.Resource = json.RawMessage(r.Resource)
	}
	if r.LastUpdated != "" {
		t, err := time.Parse(time.RFC3339Nano, r.LastUpdated)
		if err != nil {
			return document.Item{}, errors.Annotatef(err, "%s lastUpdated", item.Key())
		}
		item.LastUpdated = t
	}
	return item, nil
}

func primaryKey(key document.Key) (map[string]types.AttributeValue, error) {
	if _, err := document.ParseVersion(key.VersionID); err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{
		attrID:        &types.AttributeValueMemberS{Value: key.ID},
		attrVersionID: &types.AttributeValueMemberN{Value: key.VersionID},
	}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
