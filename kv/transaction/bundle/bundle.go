// Package bundle holds the types exchanged with callers of the transaction coordinator: the ordered operations of a
// bundle, the envelope returned for each of them and the overall result.
package bundle

import (
	"encoding/json"
	"time"
)

type Operation string

const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Writes reports whether the operation produces a new version row.
func (op Operation) Writes() bool {
	return op == OperationCreate || op == OperationUpdate
}

// OperationRequest is one entry of a bundle. ID is required for read, update and delete; it is minted for create when
// empty. Resource carries the full document for create and update.
type OperationRequest struct {
	Operation    Operation       `json:"operation"`
	ResourceType string          `json:"resourceType"`
	ID           string          `json:"id,omitempty"`
	Resource     json.RawMessage `json:"resource,omitempty"`
}

// ResponseEnvelope is returned for each operation of the bundle, in input order.
type ResponseEnvelope struct {
	ID           string          `json:"id"`
	VersionID    string          `json:"vid"`
	Operation    Operation       `json:"operation"`
	LastModified string          `json:"lastModified"`
	ResourceType string          `json:"resourceType"`
	Resource     json.RawMessage `json:"resource,omitempty"`
}

// LockRecord tracks one row reserved or written by the in-flight transaction.
type LockRecord struct {
	ID           string
	VersionID    string
	ResourceType string
	Operation    Operation
	// IsOriginalUpdateItem marks the version superseded by an update. It ends as DELETED on commit.
	IsOriginalUpdateItem bool
}

// BundleRequest is an ordered list of operations and the time the caller started processing it. The execution time
// budget is measured from StartTime.
type BundleRequest struct {
	Operations []OperationRequest `json:"operations"`
	StartTime  time.Time          `json:"-"`
}

type ErrorKind string

const (
	UserError   ErrorKind = "USER_ERROR"
	SystemError ErrorKind = "SYSTEM_ERROR"
)

// BundleResponse is the verdict of one bundle. ErrorKind is empty on success.
type BundleResponse struct {
	Success   bool               `json:"success"`
	Message   string             `json:"message"`
	Responses []ResponseEnvelope `json:"batchReadWriteResponses"`
	ErrorKind ErrorKind          `json:"errorType,omitempty"`
}

func Failure(kind ErrorKind, message string) BundleResponse {
	return BundleResponse{Message: message, Responses: []ResponseEnvelope{}, ErrorKind: kind}
}
