package transaction

import (
	"fmt"
	"strings"
	"time"

	"github.com/pingcap-incubator/tinybundle/kv/transaction/bundle"
)

const (
	msgCommitted       = "Successfully committed requests to DB"
	msgTimeout         = "Transaction did not complete within the allotted execution time"
	msgStagingFailed   = "Failed to stage resources for transaction"
	msgBatchNotAllowed = "Batch is not supported"
)

// bundleError is a phase failure already classified for the caller.
type bundleError struct {
	kind    bundle.ErrorKind
	message string
	cause   error
}

func (e *bundleError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

func (e *bundleError) Cause() error {
	return e.cause
}

func (e *bundleError) response() bundle.BundleResponse {
	return bundle.Failure(e.kind, e.message)
}

func userError(message string) *bundleError {
	return &bundleError{kind: bundle.UserError, message: message}
}

func systemError(message string, cause error) *bundleError {
	return &bundleError{kind: bundle.SystemError, message: message, cause: cause}
}

func notFoundMessage(refs []string) string {
	return "Failed to find resources: " + strings.Join(refs, ", ")
}

func lockConflictMessage(lockDuration time.Duration) string {
	return fmt.Sprintf("Failed to lock resources for transaction. Please try again after %d seconds.", int(lockDuration.Seconds()))
}

func tooManyLocksMessage(limit int) string {
	return fmt.Sprintf("Cannot lock more than %d items in one transaction", limit)
}

func duplicateMessage(ref string) string {
	return fmt.Sprintf("Bundle references %s more than once", ref)
}
