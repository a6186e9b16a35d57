package document

// Status is the lifecycle state of one stored version of a resource. It is the only concurrency control signal
// embedded in a row: transactions move rows between statuses with conditional writes.
type Status string

const (
	// StatusAvailable is a committed version, visible to readers.
	StatusAvailable Status = "AVAILABLE"
	// StatusPending is a version written by an in-flight transaction, not yet committed.
	StatusPending Status = "PENDING"
	// StatusLocked is an existing version reserved by an in-flight transaction.
	StatusLocked Status = "LOCKED"
	// StatusPendingDelete is a version marked for deletion by an in-flight transaction.
	StatusPendingDelete Status = "PENDING_DELETE"
	// StatusDeleted is terminal: the version was superseded or removed.
	StatusDeleted Status = "DELETED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusPending, StatusLocked, StatusPendingDelete, StatusDeleted:
		return true
	}
	return false
}

// Live reports whether a version in this status represents the current state of its resource.
func (s Status) Live() bool {
	return s == StatusAvailable || s == StatusLocked || s == StatusPendingDelete
}

func (s Status) String() string {
	return string(s)
}

// Ptr is a helper for building conditional writes.
func (s Status) Ptr() *Status {
	return &s
}
