package storage

import (
	"github.com/pingcap-incubator/tinybundle/kv/document"
)

// Request is the smallest unit of work sent to the store. The set of requests is closed: Put, Delete and
// UpdateStatus are writes, Get is a point read.
type Request interface {
	// Key is the version row the request touches.
	Key() document.Key
	request()
}

// Put writes a whole item. If RequireAbsent is set, the enclosing batch fails when the row already exists.
type Put struct {
	Item          document.Item
	RequireAbsent bool
}

// Delete removes one version row. Without Expected it is unconditional and deleting a missing row is not an error.
// With Expected, the enclosing batch fails unless the row exists in status *Expected.
type Delete struct {
	Target   document.Key
	Expected *document.Status
}

// UpdateStatus changes the status of an existing row. If Expected is not nil, the enclosing batch fails unless the
// row's current status equals *Expected. The batch always fails if the row does not exist. Only the status changes;
// every other field of the row, LastUpdated included, is left as it is.
type UpdateStatus struct {
	Target   document.Key
	Expected *document.Status
	Status   document.Status
}

// Get reads one version row.
type Get struct {
	Target document.Key
}

func (p Put) Key() document.Key          { return p.Item.Key() }
func (d Delete) Key() document.Key       { return d.Target }
func (u UpdateStatus) Key() document.Key { return u.Target }
func (g Get) Key() document.Key          { return g.Target }

func (Put) request()          {}
func (Delete) request()       {}
func (UpdateStatus) request() {}
func (Get) request()          {}

// Check evaluates the condition of u against the current row, which is nil when the row does not exist.
func (u UpdateStatus) Check(current *document.Item) error {
	if current == nil {
		return ErrConditionFailed
	}
	if u.Expected != nil && current.DocumentStatus != *u.Expected {
		return ErrConditionFailed
	}
	return nil
}

// Apply returns the row produced by applying u to current.
func (u UpdateStatus) Apply(current document.Item) document.Item {
	current.DocumentStatus = u.Status
	return current
}

// Check evaluates the condition of p against the current row, which is nil when the row does not exist.
func (p Put) Check(current *document.Item) error {
	if p.RequireAbsent && current != nil {
		return ErrConditionFailed
	}
	return nil
}

// Check evaluates the condition of d against the current row, which is nil when the row does not exist.
func (d Delete) Check(current *document.Item) error {
	if d.Expected == nil {
		return nil
	}
	if current == nil || current.DocumentStatus != *d.Expected {
		return ErrConditionFailed
	}
	return nil
}
