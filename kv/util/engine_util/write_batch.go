package engine_util

import (
	"github.com/Connor1996/badger"
	"github.com/pingcap/errors"
)

// WriteBatch collects sets and deletes so they can be applied inside a single badger transaction.
type WriteBatch struct {
	entries []*badger.Entry
}

const (
	// CfItem holds one row per document version.
	CfItem string = "item"
)

func (wb *WriteBatch) Len() int {
	return len(wb.entries)
}

func (wb *WriteBatch) SetCF(cf string, key, val []byte) {
	wb.entries = append(wb.entries, &badger.Entry{
		Key:   KeyWithCF(cf, key),
		Value: val,
	})
}

// DeleteCF queues a delete. Entries without a value are deletes.
func (wb *WriteBatch) DeleteCF(cf string, key []byte) {
	wb.entries = append(wb.entries, &badger.Entry{
		Key: KeyWithCF(cf, key),
	})
}

// WriteToTxn applies the batch to an open read-write transaction. The caller commits.
func (wb *WriteBatch) WriteToTxn(txn *badger.Txn) error {
	for _, entry := range wb.entries {
		var err error
		if len(entry.Value) == 0 {
			err = txn.Delete(entry.Key)
		} else {
			err = txn.SetEntry(entry)
		}
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}
