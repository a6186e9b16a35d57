package engine_util

import (
	"bytes"

	"github.com/Connor1996/badger"
	"github.com/pingcap/errors"
)

// KeyWithCF prefixes key with its column family. Badger has no column families, so every family is a key prefix in
// the same keyspace.
func KeyWithCF(cf string, key []byte) []byte {
	return append([]byte(cf+"_"), key...)
}

// GetCFFromTxn returns a copy of the value stored under key. A missing key gives (nil, nil).
func GetCFFromTxn(txn *badger.Txn, cf string, key []byte) (val []byte, err error) {
	item, err := txn.Get(KeyWithCF(cf, key))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	val, err = item.ValueCopy(val)
	return
}

// ScanPrefix calls fn for every key of cf starting with prefix, in key order, until fn returns false or an error.
func ScanPrefix(txn *badger.Txn, cf string, prefix []byte, fn func(key, val []byte) (bool, error)) error {
	it := NewCFIterator(cf, txn)
	defer it.Close()
	for it.Seek(prefix); it.Valid(); it.Next() {
		item := it.Item()
		if !bytes.HasPrefix(item.Key(), prefix) {
			break
		}
		val, err := item.Value()
		if err != nil {
			return errors.WithStack(err)
		}
		more, err := fn(item.KeyCopy(nil), val)
		if err != nil || !more {
			return err
		}
	}
	return nil
}
