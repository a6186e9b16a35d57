package engine_util

import (
	"testing"

	"github.com/Connor1996/badger"
	"github.com/pingcap-incubator/tinybundle/kv/config"
	"github.com/stretchr/testify/require"
)

func TestEngineUtil(t *testing.T) {
	db, err := CreateDB(t.TempDir(), config.NewTestConfig().Engine)
	require.Nil(t, err)
	defer db.Close()

	batch := new(WriteBatch)
	batch.SetCF(CfItem, []byte("a"), []byte("a1"))
	batch.SetCF(CfItem, []byte("ab"), []byte("ab1"))
	batch.SetCF(CfItem, []byte("b"), []byte("b1"))
	batch.SetCF("other", []byte("a"), []byte("x"))
	batch.SetCF(CfItem, []byte("e"), []byte("e1"))
	require.Equal(t, 5, batch.Len())
	require.Nil(t, db.Update(batch.WriteToTxn))

	deletes := new(WriteBatch)
	deletes.DeleteCF(CfItem, []byte("e"))
	require.Nil(t, db.Update(deletes.WriteToTxn))

	err = db.View(func(txn *badger.Txn) error {
		val, err := GetCFFromTxn(txn, CfItem, []byte("e"))
		require.Nil(t, err)
		require.Nil(t, val)
		val, err = GetCFFromTxn(txn, "other", []byte("a"))
		require.Nil(t, err)
		require.Equal(t, []byte("x"), val)

		it := NewCFIterator(CfItem, txn)
		defer it.Close()
		var keys []string
		for it.Seek([]byte("a")); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()))
		}
		require.Equal(t, []string{"a", "ab", "b"}, keys)

		var scanned []string
		err = ScanPrefix(txn, CfItem, []byte("a"), func(key, val []byte) (bool, error) {
			scanned = append(scanned, string(key)+"="+string(val))
			return true, nil
		})
		require.Equal(t, []string{"a=a1", "ab=ab1"}, scanned)

		var first []string
		err2 := ScanPrefix(txn, CfItem, []byte("a"), func(key, val []byte) (bool, error) {
			first = append(first, string(key))
			return false, nil
		})
		require.Nil(t, err2)
		require.Equal(t, []string{"a"}, first)
		return err
	})
	require.Nil(t, err)
}
