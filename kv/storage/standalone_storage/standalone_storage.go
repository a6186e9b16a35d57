package standalone_storage

import (
	"context"
	"sync"

	"github.com/Connor1996/badger"
	"github.com/pingcap-incubator/tinybundle/kv/config"
	"github.com/pingcap-incubator/tinybundle/kv/document"
	"github.com/pingcap-incubator/tinybundle/kv/storage"
	"github.com/pingcap-incubator/tinybundle/kv/util/codec"
	"github.com/pingcap-incubator/tinybundle/kv/util/engine_util"
	"github.com/pingcap/errors"
	"go.uber.org/zap"
)

// StandAloneStorage is an implementation of `Storage` for a single node. All data is stored locally in one badger DB,
// one key per version row in the item column family.
type StandAloneStorage struct {
	conf   *config.Config
	logger *zap.Logger
	db     *badger.DB
	// writeMu serializes conditional batches: conditions are evaluated and applied under it.
	writeMu sync.Mutex
}

func NewStandAloneStorage(conf *config.Config, logger *zap.Logger) *StandAloneStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StandAloneStorage{conf: conf, logger: logger}
}

func (s *StandAloneStorage) Start() error {
	db, err := engine_util.CreateDB(s.conf.DBPath, s.conf.Engine)
	if err != nil {
		return err
	}
	s.db = db
	s.logger.Info("standalone storage started", zap.String("path", s.conf.DBPath))
	return nil
}

func (s *StandAloneStorage) Stop() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return errors.WithStack(err)
}

func (s *StandAloneStorage) MostRecent(ctx context.Context, resourceType, id string) (storage.Lookup, error) {
	if err := ctx.Err(); err != nil {
		return storage.Lookup{}, err
	}
	var versions []document.Item
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := codec.EncodeBytes([]byte(id))
		return engine_util.ScanPrefix(txn, engine_util.CfItem, prefix, func(key, val []byte) (bool, error) {
			_, keyID, err := codec.DecodeBytes(key)
			if err != nil {
				return false, errors.Annotatef(err, "decode key %x", key)
			}
			if string(keyID) != id {
				return false, nil
			}
			item, err := document.ParseItem(val)
			if err != nil {
				return false, errors.Annotatef(err, "decode %x", key)
			}
			if item == nil {
				return true, nil
			}
			versions = append(versions, *item)
			// Only pending rows can precede the deciding one.
			return item.DocumentStatus == document.StatusPending, nil
		})
	})
	if err != nil {
		return storage.Lookup{}, err
	}
	return storage.PickLive(resourceType, versions), nil
}

func (s *StandAloneStorage) Write(ctx context.Context, batch []storage.Request) error {
	if err := storage.CheckBatch(batch); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		wb := new(engine_util.WriteBatch)
		for _, req := range batch {
			current, err := getItem(txn, req.Key())
			if err != nil {
				return err
			}
			switch r := req.(type) {
			case storage.Put:
				if err := r.Check(current); err != nil {
					return errors.Annotatef(err, "put %s", r.Key())
				}
				if err := setItem(wb, r.Item); err != nil {
					return err
				}
			case storage.Delete:
				if err := r.Check(current); err != nil {
					return errors.Annotatef(err, "delete %s", r.Key())
				}
				wb.DeleteCF(engine_util.CfItem, storage.RowKey(r.Target))
			case storage.UpdateStatus:
				if err := r.Check(current); err != nil {
					return errors.Annotatef(err, "update %s", r.Key())
				}
				if err := setItem(wb, r.Apply(*current)); err != nil {
					return err
				}
			}
		}
		if wb.Len() == 0 {
			return nil
		}
		// Nothing is written unless every condition held.
		return wb.WriteToTxn(txn)
	})
}

func (s *StandAloneStorage) Read(ctx context.Context, batch []storage.Get) ([]document.Item, error) {
	if len(batch) > storage.MaxBatchSize {
		return nil, errors.Annotatef(storage.ErrBatchTooLarge, "%d requests", len(batch))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := make([]document.Item, 0, len(batch))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, g := range batch {
			item, err := getItem(txn, g.Target)
			if err != nil {
				return err
			}
			if item != nil {
				result = append(result, *item)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func getItem(txn *badger.Txn, key document.Key) (*document.Item, error) {
	val, err := engine_util.GetCFFromTxn(txn, engine_util.CfItem, storage.RowKey(key))
	if err != nil {
		return nil, err
	}
	return document.ParseItem(val)
}

func setItem(wb *engine_util.WriteBatch, item document.Item) error {
	val, err := item.ToBytes()
	if err != nil {
		return err
	}
	wb.SetCF(engine_util.CfItem, storage.RowKey(item.Key()), val)
	return nil
}
