package storage

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"
	"github.com/pingcap-incubator/tinybundle/kv/document"
	"github.com/pingcap-incubator/tinybundle/kv/util/codec"
	"github.com/pingcap/errors"
)

// MemStorage is a simple storage backed by memory for testing. Data is not written to disk. Batches are applied
// under a single mutex, which gives them the all-or-nothing visibility the coordinator relies on.
type MemStorage struct {
	mu    sync.RWMutex
	items *btree.BTree
}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		items: btree.New(8),
	}
}

func (ms *MemStorage) Start() error {
	return nil
}

func (ms *MemStorage) Stop() error {
	return nil
}

func (ms *MemStorage) MostRecent(ctx context.Context, resourceType, id string) (Lookup, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return PickLive(resourceType, ms.versions(id)), nil
}

func (ms *MemStorage) Write(ctx context.Context, batch []Request) error {
	if err := CheckBatch(batch); err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	// Check every condition before touching anything.
	for _, req := range batch {
		current := ms.get(req.Key())
		switch r := req.(type) {
		case Put:
			if err := r.Check(current); err != nil {
				return errors.Annotatef(err, "put %s", r.Key())
			}
		case Delete:
			if err := r.Check(current); err != nil {
				return errors.Annotatef(err, "delete %s", r.Key())
			}
		case UpdateStatus:
			if err := r.Check(current); err != nil {
				return errors.Annotatef(err, "update %s", r.Key())
			}
		}
	}

	for _, req := range batch {
		switch r := req.(type) {
		case Put:
			ms.set(r.Item)
		case Delete:
			ms.items.Delete(memItem{key: RowKey(r.Target)})
		case UpdateStatus:
			ms.set(r.Apply(*ms.get(r.Target)))
		}
	}
	return nil
}

func (ms *MemStorage) Read(ctx context.Context, batch []Get) ([]document.Item, error) {
	if len(batch) > MaxBatchSize {
		return nil, errors.Annotatef(ErrBatchTooLarge, "%d requests", len(batch))
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	result := make([]document.Item, 0, len(batch))
	for _, g := range batch {
		if item := ms.get(g.Target); item != nil {
			result = append(result, *item)
		}
	}
	return result, nil
}

// Set stores item directly, bypassing conditions. It is intended for seeding tests.
func (ms *MemStorage) Set(item document.Item) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.set(item)
}

// Get returns a copy of the row at key, or nil.
func (ms *MemStorage) Get(key document.Key) *document.Item {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.get(key)
}

// Versions returns every stored version of id, newest first.
func (ms *MemStorage) Versions(id string) []document.Item {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.versions(id)
}

func (ms *MemStorage) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.items.Len()
}

func (ms *MemStorage) set(item document.Item) {
	ms.items.ReplaceOrInsert(memItem{key: RowKey(item.Key()), item: item})
}

func (ms *MemStorage) get(key document.Key) *document.Item {
	found := ms.items.Get(memItem{key: RowKey(key)})
	if found == nil {
		return nil
	}
	item := found.(memItem).item
	return &item
}

func (ms *MemStorage) versions(id string) []document.Item {
	var result []document.Item
	prefix := codec.EncodeBytes([]byte(id))
	ms.items.AscendGreaterOrEqual(memItem{key: codec.SeekKey(id)}, func(i btree.Item) bool {
		mi := i.(memItem)
		if !bytes.HasPrefix(mi.key, prefix) || mi.item.ID != id {
			return false
		}
		result = append(result, mi.item)
		return true
	})
	return result
}

type memItem struct {
	key  []byte
	item document.Item
}

func (it memItem) Less(than btree.Item) bool {
	return bytes.Compare(it.key, than.(memItem).key) < 0
}
