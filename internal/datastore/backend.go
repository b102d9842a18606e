package datastore

import (
	"context"
	"fmt"
	"sort"

	"github.com/kalambet/jhm/internal/kvstore"
	"github.com/kalambet/jhm/internal/record"
	"github.com/kalambet/jhm/internal/storage"
)

// Backend is one storage engine the facade can delegate to.
type Backend interface {
	Name() string
	Put(ctx context.Context, collection string, rec record.Record) (string, error)
	Get(ctx context.Context, collection, key string) (record.Record, error)
	GetAll(ctx context.Context, collection string) ([]record.Record, error)
	Delete(ctx context.Context, collection, key string) error
}

var (
	_ Backend = (*storage.Store)(nil)
	_ Backend = (*kvBackend)(nil)
)

// metadataSlot holds metadata records as one object in the key-value store.
const metadataSlot = "metadata"

// kvBackend presents a kvstore.Store as a Backend. Record collections map to
// their array slots; settings live in the userSettings object and metadata
// in its own object slot.
type kvBackend struct {
	kv *kvstore.Store
}

func (b *kvBackend) Name() string { return ModeKeyValue }

func objectSlot(collection string) (string, bool) {
	switch collection {
	case record.Settings:
		return kvstore.SlotUserSettings, true
	case record.Metadata:
		return metadataSlot, true
	}
	return "", false
}

func (b *kvBackend) Put(ctx context.Context, collection string, rec record.Record) (string, error) {
	if err := record.Validate(collection, rec); err != nil {
		return "", err
	}
	slot, isObject := objectSlot(collection)
	if !isObject {
		return b.kv.PutRecord(collection, rec)
	}

	key := rec.Key(collection)
	obj, err := b.kv.LoadSettings(slot)
	if err != nil {
		return "", err
	}
	obj[key] = rec["value"]
	if err := b.kv.SaveSettings(slot, obj); err != nil {
		return "", err
	}
	return key, nil
}

func (b *kvBackend) Get(ctx context.Context, collection, key string) (record.Record, error) {
	if !record.IsCollection(collection) {
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownCollection, collection)
	}
	slot, isObject := objectSlot(collection)
	if !isObject {
		return b.kv.GetRecord(collection, key)
	}
	obj, err := b.kv.LoadSettings(slot)
	if err != nil {
		return nil, err
	}
	v, ok := obj[key]
	if !ok {
		return nil, nil
	}
	return record.Record{"key": key, "value": v}, nil
}

func (b *kvBackend) GetAll(ctx context.Context, collection string) ([]record.Record, error) {
	if !record.IsCollection(collection) {
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownCollection, collection)
	}
	slot, isObject := objectSlot(collection)
	if !isObject {
		return b.kv.LoadCollection(collection)
	}
	obj, err := b.kv.LoadSettings(slot)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]record.Record, 0, len(obj))
	for _, k := range keys {
		out = append(out, record.Record{"key": k, "value": obj[k]})
	}
	return out, nil
}

func (b *kvBackend) Delete(ctx context.Context, collection, key string) error {
	if !record.IsCollection(collection) {
		return fmt.Errorf("%w: %q", storage.ErrUnknownCollection, collection)
	}
	slot, isObject := objectSlot(collection)
	if !isObject {
		return b.kv.DeleteRecord(collection, key)
	}
	obj, err := b.kv.LoadSettings(slot)
	if err != nil {
		return err
	}
	if _, ok := obj[key]; !ok {
		return nil
	}
	delete(obj, key)
	if len(obj) == 0 {
		// SaveSettings keeps the old object when handed an empty one.
		return b.kv.RemoveItem(slot)
	}
	return b.kv.SaveSettings(slot, obj)
}
