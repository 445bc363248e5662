package gallery

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zerverless/studio/internal/db"
)

const (
	SystemNamespace = "studio/"
	galleryKey      = "gallery"
)

// BadgerPersister keeps the serialized gallery under a single badger key.
type BadgerPersister struct {
	dbStore *db.Store
}

func NewBadgerPersister(dbStore *db.Store) *BadgerPersister {
	return &BadgerPersister{dbStore: dbStore}
}

func (p *BadgerPersister) Load() ([]Item, error) {
	data, err := p.dbStore.Get(SystemNamespace, galleryKey)
	if errors.Is(err, db.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get gallery: %w", err)
	}

	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("unmarshal gallery: %w", err)
	}
	return items, nil
}

func (p *BadgerPersister) Save(items []Item) error {
	if items == nil {
		items = []Item{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal gallery: %w", err)
	}
	if err := p.dbStore.Set(SystemNamespace, galleryKey, data); err != nil {
		return fmt.Errorf("store gallery: %w", err)
	}
	return nil
}

var _ Persister = (*BadgerPersister)(nil)
